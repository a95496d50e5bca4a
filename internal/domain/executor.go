package domain

import "time"

// Executor is one running process that claims scheduler jobs. LastActive is
// its heartbeat; claims held by executors that stopped beating get repaired.
type Executor struct {
	ID         int64     // BIGSERIAL
	Name       string    // TEXT
	Started    time.Time // TIMESTAMP
	LastActive time.Time // TIMESTAMP
}
