package domain

import (
	"database/sql"
	"time"
)

type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobClaimed JobStatus = "CLAIMED"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
)

// Job is a pending delivery of Advance for one instance.
type Job struct {
	ID         string         // TEXT (uuid)
	InstanceID string         // TEXT
	ExecuteAt  time.Time      // TIMESTAMP
	Status     JobStatus      // TEXT
	ExecutorID sql.NullInt64  // BIGINT (foreign key to executors.id)
	RetryCount int            // INT
	LastError  sql.NullString // TEXT
	Created    time.Time      // TIMESTAMP
	Modified   time.Time      // TIMESTAMP
}
