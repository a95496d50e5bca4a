package engine

import (
	"time"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// WaitCalculator turns wait steps into absolute deadlines.
type WaitCalculator struct {
	clock core.Clock
}

func NewWaitCalculator(clock core.Clock) *WaitCalculator {
	return &WaitCalculator{clock: core.OrReal(clock)}
}

// FromDuration returns now + value*unit. An unknown unit means no wait and
// waits longer than domain.MaxWait are cut to it.
func (w *WaitCalculator) FromDuration(unit domain.WaitUnit, value float64) time.Time {
	now := w.clock.Now()
	ms := value * float64(unit.Millis())
	if !(ms > 0) {
		return now
	}
	if ms > float64(domain.MaxWait.Milliseconds()) {
		return now.Add(domain.MaxWait)
	}
	return now.Add(time.Duration(ms) * time.Millisecond)
}

func (w *WaitCalculator) FromTimestamp(t time.Time) time.Time {
	return t
}
