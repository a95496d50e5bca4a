package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

const DefaultCounterLimit int64 = 200

// OverflowGuard caps how many advances an instance may take, which is what
// stops a cyclic step graph from running forever.
type OverflowGuard struct {
	DefaultLimit int64
}

// Limit reads counter_limit from the context; missing, zero or unreadable
// values fall back to the default.
func (g OverflowGuard) Limit(vars map[string]any) int64 {
	if l, ok := toInt64(vars[domain.ContextCounterLimit]); ok && l > 0 {
		return l
	}
	if g.DefaultLimit > 0 {
		return g.DefaultLimit
	}
	return DefaultCounterLimit
}

// Check returns the counter value this advance would record, and
// ErrOverflowExceeded when recording it breaks the limit.
func (g OverflowGuard) Check(inst *domain.WorkflowInstance) (int64, error) {
	next := Counter(inst.Context) + 1
	if limit := g.Limit(inst.Context); next > limit {
		return next, fmt.Errorf("%w: counter %d, limit %d", ErrOverflowExceeded, next, limit)
	}
	return next, nil
}

// Counter reads the reserved counter key, treating anything unreadable as 0.
func Counter(vars map[string]any) int64 {
	c, _ := toInt64(vars[domain.ContextCounter])
	return c
}

func setCounter(inst *domain.WorkflowInstance, v int64) {
	if inst.Context == nil {
		inst.Context = make(map[string]any)
	}
	inst.Context[domain.ContextCounter] = v
}

// toInt64 accepts every numeric shape a context value can take after a trip
// through JSON, YAML or Go callers.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
