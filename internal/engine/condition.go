package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// Evaluate checks cond against record. It never panics on odd data: whenever
// the operands do not fit the operator the result is false and the returned
// *ConditionEvaluationError explains why.
func Evaluate(record map[string]any, cond domain.Condition) (bool, error) {
	value, present := lookup(record, cond.Field)
	fail := func(format string, args ...any) (bool, error) {
		return false, &ConditionEvaluationError{Operator: cond.Operator, Field: cond.Field, Reason: fmt.Sprintf(format, args...)}
	}

	switch cond.Operator {
	case domain.OpEquals:
		return valuesEqual(value, cond.Value), nil
	case domain.OpNotEquals:
		return !valuesEqual(value, cond.Value), nil

	case domain.OpGreaterThan, domain.OpLessThan:
		if !present {
			return fail("field is missing")
		}
		cmp, ok := compare(value, cond.Value)
		if !ok {
			return fail("cannot order %T against %T", value, cond.Value)
		}
		if cond.Operator == domain.OpGreaterThan {
			return cmp > 0, nil
		}
		return cmp < 0, nil

	case domain.OpContains, domain.OpNotContains, domain.OpStartsWith, domain.OpEndsWith:
		if !present {
			return fail("field is missing")
		}
		s, ok := value.(string)
		if !ok {
			return fail("field is %T, not a string", value)
		}
		needle, ok := cond.Value.(string)
		if !ok {
			return fail("condition value is %T, not a string", cond.Value)
		}
		switch cond.Operator {
		case domain.OpContains:
			return strings.Contains(s, needle), nil
		case domain.OpNotContains:
			return !strings.Contains(s, needle), nil
		case domain.OpStartsWith:
			return strings.HasPrefix(s, needle), nil
		default:
			return strings.HasSuffix(s, needle), nil
		}

	case domain.OpIsEmpty:
		return isEmpty(value, present), nil
	case domain.OpIsNotEmpty:
		return !isEmpty(value, present), nil
	}
	return fail("unknown operator")
}

// lookup resolves field in record, following dots into nested maps when the
// literal key is absent.
func lookup(record map[string]any, field string) (any, bool) {
	if v, ok := record[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	var cur any = record
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func valuesEqual(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two numbers or two strings.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isEmpty(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	switch x := v.(type) {
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}
