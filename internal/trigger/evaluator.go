// Package trigger evaluates workflow trigger conditions against model
// lifecycle events.
package trigger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/LinkingMx/Law-sub002/model"
)

// Evaluate reports whether the event satisfies the workflow's trigger
// conditions. An empty condition list matches every event. Clauses combine
// left to right using each clause's combinator; an unset combinator defaults
// to AND.
//
// A malformed clause returns an error; the caller records it and treats the
// workflow as not matched.
func Evaluate(conditions []model.TriggerCondition, event *model.ModelEvent) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	result, err := evaluateClause(conditions[0], event)
	if err != nil {
		return false, err
	}

	for _, cond := range conditions[1:] {
		clause, err := evaluateClause(cond, event)
		if err != nil {
			return false, err
		}
		switch cond.Combinator {
		case model.CombinatorOr:
			result = result || clause
		case model.CombinatorAnd, "":
			result = result && clause
		default:
			return false, fmt.Errorf("trigger: unknown combinator %q", cond.Combinator)
		}
	}
	return result, nil
}

// evaluateClause evaluates a single condition against the event snapshot.
func evaluateClause(cond model.TriggerCondition, event *model.ModelEvent) (bool, error) {
	if cond.Field == "" {
		return false, fmt.Errorf("trigger: condition has no field")
	}

	if cond.Operator == model.OperatorChanged {
		return event.WasChanged(cond.Field), nil
	}

	actual := navigatePath(event.Snapshot, cond.Field)

	switch cond.Operator {
	case model.OperatorEquals:
		return looseEqual(actual, cond.Value), nil
	case model.OperatorNotEquals:
		return !looseEqual(actual, cond.Value), nil
	case model.OperatorContains:
		return contains(actual, cond.Value), nil
	case model.OperatorGreaterThan:
		return greaterThan(actual, cond.Value)
	default:
		return false, fmt.Errorf("trigger: unknown operator %q on field %q", cond.Operator, cond.Field)
	}
}

// navigatePath navigates a dot-separated path through nested maps.
func navigatePath(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// looseEqual compares two values with numeric coercion so that JSON numbers
// (float64) compare equal to integer condition values.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// contains reports substring match for strings and membership for slices.
func contains(actual, want any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, fmt.Sprint(want))
	case []any:
		for _, item := range v {
			if looseEqual(item, want) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range v {
			if item == fmt.Sprint(want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// greaterThan compares numerically when both values coerce to numbers,
// otherwise errors: a type mismatch is a configuration problem, not a
// non-match.
func greaterThan(actual, want any) (bool, error) {
	af, aok := toFloat(actual)
	bf, bok := toFloat(want)
	if !aok || !bok {
		return false, fmt.Errorf("trigger: greater_than needs numeric operands, got %T and %T", actual, want)
	}
	return af > bf, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
