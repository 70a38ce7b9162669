package targeting

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Criteria is a declarative boolean expression over conversation state.
// Top-level keys are either logical operators ($and, $or, $not) or field
// paths; multiple keys AND together. A field's value is either a scalar
// (implicit $eq) or a map of comparison operators to operands.
type Criteria map[string]any

// Evaluator evaluates criteria against a state lookup. The random source
// behind percentage gates is injectable for tests.
type Evaluator struct {
	Random func() float64
}

// Eval returns whether the criteria are satisfied by the state. A nil or
// empty criteria object is satisfied. Malformed criteria fail with an
// error, never a panic.
func (e *Evaluator) Eval(criteria Criteria, state *State) (bool, error) {
	for key, value := range criteria {
		ok, err := e.evalClause(key, value, state)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Evaluator) evalClause(key string, value any, state *State) (bool, error) {
	switch key {
	case "$and":
		clauses, err := subCriteria(key, value)
		if err != nil {
			return false, err
		}
		for _, clause := range clauses {
			ok, err := e.Eval(clause, state)
			if err != nil || !ok {
				return ok, err
			}
		}
		return true, nil
	case "$or":
		clauses, err := subCriteria(key, value)
		if err != nil {
			return false, err
		}
		for _, clause := range clauses {
			ok, err := e.Eval(clause, state)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "$not":
		clause, ok := value.(map[string]any)
		if !ok {
			return false, fmt.Errorf("targeting: $not requires an object, got %T", value)
		}
		result, err := e.Eval(Criteria(clause), state)
		if err != nil {
			return false, err
		}
		return !result, nil
	default:
		return e.evalField(key, value, state)
	}
}

func (e *Evaluator) evalField(path string, condition any, state *State) (bool, error) {
	field, found := e.resolve(path, state)

	ops, isOps := condition.(map[string]any)
	if !isOps {
		// Scalar condition is an implicit $eq.
		return compare("$eq", field, condition, found)
	}
	for op, operand := range ops {
		ok, err := compare(op, field, operand, found)
		if err != nil {
			return false, fmt.Errorf("targeting: field %q: %w", path, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Evaluator) resolve(path string, state *State) (any, bool) {
	if path == "random/percent" || strings.HasPrefix(path, "random/") {
		random := e.Random
		if random == nil {
			random = defaultRandom
		}
		return random() * 100, true
	}
	return state.Value(path)
}

func subCriteria(op string, value any) ([]Criteria, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("targeting: %s requires an array, got %T", op, value)
	}
	clauses := make([]Criteria, 0, len(list))
	for _, item := range list {
		clause, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("targeting: %s elements must be objects, got %T", op, item)
		}
		clauses = append(clauses, Criteria(clause))
	}
	return clauses, nil
}

func compare(op string, field, operand any, found bool) (bool, error) {
	if op == "$exists" {
		want, ok := operand.(bool)
		if !ok {
			return false, fmt.Errorf("$exists requires a boolean operand, got %T", operand)
		}
		return found == want, nil
	}
	if !found {
		// A missing field satisfies only inequality against a present value.
		return op == "$ne", nil
	}

	switch op {
	case "$eq":
		return valuesEqual(field, operand), nil
	case "$ne":
		return !valuesEqual(field, operand), nil
	case "$gt", "$gte", "$lt", "$lte", "$before", "$after":
		return compareOrdered(op, field, operand)
	case "$contains":
		fieldStr, ok1 := field.(string)
		operandStr, ok2 := operand.(string)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("$contains requires strings, got %T and %T", field, operand)
		}
		return strings.Contains(strings.ToLower(fieldStr), strings.ToLower(operandStr)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func valuesEqual(field, operand any) bool {
	if fn, ok := toFloat(field); ok {
		if on, ok := toFloat(operand); ok {
			return fn == on
		}
		return false
	}
	if ft, ok := toTime(field); ok {
		if ot, ok := toTime(operand); ok {
			return ft.Equal(ot)
		}
		return false
	}
	return field == operand
}

func compareOrdered(op string, field, operand any) (bool, error) {
	if ft, ok := field.(time.Time); ok {
		ot, ok := toTime(operand)
		if !ok {
			return false, fmt.Errorf("%s requires a time operand, got %T", op, operand)
		}
		switch op {
		case "$before", "$lt":
			return ft.Before(ot), nil
		case "$after", "$gt":
			return ft.After(ot), nil
		case "$lte":
			return !ft.After(ot), nil
		case "$gte":
			return !ft.Before(ot), nil
		}
	}

	fn, ok1 := toFloat(field)
	on, ok2 := toFloat(operand)
	if !ok1 || !ok2 {
		return false, fmt.Errorf("%s requires comparable values, got %T and %T", op, field, operand)
	}
	switch op {
	case "$gt", "$after":
		return fn > on, nil
	case "$gte":
		return fn >= on, nil
	case "$lt", "$before":
		return fn < on, nil
	case "$lte":
		return fn <= on, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	case float64:
		// JSON numbers as unix seconds.
		return time.Unix(int64(t), 0), true
	default:
		return time.Time{}, false
	}
}

func defaultRandom() float64 {
	return rand.Float64()
}
