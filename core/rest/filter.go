package rest

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is a filter comparison operator
type Operator string

// all supported filter operators
const (
	OperatorExact      Operator = "exact"
	OperatorNe         Operator = "ne"
	OperatorLt         Operator = "lt"
	OperatorLte        Operator = "lte"
	OperatorGt         Operator = "gt"
	OperatorGte        Operator = "gte"
	OperatorIn         Operator = "in"
	OperatorExists     Operator = "exists"
	OperatorStartswith Operator = "startswith"
)

var knownOperators = map[Operator]bool{
	OperatorExact:      true,
	OperatorNe:         true,
	OperatorLt:         true,
	OperatorLte:        true,
	OperatorGt:         true,
	OperatorGte:        true,
	OperatorIn:         true,
	OperatorExists:     true,
	OperatorStartswith: true,
}

// splitFilterParameter splits a query parameter of the form "name__operator"
// into its parts. A parameter without operator suffix means an exact match.
func splitFilterParameter(param string) (string, Operator) {
	if i := strings.LastIndex(param, "__"); i > 0 {
		if op := Operator(param[i+2:]); knownOperators[op] {
			return param[:i], op
		}
	}
	return param, OperatorExact
}

// filter is a compiled entry of a resource's filter allow-list. It carries
// the storage field the filter targets, which is not necessarily the wire
// name the filter is exposed under.
type filter struct {
	name      string
	storage   string
	operators map[Operator]bool
}

func (f *filter) term(name string, op Operator, raw string) (FilterTerm, error) {
	if !f.operators[op] {
		return FilterTerm{}, FilterNotAllowedError{Filter: name, Operator: op}
	}
	value, err := coerceFilterValue(op, raw)
	if err != nil {
		return FilterTerm{}, InvalidFilterValueError{Filter: name, Value: raw, Err: err}
	}
	return FilterTerm{Field: f.storage, Operator: op, Value: value}, nil
}

// coerceFilterValue converts the raw query string value into the shape the
// operator requires. Scalars are coerced to integer or float when they parse
// as such, and stay strings otherwise. The range operators insist on a
// number, the "in" operator takes a comma-separated list, "exists" takes a
// boolean.
func coerceFilterValue(op Operator, raw string) (interface{}, error) {
	switch op {
	case OperatorLt, OperatorLte, OperatorGt, OperatorGte:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("expected a number")
	case OperatorExists:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected a boolean")
		}
		return b, nil
	case OperatorIn:
		parts := strings.Split(raw, ",")
		values := make([]interface{}, len(parts))
		for i, part := range parts {
			values[i] = coerceScalar(part)
		}
		return values, nil
	case OperatorStartswith:
		return raw, nil
	default:
		return coerceScalar(raw), nil
	}
}

func coerceScalar(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
