package rest

import (
	"errors"
	"fmt"
)

// ErrDocumentNotFound is returned by stores when no document matches the
// requested identifier.
var ErrDocumentNotFound = errors.New("document not found")

// UnknownFieldError reports a request for a field the resource does not expose.
type UnknownFieldError struct {
	Field string
}

func (e UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}

// FilterNotAllowedError reports a filter that is not on the resource's
// allow-list, or an operator a listed filter does not permit.
type FilterNotAllowedError struct {
	Filter   string
	Operator Operator
}

func (e FilterNotAllowedError) Error() string {
	if e.Operator != "" {
		return fmt.Sprintf("filter %q does not allow operator %q", e.Filter, e.Operator)
	}
	return fmt.Sprintf("filtering on %q is not allowed", e.Filter)
}

// InvalidFilterValueError reports a filter value that cannot be coerced to the
// type the filter requires.
type InvalidFilterValueError struct {
	Filter string
	Value  string
	Err    error
}

func (e InvalidFilterValueError) Error() string {
	return fmt.Sprintf("invalid value %q for filter %q: %v", e.Value, e.Filter, e.Err)
}

func (e InvalidFilterValueError) Unwrap() error { return e.Err }

// InvalidParameterError reports a malformed or, in strict mode, unknown
// query parameter.
type InvalidParameterError struct {
	Parameter string
	Reason    string
}

func (e InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Parameter, e.Reason)
}

// OrderingNotAllowedError reports an order-by field that is not on the
// resource's ordering allow-list.
type OrderingNotAllowedError struct {
	Field string
}

func (e OrderingNotAllowedError) Error() string {
	return fmt.Sprintf("ordering by %q is not allowed", e.Field)
}

// UnmappedSubtypeError reports a stored document whose discriminator value has
// no configured subtype resource. This is a server-side configuration problem,
// not a client error.
type UnmappedSubtypeError struct {
	Discriminator string
	Value         string
}

func (e UnmappedSubtypeError) Error() string {
	return fmt.Sprintf("no resource mapped for %s=%q", e.Discriminator, e.Value)
}

// isRequestError reports whether err should map to a 400 response rather
// than a 500.
func isRequestError(err error) bool {
	switch err.(type) {
	case UnknownFieldError, FilterNotAllowedError, InvalidFilterValueError,
		InvalidParameterError, OrderingNotAllowedError:
		return true
	}
	return false
}
