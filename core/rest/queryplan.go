package rest

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// reserved query parameters, everything else is a filter
const (
	paramSkip    = "_skip"
	paramLimit   = "_limit"
	paramFields  = "_fields"
	paramOrderBy = "_order_by"
)

// BuildQueryPlan compiles the query parameters of a list request into a
// query plan. Filters must be on the resource's allow-list, orderings on the
// ordering allow-list, and requested fields must exist on the wire.
//
// A _limit beyond the resource's maximum is clamped, not rejected. Unknown
// parameters are ignored unless the resource runs with strict parameters;
// a parameter with an explicit operator suffix on an unknown filter name is
// always rejected, it is unambiguously a filter attempt.
func (rc *Resource) BuildQueryPlan(query url.Values) (*QueryPlan, error) {
	plan := &QueryPlan{
		Skip:  0,
		Limit: rc.defaultLimit,
	}

	// sorted keys keep the compiled predicate order stable
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := query[key]
		switch key {
		case paramSkip:
			skip, err := strconv.ParseInt(values[0], 10, 64)
			if err != nil || skip < 0 {
				return nil, InvalidParameterError{Parameter: paramSkip, Reason: "expected a non-negative integer"}
			}
			plan.Skip = skip

		case paramLimit:
			limit, err := strconv.ParseInt(values[0], 10, 64)
			if err != nil || limit <= 0 {
				return nil, InvalidParameterError{Parameter: paramLimit, Reason: "expected a positive integer"}
			}
			if limit > rc.maxLimit {
				limit = rc.maxLimit
			}
			plan.Limit = limit

		case paramFields:
			for _, wire := range strings.Split(values[0], ",") {
				wire = strings.TrimSpace(wire)
				if wire == "" {
					continue
				}
				if _, ok := rc.fieldMap.StorageName(wire); !ok {
					return nil, UnknownFieldError{Field: wire}
				}
				plan.Fields = append(plan.Fields, wire)
			}
			// an empty list selects everything, same as an absent parameter

		case paramOrderBy:
			wire := values[0]
			descending := strings.HasPrefix(wire, "-")
			wire = strings.TrimPrefix(wire, "-")
			storage, ok := rc.orderings[wire]
			if !ok {
				return nil, OrderingNotAllowedError{Field: wire}
			}
			plan.Order = &Ordering{Field: storage, Descending: descending}

		default:
			name, op := splitFilterParameter(key)
			f, ok := rc.filters[name]
			if !ok {
				if name != key {
					// explicit operator suffix on an undeclared filter
					return nil, FilterNotAllowedError{Filter: name}
				}
				if rc.strict {
					return nil, UnknownFieldError{Field: key}
				}
				continue
			}
			for _, raw := range values {
				term, err := f.term(name, op, raw)
				if err != nil {
					return nil, err
				}
				plan.Filter = append(plan.Filter, term)
			}
		}
	}

	if plan.Fields != nil {
		plan.Projection = rc.projection(plan.Fields)
	}
	return plan, nil
}

// projection translates the requested wire fields into the storage fields
// the store has to fetch. Serialization always needs the identifier, the
// discriminator and the fields of related bindings, so the projection may be
// a superset of the selection.
func (rc *Resource) projection(wireFields []string) []string {
	seen := map[string]bool{}
	var storageFields []string
	add := func(storage string) {
		if !seen[storage] {
			seen[storage] = true
			storageFields = append(storageFields, storage)
		}
	}
	for _, wire := range wireFields {
		if storage, ok := rc.fieldMap.StorageName(wire); ok {
			add(storage)
		}
	}
	for _, storage := range rc.requiredStorageFields() {
		add(storage)
	}
	return storageFields
}
