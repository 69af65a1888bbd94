package docstore

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/relabs-tech/docrest/core/rest"
)

// translateFilter compiles the neutral predicate terms of a query plan into
// a bson filter document. Terms are combined with $and; an empty predicate
// matches everything.
func translateFilter(terms []rest.FilterTerm) (bson.M, error) {
	if len(terms) == 0 {
		return bson.M{}, nil
	}
	and := make([]bson.M, 0, len(terms))
	for _, term := range terms {
		translated, err := translateTerm(term)
		if err != nil {
			return nil, err
		}
		and = append(and, translated)
	}
	return bson.M{"$and": and}, nil
}

func translateTerm(term rest.FilterTerm) (bson.M, error) {
	switch term.Operator {
	case rest.OperatorExact:
		return bson.M{term.Field: term.Value}, nil
	case rest.OperatorNe:
		return bson.M{term.Field: bson.M{"$ne": term.Value}}, nil
	case rest.OperatorLt:
		return bson.M{term.Field: bson.M{"$lt": term.Value}}, nil
	case rest.OperatorLte:
		return bson.M{term.Field: bson.M{"$lte": term.Value}}, nil
	case rest.OperatorGt:
		return bson.M{term.Field: bson.M{"$gt": term.Value}}, nil
	case rest.OperatorGte:
		return bson.M{term.Field: bson.M{"$gte": term.Value}}, nil
	case rest.OperatorIn:
		return bson.M{term.Field: bson.M{"$in": term.Value}}, nil
	case rest.OperatorExists:
		return bson.M{term.Field: bson.M{"$exists": term.Value}}, nil
	case rest.OperatorStartswith:
		prefix, ok := term.Value.(string)
		if !ok {
			prefix = fmt.Sprintf("%v", term.Value)
		}
		return bson.M{term.Field: bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}, nil
	default:
		return nil, fmt.Errorf("unknown filter operator %q", term.Operator)
	}
}

// translateOrder compiles the plan's ordering into a bson sort document.
func translateOrder(order *rest.Ordering) bson.D {
	if order == nil {
		return nil
	}
	direction := 1
	if order.Descending {
		direction = -1
	}
	return bson.D{{Key: order.Field, Value: direction}}
}

// translateProjection compiles the plan's storage projection. Nil means the
// full document.
func translateProjection(fields []string) bson.M {
	if fields == nil {
		return nil
	}
	projection := bson.M{}
	for _, field := range fields {
		projection[field] = 1
	}
	return projection
}
