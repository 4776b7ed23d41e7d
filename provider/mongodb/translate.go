package mongodb

import (
	"fmt"
	"reflect"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var operators = map[query.Operator]string{
	query.EQ:  "$eq",
	query.NE:  "$ne",
	query.LT:  "$lt",
	query.LTE: "$lte",
	query.GT:  "$gt",
	query.GTE: "$gte",
	query.IN:  "$in",
}

// BuildFilter turns filter rules into a conjunctive bson filter. The id field
// maps to _id.
func BuildFilter(rules []query.FilterRule) (bson.D, error) {
	filter := bson.D{}
	for _, rule := range rules {
		op, ok := operators[rule.Operator]
		if !ok {
			return nil, fmt.Errorf("%w: unknown operator %q", repoctx.ErrInvalidQuery, rule.Operator)
		}
		value := rule.Value
		if rule.Operator == query.IN {
			value = asArray(value)
		}
		filter = append(filter, bson.E{Key: field(rule.Name), Value: bson.D{{Key: op, Value: value}}})
	}
	return filter, nil
}

// BuildSort keeps rule order, which is sort priority.
func BuildSort(rules []query.SortRule) bson.D {
	sort := make(bson.D, 0, len(rules))
	for _, rule := range rules {
		dir := 1
		if rule.Direction == query.DESC {
			dir = -1
		}
		sort = append(sort, bson.E{Key: field(rule.Name), Value: dir})
	}
	return sort
}

// FromDocument renames _id to id. ObjectIDs become their hex form.
// BuildFindOptions sets skip and limit from a normalized page plus the sort
// when there is one.
func BuildFindOptions(page query.Page, sorting []query.SortRule) *options.FindOptions {
	opts := options.Find().
		SetSkip(int64(page.Offset())).
		SetLimit(int64(max(page.Limit(), 1)))
	if len(sorting) > 0 {
		opts.SetSort(BuildSort(sorting))
	}
	return opts
}

func FromDocument(doc bson.M) repoctx.Entity {
	entity := make(repoctx.Entity, len(doc))
	for k, v := range doc {
		if k == "_id" {
			if oid, ok := v.(primitive.ObjectID); ok {
				v = oid.Hex()
			}
			entity[repoctx.IDKey] = v
			continue
		}
		entity[k] = v
	}
	return entity
}

func field(name string) string {
	if name == repoctx.IDKey {
		return "_id"
	}
	return name
}

func asArray(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return v
	}
	return bson.A{v}
}
