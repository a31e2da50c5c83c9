package repository

import (
	"regexp"

	"storefront/catalog-service/internal/app/catalog/query"

	"go.mongodb.org/mongo-driver/bson"
)

var mongoOps = map[query.Op]string{
	query.OpEq:  "$eq",
	query.OpGte: "$gte",
	query.OpLte: "$lte",
	query.OpGt:  "$gt",
	query.OpLt:  "$lt",
}

// BuildFilter переводит условия запроса в bson фильтр.
// Условия по одному полю объединяются: {"price": {"$gte": 10, "$lte": 50}}
func BuildFilter(spec *query.Spec) bson.M {
	filter := bson.M{}
	if spec == nil {
		return filter
	}

	for _, c := range spec.Conditions {
		ops, ok := filter[c.Field].(bson.M)
		if !ok {
			ops = bson.M{}
			filter[c.Field] = ops
		}

		if c.Op == query.OpMatch {
			// Ключевое слово ищется буквально, без интерпретации как regex
			ops["$regex"] = regexp.QuoteMeta(c.Value.(string))
			ops["$options"] = "i"
			continue
		}
		ops[mongoOps[c.Op]] = c.Value
	}

	return filter
}

// BuildSort возвращает порядок сортировки; без spec - новые товары первыми
func BuildSort(spec *query.Spec) bson.D {
	if spec == nil || len(spec.Sort) == 0 {
		return bson.D{{Key: "created_at", Value: -1}}
	}

	sort := make(bson.D, 0, len(spec.Sort))
	for _, s := range spec.Sort {
		dir := 1
		if s.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: s.Field, Value: dir})
	}
	return sort
}
