// Package query разбирает параметры листинга каталога в независимое от хранилища описание запроса.
//
// Параметры приходят от клиента, поэтому фильтровать можно только по полям из allow-list,
// а значения приводятся к типу поля до того, как попадут в хранилище.
package query

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"storefront/pkg/apperror"
)

// Kind - тип значения поля
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	default:
		return "unknown"
	}
}

// Field описывает поле, доступное для фильтрации
type Field struct {
	Param  string // Имя параметра в запросе (numOfReviews)
	Column string // Имя поля в хранилище (num_of_reviews)
	Kind   Kind
	Fold   bool // Значение хранится в нижнем регистре, фильтр приводится к нему же
}

type Op string

const (
	OpEq    Op = "eq"
	OpGte   Op = "gte"
	OpLte   Op = "lte"
	OpGt    Op = "gt"
	OpLt    Op = "lt"
	OpMatch Op = "match" // Регистронезависимое вхождение подстроки, без метасимволов
)

// Condition - одно условие фильтра. Value уже приведено к типу поля
type Condition struct {
	Field string
	Op    Op
	Value any
}

type SortField struct {
	Field string
	Desc  bool
}

// Spec - готовый запрос: условия объединяются через AND
type Spec struct {
	Conditions []Condition
	Sort       []SortField
	Page       int
	Skip       int64
	Limit      int64
}

// Filtered сообщает, сужает ли запрос коллекцию
func (s *Spec) Filtered() bool {
	return s != nil && len(s.Conditions) > 0
}

// Зарезервированные параметры, не являющиеся фильтрами
const (
	ParamKeyword = "keyword"
	ParamPage    = "page"
	ParamLimit   = "limit"
	ParamSort    = "sort"
)

const (
	DefaultPageSize    = 6
	DefaultMaxPageSize = 100
)

var rangeOps = map[string]Op{
	"gte": OpGte,
	"lte": OpLte,
	"gt":  OpGt,
	"lt":  OpLt,
}

// Builder строит Spec из параметров запроса. Безопасен для конкурентного использования
type Builder struct {
	fields      map[string]Field
	sortable    map[string]string
	searchField string
	maxPageSize int
	defaultSort SortField
}

type Option func(*Builder)

// WithSearchField задает поле, по которому ищет keyword (по умолчанию name)
func WithSearchField(column string) Option {
	return func(b *Builder) {
		b.searchField = column
	}
}

// WithMaxPageSize ограничивает параметр limit
func WithMaxPageSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxPageSize = n
		}
	}
}

// WithSortable разрешает сортировку по полю, которое не участвует в фильтрах
func WithSortable(param, column string) Option {
	return func(b *Builder) {
		b.sortable[param] = column
	}
}

func WithDefaultSort(column string, desc bool) Option {
	return func(b *Builder) {
		b.defaultSort = SortField{Field: column, Desc: desc}
	}
}

func NewBuilder(fields []Field, opts ...Option) *Builder {
	b := &Builder{
		fields:      make(map[string]Field, len(fields)),
		sortable:    make(map[string]string, len(fields)),
		searchField: "name",
		maxPageSize: DefaultMaxPageSize,
		defaultSort: SortField{Field: "created_at", Desc: true},
	}
	for _, f := range fields {
		b.fields[f.Param] = f
		b.sortable[f.Param] = f.Column
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build разбирает параметры: search, затем filter, затем pager.
// pageSize используется, если limit не задан или вне диапазона 1..maxPageSize
func (b *Builder) Build(params map[string]string, pageSize int) (*Spec, error) {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	spec := &Spec{}

	b.search(spec, params[ParamKeyword])

	if err := b.filter(spec, params); err != nil {
		return nil, err
	}

	if err := b.order(spec, params[ParamSort]); err != nil {
		return nil, err
	}

	b.pager(spec, params[ParamPage], params[ParamLimit], pageSize)

	return spec, nil
}

func (b *Builder) search(spec *Spec, keyword string) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return
	}
	spec.Conditions = append(spec.Conditions, Condition{
		Field: b.searchField,
		Op:    OpMatch,
		Value: keyword,
	})
}

func (b *Builder) filter(spec *Spec, params map[string]string) error {
	keys := make([]string, 0, len(params))
	for key := range params {
		if isReserved(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// price_gte и price[gte] дают одно и то же условие, повтор пары поле+оператор отклоняется
	seen := make(map[Condition]string, len(keys))
	for _, key := range keys {
		cond, err := b.condition(key, params[key])
		if err != nil {
			return err
		}

		slot := Condition{Field: cond.Field, Op: cond.Op}
		if prev, ok := seen[slot]; ok {
			return apperror.Validation("filter %q duplicates %q", key, prev)
		}
		seen[slot] = key

		spec.Conditions = append(spec.Conditions, cond)
	}
	return nil
}

func (b *Builder) condition(key, raw string) (Condition, error) {
	name, op := splitOperator(key)

	field, ok := b.fields[name]
	if !ok {
		return Condition{}, apperror.Validation("unknown filter field %q", key)
	}
	if op != OpEq && field.Kind == KindString {
		return Condition{}, apperror.Validation("range filter %q is not supported for text field %q", key, name)
	}

	value, err := parseValue(field.Kind, strings.TrimSpace(raw))
	if err == nil && field.Fold {
		value = strings.ToLower(value.(string))
	}
	if err != nil {
		return Condition{}, apperror.Validation("invalid value %q for filter %q: expected %s", raw, key, field.Kind)
	}

	return Condition{Field: field.Column, Op: op, Value: value}, nil
}

// splitOperator понимает price_gte и price[gte]
func splitOperator(key string) (string, Op) {
	if strings.HasSuffix(key, "]") {
		if i := strings.LastIndexByte(key, '['); i > 0 {
			if op, ok := rangeOps[key[i+1:len(key)-1]]; ok {
				return key[:i], op
			}
		}
		return key, OpEq
	}
	if i := strings.LastIndexByte(key, '_'); i > 0 {
		if op, ok := rangeOps[key[i+1:]]; ok {
			return key[:i], op
		}
	}
	return key, OpEq
}

func parseValue(kind Kind, raw string) (any, error) {
	switch kind {
	case KindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, strconv.ErrSyntax
		}
		return v, nil
	case KindInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return raw, nil
	}
}

func (b *Builder) order(spec *Spec, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		spec.Sort = []SortField{b.defaultSort}
		return nil
	}

	desc := strings.HasPrefix(raw, "-")
	name := strings.TrimPrefix(raw, "-")

	column, ok := b.sortable[name]
	if !ok {
		return apperror.Validation("unknown sort field %q", name)
	}

	spec.Sort = []SortField{{Field: column, Desc: desc}}
	// Устойчивый порядок страниц при равных значениях
	if column != b.defaultSort.Field {
		spec.Sort = append(spec.Sort, b.defaultSort)
	}
	return nil
}

// pager: нечисловая, отсутствующая или меньше 1 страница считается первой
func (b *Builder) pager(spec *Spec, rawPage, rawLimit string, pageSize int) {
	if limit, err := strconv.Atoi(strings.TrimSpace(rawLimit)); err == nil && limit >= 1 && limit <= b.maxPageSize {
		pageSize = limit
	}

	page, err := strconv.Atoi(strings.TrimSpace(rawPage))
	if err != nil || page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt64 / int64(pageSize); int64(page) > maxPage {
		page = int(maxPage)
	}

	spec.Page = page
	spec.Limit = int64(pageSize)
	spec.Skip = int64(page-1) * int64(pageSize)
}

func isReserved(key string) bool {
	switch key {
	case ParamKeyword, ParamPage, ParamLimit, ParamSort:
		return true
	}
	return false
}
