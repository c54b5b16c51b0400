package query

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// Condition is a client supplied filter condition
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// operators maps the operator names clients may use to storage operators
var operators = map[string]storage.Op{
	"eq":         storage.OpEq,
	"=":          storage.OpEq,
	"exact":      storage.OpEq,
	"ne":         storage.OpNe,
	"!=":         storage.OpNe,
	"gt":         storage.OpGt,
	">":          storage.OpGt,
	"gte":        storage.OpGte,
	">=":         storage.OpGte,
	"lt":         storage.OpLt,
	"<":          storage.OpLt,
	"lte":        storage.OpLte,
	"<=":         storage.OpLte,
	"in":         storage.OpIn,
	"not_in":     storage.OpNotIn,
	"contains":   storage.OpContains,
	"icontains":  storage.OpIContains,
	"startswith": storage.OpStartsWith,
	"endswith":   storage.OpEndsWith,
	"isnull":     storage.OpIsNull,
	"range":      storage.OpRange,
}

// ParseConditions converts a decoded JSON value into filter conditions. Anything
// that is not a list of objects with a field and an operator yields no conditions.
func ParseConditions(raw interface{}) []Condition {
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}
	conditions := make([]Condition, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil
		}
		field, _ := m["field"].(string)
		operator, _ := m["operator"].(string)
		if field == "" || operator == "" {
			return nil
		}
		conditions = append(conditions, Condition{Field: field, Operator: operator, Value: m["value"]})
	}
	return conditions
}

// ParseOrder converts a decoded JSON value or a query parameter into order fields.
// It accepts a list of strings or a comma separated string.
func ParseOrder(raw interface{}) []string {
	var fields []string
	switch x := raw.(type) {
	case string:
		for _, name := range strings.Split(x, ",") {
			if name = strings.TrimSpace(name); name != "" {
				fields = append(fields, name)
			}
		}
	case []string:
		for _, name := range x {
			if name != "" {
				fields = append(fields, name)
			}
		}
	case []interface{}:
		for _, item := range x {
			if name, ok := item.(string); ok && name != "" {
				fields = append(fields, name)
			}
		}
	}
	return fields
}

func (c Condition) predicate(e *schema.Entity) (storage.Predicate, error) {
	op, ok := operators[strings.ToLower(strings.TrimSpace(c.Operator))]
	if !ok {
		return nil, core.NewError(core.CodeInvalidFilterOperator, "operator '%s' is not supported", c.Operator)
	}
	path := SplitPath(c.Field)
	_, f, err := storage.ResolvePath(e, path)
	if err != nil {
		return nil, core.NewError(core.CodeInvalidFilterField, "cannot filter by '%s': %s", c.Field, err)
	}
	value, err := coerceOperand(f, op, c.Value)
	if err != nil {
		return nil, core.NewError(core.CodeInvalidFilterField, "invalid value for '%s'", c.Field).
			AddField(c.Field, err.Error())
	}
	return storage.Cond{Path: path, Op: op, Value: value}, nil
}

// coerceOperand converts a condition value into the operand shape the operator expects
func coerceOperand(f *schema.Field, op storage.Op, v interface{}) (interface{}, error) {
	switch op {
	case storage.OpIn, storage.OpNotIn:
		list, err := operandList(v)
		if err != nil {
			return nil, err
		}
		values := make([]interface{}, len(list))
		for i, x := range list {
			if values[i], err = f.Coerce(x); err != nil {
				return nil, err
			}
		}
		return values, nil
	case storage.OpRange:
		list, err := operandList(v)
		if err != nil {
			return nil, err
		}
		if len(list) != 2 {
			return nil, fmt.Errorf("range requires exactly two values")
		}
		lo, err := f.Coerce(list[0])
		if err != nil {
			return nil, err
		}
		hi, err := f.Coerce(list[1])
		if err != nil {
			return nil, err
		}
		return []interface{}{lo, hi}, nil
	case storage.OpIsNull:
		b, err := (&schema.Field{Type: schema.TypeBool}).Coerce(v)
		if err == nil && b == nil {
			err = fmt.Errorf("must be a valid boolean")
		}
		return b, err
	case storage.OpContains, storage.OpIContains, storage.OpStartsWith, storage.OpEndsWith:
		if v == nil {
			return nil, fmt.Errorf("a value is required")
		}
		return fmt.Sprint(v), nil
	}
	return f.Coerce(v)
}

// operandList accepts a list or a comma separated string
func operandList(v interface{}) ([]interface{}, error) {
	switch x := v.(type) {
	case []interface{}:
		return x, nil
	case string:
		var list []interface{}
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		return list, nil
	}
	return nil, fmt.Errorf("a list of values is required")
}
