package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// FieldType is the type of an entity field
type FieldType string

// all supported field types. A relation is a forward many-to-one reference to
// another entity and is stored as the id of the target.
const (
	TypeString   FieldType = "string"
	TypeText     FieldType = "text"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeBool     FieldType = "bool"
	TypeTime     FieldType = "time"
	TypeDate     FieldType = "date"
	TypeJSON     FieldType = "json"
	TypeUUID     FieldType = "uuid"
	TypeRelation FieldType = "relation"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeText, TypeInt, TypeFloat, TypeBool, TypeTime, TypeDate, TypeJSON, TypeUUID, TypeRelation:
		return true
	}
	return false
}

// OnDelete is the behaviour of a relation when its target is deleted
type OnDelete string

// supported OnDelete behaviours
const (
	OnDeleteCascade OnDelete = "cascade"
	OnDeleteSetNull OnDelete = "set_null"
)

// DateLayout is the wire format of date fields
const DateLayout = "2006-01-02"

// Field describes a single field of an entity.
type Field struct {
	Name        string        `json:"name"`
	Type        FieldType     `json:"type"`
	Label       string        `json:"label,omitempty"`
	Target      string        `json:"target,omitempty"`
	RelatedName string        `json:"related_name,omitempty"`
	Required    bool          `json:"required,omitempty"`
	Null        bool          `json:"null,omitempty"`
	Unique      bool          `json:"unique,omitempty"`
	Default     interface{}   `json:"default,omitempty"`
	MaxLength   int           `json:"max_length,omitempty"`
	Choices     []interface{} `json:"choices,omitempty"`
	AutoNow     bool          `json:"auto_now,omitempty"`
	AutoNowAdd  bool          `json:"auto_now_add,omitempty"`
	WriteOnly   bool          `json:"write_only,omitempty"`
	OnDelete    OnDelete      `json:"on_delete,omitempty"`
}

// IDField is the implicit primary key of every entity
var IDField = &Field{Name: "id", Type: TypeUUID, Label: "ID"}

// IsRelation returns true if the field references another entity
func (f *Field) IsRelation() bool {
	return f.Type == TypeRelation
}

// IsAuto returns true if the field is stamped by the system
func (f *Field) IsAuto() bool {
	return f.AutoNow || f.AutoNowAdd
}

// Title returns the label of the field, or its name if it has no label
func (f *Field) Title() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// Coerce converts a decoded JSON value, or a value from a query string, into
// the canonical Go representation for the field type:
//
//	string, text       string
//	int                int64
//	float              float64
//	bool               bool
//	time, date         time.Time (UTC)
//	uuid, relation     uuid.UUID
//	json               unchanged
//
// nil stays nil.
func (f *Field) Coerce(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeString, TypeText:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number:
			return s.String(), nil
		}
		return nil, fmt.Errorf("a valid string is required")
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("a valid integer is required")
			}
			return int64(n), nil
		case json.Number:
			return n.Int64()
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("a valid integer is required")
			}
			return i, nil
		}
		return nil, fmt.Errorf("a valid integer is required")
	case TypeFloat:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			return n.Float64()
		case string:
			x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("a valid number is required")
			}
			return x, nil
		}
		return nil, fmt.Errorf("a valid number is required")
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			x, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("must be a valid boolean")
			}
			return x, nil
		case float64:
			if b == 0 || b == 1 {
				return b == 1, nil
			}
		}
		return nil, fmt.Errorf("must be a valid boolean")
	case TypeTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", DateLayout} {
				if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
					return parsed.UTC(), nil
				}
			}
		}
		return nil, fmt.Errorf("datetime has wrong format")
	case TypeDate:
		switch t := v.(type) {
		case time.Time:
			y, m, d := t.UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		case string:
			if parsed, err := time.Parse(DateLayout, strings.TrimSpace(t)); err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("date has wrong format, use YYYY-MM-DD")
	case TypeUUID, TypeRelation:
		switch id := v.(type) {
		case uuid.UUID:
			return id, nil
		case string:
			parsed, err := uuid.Parse(strings.TrimSpace(id))
			if err != nil {
				return nil, fmt.Errorf("'%s' is not a valid UUID", id)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("a valid UUID is required")
	case TypeJSON:
		return v, nil
	}
	return nil, fmt.Errorf("unsupported field type %s", f.Type)
}

// Render converts a canonical value into its JSON output representation
func (f *Field) Render(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if f.Type == TypeDate {
			return x.UTC().Format(DateLayout)
		}
		return x.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return x.String()
	}
	return v
}

// RenderString converts a canonical value into a plain string, as used for tabular export
func (f *Field) RenderString(v interface{}) string {
	switch x := f.Render(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
