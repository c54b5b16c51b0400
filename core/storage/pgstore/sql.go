package pgstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// tableName returns the qualified table of an entity, e.g. myschema."blog_post"
func tableName(dbSchema string, e *schema.Entity) string {
	return fmt.Sprintf("%s.\"%s_%s\"", dbSchema, e.Namespace, e.Name)
}

func columnType(f *schema.Field) string {
	switch f.Type {
	case schema.TypeString:
		if f.MaxLength > 0 {
			return fmt.Sprintf("varchar(%d)", f.MaxLength)
		}
		return "varchar"
	case schema.TypeText:
		return "text"
	case schema.TypeInt:
		return "bigint"
	case schema.TypeFloat:
		return "double precision"
	case schema.TypeBool:
		return "boolean"
	case schema.TypeTime:
		return "timestamptz"
	case schema.TypeDate:
		return "date"
	case schema.TypeJSON:
		return "jsonb"
	default:
		return "uuid"
	}
}

// sqlValue converts a canonical value into a driver value
func sqlValue(f *schema.Field, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if f.Type == schema.TypeJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

// selectBuilder assembles a SELECT statement against one entity. Relation paths in
// filters and orders become LEFT JOINs, one per distinct relation prefix.
type selectBuilder struct {
	dbSchema string
	entity   *schema.Entity
	args     []interface{}
	joins    []string
	aliases  map[string]string
}

func newSelectBuilder(dbSchema string, e *schema.Entity) *selectBuilder {
	return &selectBuilder{dbSchema: dbSchema, entity: e, aliases: map[string]string{"": "t0"}}
}

func (b *selectBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// column returns the qualified column for a field path and joins the relations on the way
func (b *selectBuilder) column(path []string) (string, *schema.Field, error) {
	hops, f, err := storage.ResolvePath(b.entity, path)
	if err != nil {
		return "", nil, err
	}
	alias := "t0"
	prefix := ""
	for _, hop := range hops {
		parent := alias
		prefix += "." + hop.Field.Name
		var ok bool
		alias, ok = b.aliases[prefix]
		if !ok {
			alias = "t" + strconv.Itoa(len(b.aliases))
			b.aliases[prefix] = alias
			b.joins = append(b.joins, fmt.Sprintf("LEFT JOIN %s %s ON %s.\"id\" = %s.\"%s\"",
				tableName(b.dbSchema, hop.To), alias, alias, parent, hop.Field.Name))
		}
	}
	return fmt.Sprintf("%s.\"%s\"", alias, f.Name), f, nil
}

func (b *selectBuilder) predicate(p storage.Predicate) (string, error) {
	switch p := p.(type) {
	case nil:
		return "TRUE", nil
	case storage.And:
		return b.junction(p, " AND ", "TRUE")
	case storage.Or:
		return b.junction(p, " OR ", "FALSE")
	case storage.Not:
		inner, err := b.predicate(p.P)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case storage.Cond:
		return b.condition(p)
	}
	return "", fmt.Errorf("unsupported predicate %T", p)
}

func (b *selectBuilder) junction(ps []storage.Predicate, op, empty string) (string, error) {
	if len(ps) == 0 {
		return empty, nil
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		s, err := b.predicate(p)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, op) + ")", nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (b *selectBuilder) condition(c storage.Cond) (string, error) {
	col, f, err := b.column(c.Path)
	if err != nil {
		return "", err
	}
	value := func(v interface{}) (string, error) {
		sv, err := sqlValue(f, v)
		if err != nil {
			return "", err
		}
		return b.arg(sv), nil
	}
	switch c.Op {
	case storage.OpEq, storage.OpNe:
		if c.Value == nil {
			if c.Op == storage.OpEq {
				return col + " IS NULL", nil
			}
			return col + " IS NOT NULL", nil
		}
		v, err := value(c.Value)
		if err != nil {
			return "", err
		}
		if c.Op == storage.OpEq {
			return col + " = " + v, nil
		}
		return col + " IS DISTINCT FROM " + v, nil
	case storage.OpGt, storage.OpGte, storage.OpLt, storage.OpLte:
		v, err := value(c.Value)
		if err != nil {
			return "", err
		}
		op := map[storage.Op]string{storage.OpGt: ">", storage.OpGte: ">=", storage.OpLt: "<", storage.OpLte: "<="}[c.Op]
		return col + " " + op + " " + v, nil
	case storage.OpIn, storage.OpNotIn:
		list, ok := c.Value.([]interface{})
		if !ok {
			return "", fmt.Errorf("%s expects a list", c.Op)
		}
		if len(list) == 0 {
			if c.Op == storage.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(list))
		for i, x := range list {
			if placeholders[i], err = value(x); err != nil {
				return "", err
			}
		}
		in := col + " IN (" + strings.Join(placeholders, ",") + ")"
		if c.Op == storage.OpIn {
			return in, nil
		}
		return "(" + col + " IS NULL OR NOT " + in + ")", nil
	case storage.OpContains, storage.OpIContains, storage.OpStartsWith, storage.OpEndsWith:
		s, ok := c.Value.(string)
		if !ok {
			return "", fmt.Errorf("%s expects a string", c.Op)
		}
		s = likeEscaper.Replace(s)
		switch c.Op {
		case storage.OpContains:
			return col + " LIKE " + b.arg("%"+s+"%"), nil
		case storage.OpIContains:
			return col + " ILIKE " + b.arg("%"+s+"%"), nil
		case storage.OpStartsWith:
			return col + " LIKE " + b.arg(s+"%"), nil
		default:
			return col + " LIKE " + b.arg("%"+s), nil
		}
	case storage.OpIsNull:
		isNull, ok := c.Value.(bool)
		if !ok {
			return "", fmt.Errorf("isnull expects a boolean")
		}
		if isNull {
			return col + " IS NULL", nil
		}
		return col + " IS NOT NULL", nil
	case storage.OpRange:
		bounds, ok := c.Value.([]interface{})
		if !ok || len(bounds) != 2 {
			return "", fmt.Errorf("range expects two bounds")
		}
		lo, err := value(bounds[0])
		if err != nil {
			return "", err
		}
		hi, err := value(bounds[1])
		if err != nil {
			return "", err
		}
		return col + " BETWEEN " + lo + " AND " + hi, nil
	}
	return "", fmt.Errorf("unsupported operator %s", c.Op)
}

// selectQuery returns the SELECT statement for q
func selectQuery(dbSchema string, q storage.Query) (string, []interface{}, error) {
	b := newSelectBuilder(dbSchema, q.Entity)
	where, err := b.predicate(q.Where)
	if err != nil {
		return "", nil, err
	}
	var orders []string
	for _, o := range q.OrderBy {
		col, _, err := b.column(o.Path)
		if err != nil {
			return "", nil, err
		}
		if o.Desc {
			col += " DESC"
		}
		orders = append(orders, col)
	}
	orders = append(orders, "t0.\"id\"")

	var columns []string
	for _, f := range q.Entity.Columns() {
		columns = append(columns, fmt.Sprintf("t0.\"%s\"", f.Name))
	}
	sqlQuery := fmt.Sprintf("SELECT %s FROM %s t0", strings.Join(columns, ","), tableName(dbSchema, q.Entity))
	if len(b.joins) > 0 {
		sqlQuery += " " + strings.Join(b.joins, " ")
	}
	sqlQuery += " WHERE " + where + " ORDER BY " + strings.Join(orders, ",")
	if q.Limit > 0 {
		sqlQuery += " LIMIT " + strconv.Itoa(q.Limit)
	}
	if q.Offset > 0 {
		sqlQuery += " OFFSET " + strconv.Itoa(q.Offset)
	}
	return sqlQuery + ";", b.args, nil
}

// countQuery returns the SELECT count(*) statement for q
func countQuery(dbSchema string, q storage.Query) (string, []interface{}, error) {
	b := newSelectBuilder(dbSchema, q.Entity)
	where, err := b.predicate(q.Where)
	if err != nil {
		return "", nil, err
	}
	sqlQuery := fmt.Sprintf("SELECT count(*) FROM %s t0", tableName(dbSchema, q.Entity))
	if len(b.joins) > 0 {
		sqlQuery += " " + strings.Join(b.joins, " ")
	}
	return sqlQuery + " WHERE " + where + ";", b.args, nil
}

// insertQuery returns the INSERT statement for all fields of e
func insertQuery(dbSchema string, e *schema.Entity) string {
	var columns, placeholders []string
	for i, f := range e.Columns() {
		columns = append(columns, "\""+f.Name+"\"")
		placeholders = append(placeholders, "$"+strconv.Itoa(i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES(%s);",
		tableName(dbSchema, e), strings.Join(columns, ","), strings.Join(placeholders, ","))
}

// updateQuery returns the UPDATE statement for the given fields. The id is the last parameter.
func updateQuery(dbSchema string, e *schema.Entity, fields []string) string {
	sets := make([]string, len(fields))
	for i, name := range fields {
		sets[i] = fmt.Sprintf("\"%s\" = $%d", name, i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE \"id\" = $%d;",
		tableName(dbSchema, e), strings.Join(sets, ", "), len(fields)+1)
}

// migrationQuery returns the idempotent DDL for an entity. Foreign keys are added
// separately with foreignKeyQuery, once all tables exist.
func migrationQuery(dbSchema string, e *schema.Entity) string {
	table := tableName(dbSchema, e)
	query := fmt.Sprintf("CREATE table IF NOT EXISTS %s (\"id\" uuid NOT NULL DEFAULT uuid_generate_v4() PRIMARY KEY);", table)
	for _, f := range e.Fields {
		query += fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS \"%s\" %s;", table, f.Name, columnType(f))
		if f.Unique {
			query += fmt.Sprintf("CREATE UNIQUE index IF NOT EXISTS \"%s_%s_%s_key\" ON %s(\"%s\");",
				e.Namespace, e.Name, f.Name, table, f.Name)
		}
		if f.IsRelation() {
			query += fmt.Sprintf("CREATE index IF NOT EXISTS \"%s_%s_%s_idx\" ON %s(\"%s\");",
				e.Namespace, e.Name, f.Name, table, f.Name)
		}
	}
	return query
}

func foreignKeyQuery(dbSchema string, e *schema.Entity, edge *schema.Edge) string {
	constraint := fmt.Sprintf("%s_%s_%s_fkey", e.Namespace, e.Name, edge.Field.Name)
	onDelete := "CASCADE"
	if edge.Field.OnDelete == schema.OnDeleteSetNull {
		onDelete = "SET NULL"
	}
	return fmt.Sprintf(`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s' AND connamespace = '%s'::regnamespace) THEN
		ALTER TABLE %s ADD CONSTRAINT "%s" FOREIGN KEY ("%s") REFERENCES %s("id") ON DELETE %s;
	END IF;
END $$;`, constraint, dbSchema, tableName(dbSchema, e), constraint, edge.Field.Name, tableName(dbSchema, edge.To), onDelete)
}
