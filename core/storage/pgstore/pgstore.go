/*
Package pgstore is the postgres storage engine.

Every entity is stored in its own table "app_model" within the schema of the
database. Relations are foreign keys with ON DELETE behaviour taken from the
relation field. Prefetching loads one relation level per query.
*/
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/basebone/core/csql"
	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

type runner interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store is a postgres storage.Store
type Store struct {
	db *csql.DB
}

// New returns a store for the database. Call Migrate before use.
func New(db *csql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or extends the tables of all entities. It is idempotent.
func (s *Store) Migrate(ctx context.Context, entities []*schema.Entity) error {
	rlog := logger.FromContext(ctx)
	for _, e := range entities {
		rlog.Debugln("migrate table for", e.Key())
		if _, err := s.db.ExecContext(ctx, migrationQuery(s.db.Schema, e)); err != nil {
			return fmt.Errorf("cannot migrate %s: %w", e.Key(), err)
		}
	}
	for _, e := range entities {
		for _, f := range e.Fields {
			if !f.IsRelation() {
				continue
			}
			edge, _ := e.Forward(f.Name)
			if _, err := s.db.ExecContext(ctx, foreignKeyQuery(s.db.Schema, e, edge)); err != nil {
				return fmt.Errorf("cannot add foreign key %s.%s: %w", e.Key(), f.Name, err)
			}
		}
	}
	return nil
}

// Find implements storage.Reader
func (s *Store) Find(ctx context.Context, q storage.Query) ([]*storage.Instance, error) {
	return find(ctx, s.db.DB, s.db.Schema, q)
}

// Count implements storage.Reader
func (s *Store) Count(ctx context.Context, q storage.Query) (int, error) {
	return count(ctx, s.db.DB, s.db.Schema, q)
}

// Begin implements storage.Store
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx{tx: sqlTx, dbSchema: s.db.Schema}, nil
}

type tx struct {
	tx       *sql.Tx
	dbSchema string
}

func (t *tx) Commit() error {
	return t.tx.Commit()
}

func (t *tx) Rollback() error {
	return t.tx.Rollback()
}

func (t *tx) Find(ctx context.Context, q storage.Query) ([]*storage.Instance, error) {
	return find(ctx, t.tx, t.dbSchema, q)
}

func (t *tx) Count(ctx context.Context, q storage.Query) (int, error) {
	return count(ctx, t.tx, t.dbSchema, q)
}

func (t *tx) Insert(ctx context.Context, e *schema.Entity, values map[string]interface{}) (uuid.UUID, error) {
	id := uuid.New()
	args := []interface{}{id}
	for _, f := range e.Fields {
		v, err := sqlValue(f, values[f.Name])
		if err != nil {
			return uuid.UUID{}, err
		}
		args = append(args, v)
	}
	if _, err := t.tx.ExecContext(ctx, insertQuery(t.dbSchema, e), args...); err != nil {
		return uuid.UUID{}, mapError(e, err)
	}
	return id, nil
}

func (t *tx) Update(ctx context.Context, e *schema.Entity, id uuid.UUID, values map[string]interface{}) error {
	for name := range values {
		if _, ok := e.Field(name); !ok || name == schema.IDField.Name {
			return fmt.Errorf("%s has no writable field %s", e.Key(), name)
		}
	}
	var fields []string
	var args []interface{}
	for _, f := range e.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		sv, err := sqlValue(f, v)
		if err != nil {
			return err
		}
		fields = append(fields, f.Name)
		args = append(args, sv)
	}
	if len(fields) == 0 {
		n, err := count(ctx, t.tx, t.dbSchema, storage.All(e).ByID(id))
		if err == nil && n == 0 {
			err = fmt.Errorf("%s %s: %w", e.Key(), id, storage.ErrNoInstance)
		}
		return err
	}
	res, err := t.tx.ExecContext(ctx, updateQuery(t.dbSchema, e, fields), append(args, id)...)
	if err != nil {
		return mapError(e, err)
	}
	return affected(e, id, res)
}

func (t *tx) Delete(ctx context.Context, e *schema.Entity, id uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE \"id\" = $1;", tableName(t.dbSchema, e)), id)
	if err != nil {
		return mapError(e, err)
	}
	return affected(e, id, res)
}

func affected(e *schema.Entity, id uuid.UUID, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", e.Key(), id, storage.ErrNoInstance)
	}
	return nil
}

// mapError maps postgres constraint violations to storage errors
func mapError(e *schema.Entity, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s: %s: %w", e.Key(), pqErr.Detail, storage.ErrUniqueViolation)
		case "23503":
			return fmt.Errorf("%s: %s: %w", e.Key(), pqErr.Detail, storage.ErrReferenceViolation)
		case "22P02":
			return fmt.Errorf("%s: %s: %w", e.Key(), pqErr.Message, storage.ErrInvalidValue)
		}
	}
	return err
}

func count(ctx context.Context, r runner, dbSchema string, q storage.Query) (int, error) {
	sqlQuery, args, err := countQuery(dbSchema, q)
	if err != nil {
		return 0, err
	}
	rows, err := r.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

func find(ctx context.Context, r runner, dbSchema string, q storage.Query) ([]*storage.Instance, error) {
	sqlQuery, args, err := selectQuery(dbSchema, q)
	if err != nil {
		return nil, err
	}
	rows, err := r.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances, err := scanRows(rows, q.Entity)
	if err != nil {
		return nil, err
	}
	rows.Close()

	for _, path := range q.Prefetch {
		if err := prefetch(ctx, r, dbSchema, q.Entity, instances, storage.PrefetchSegments(path)); err != nil {
			return nil, err
		}
	}
	return instances, nil
}

func scanTarget(f *schema.Field) interface{} {
	switch f.Type {
	case schema.TypeString, schema.TypeText:
		return &sql.NullString{}
	case schema.TypeInt:
		return &sql.NullInt64{}
	case schema.TypeFloat:
		return &sql.NullFloat64{}
	case schema.TypeBool:
		return &sql.NullBool{}
	case schema.TypeTime, schema.TypeDate:
		return &sql.NullTime{}
	case schema.TypeJSON:
		return &[]byte{}
	default:
		return &uuid.NullUUID{}
	}
}

func scanned(f *schema.Field, dest interface{}) (interface{}, error) {
	switch d := dest.(type) {
	case *sql.NullString:
		if d.Valid {
			return d.String, nil
		}
	case *sql.NullInt64:
		if d.Valid {
			return d.Int64, nil
		}
	case *sql.NullFloat64:
		if d.Valid {
			return d.Float64, nil
		}
	case *sql.NullBool:
		if d.Valid {
			return d.Bool, nil
		}
	case *sql.NullTime:
		if d.Valid {
			if f.Type == schema.TypeDate {
				y, m, day := d.Time.Date()
				return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
			}
			return d.Time.UTC(), nil
		}
	case *uuid.NullUUID:
		if d.Valid {
			return d.UUID, nil
		}
	case *[]byte:
		if *d != nil {
			var v interface{}
			if err := json.Unmarshal(*d, &v); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	return nil, nil
}

// prefetch loads one relation level per query and recurses into the next segment
func prefetch(ctx context.Context, r runner, dbSchema string, e *schema.Entity, instances []*storage.Instance, segments []string) error {
	if len(segments) == 0 || len(instances) == 0 {
		return nil
	}
	accessor := segments[0]
	edge, ok := e.EdgeByAccessor(accessor)
	if !ok {
		return fmt.Errorf("cannot prefetch %s: %s has no relation with this accessor", accessor, e.Key())
	}

	var pending []*storage.Instance
	var next []*storage.Instance
	keys := map[uuid.UUID]bool{}
	var keyList []string
	for _, inst := range instances {
		if related, done := inst.Related[accessor]; done {
			next = append(next, related...)
			continue
		}
		pending = append(pending, inst)
		key, ok := relationKey(edge, inst)
		if ok && !keys[key] {
			keys[key] = true
			keyList = append(keyList, key.String())
		}
	}
	if len(pending) > 0 {
		byKey := map[uuid.UUID][]*storage.Instance{}
		if len(keyList) > 0 {
			column := schema.IDField.Name
			if edge.Kind == schema.EdgeReverse {
				column = edge.Field.Name
			}
			loaded, err := findByKeys(ctx, r, dbSchema, edge.To, column, keyList)
			if err != nil {
				return err
			}
			for _, inst := range loaded {
				key := inst.ID
				if edge.Kind == schema.EdgeReverse {
					key, _ = inst.Values[edge.Field.Name].(uuid.UUID)
				}
				byKey[key] = append(byKey[key], inst)
			}
		}
		for _, inst := range pending {
			var related []*storage.Instance
			if key, ok := relationKey(edge, inst); ok {
				for _, x := range byKey[key] {
					if edge.Kind == schema.EdgeForward {
						x = copyInstance(x)
					}
					related = append(related, x)
				}
			}
			inst.SetRelated(accessor, related)
			next = append(next, related...)
		}
	}
	return prefetch(ctx, r, dbSchema, edge.To, next, segments[1:])
}

// relationKey returns the key related instances are matched by: the foreign key for
// forward edges, the instance id for reverse edges
func relationKey(edge *schema.Edge, inst *storage.Instance) (uuid.UUID, bool) {
	if edge.Kind == schema.EdgeReverse {
		return inst.ID, true
	}
	id, ok := inst.Values[edge.Field.Name].(uuid.UUID)
	return id, ok
}

func findByKeys(ctx context.Context, r runner, dbSchema string, e *schema.Entity, column string, keys []string) ([]*storage.Instance, error) {
	var columns []string
	for _, f := range e.Columns() {
		columns = append(columns, fmt.Sprintf("t0.\"%s\"", f.Name))
	}
	sqlQuery := fmt.Sprintf("SELECT %s FROM %s t0 WHERE t0.\"%s\" = ANY($1::uuid[]) ORDER BY t0.\"id\";",
		strings.Join(columns, ","), tableName(dbSchema, e), column)
	rows, err := r.QueryContext(ctx, sqlQuery, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows, e)
}

func scanRows(rows *sql.Rows, e *schema.Entity) ([]*storage.Instance, error) {
	columns := e.Columns()
	var instances []*storage.Instance
	for rows.Next() {
		dest := make([]interface{}, len(columns))
		for i, f := range columns {
			dest[i] = scanTarget(f)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		inst := &storage.Instance{Entity: e, Values: map[string]interface{}{}}
		for i, f := range columns {
			v, err := scanned(f, dest[i])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.Key(), f.Name, err)
			}
			if f == schema.IDField {
				inst.ID = v.(uuid.UUID)
			} else {
				inst.Values[f.Name] = v
			}
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func copyInstance(i *storage.Instance) *storage.Instance {
	values := make(map[string]interface{}, len(i.Values))
	for k, v := range i.Values {
		values[k] = v
	}
	return &storage.Instance{Entity: i.Entity, ID: i.ID, Values: values}
}
