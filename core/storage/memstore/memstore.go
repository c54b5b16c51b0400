/*
Package memstore is an in-memory storage engine.

Transactions work on a private copy of the data and are serialized: at most one
transaction is open at any time, further transactions wait in Begin. Readers
outside transactions always observe the last committed state.
*/
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

var errTxDone = errors.New("transaction has already been committed or rolled back")

type row struct {
	id     uuid.UUID
	seq    uint64
	values map[string]interface{}
}

type snapshot struct {
	tables map[string]map[uuid.UUID]*row
	seq    uint64
}

func (s *snapshot) clone() *snapshot {
	c := &snapshot{tables: make(map[string]map[uuid.UUID]*row, len(s.tables)), seq: s.seq}
	for key, table := range s.tables {
		t := make(map[uuid.UUID]*row, len(table))
		for id, r := range table {
			values := make(map[string]interface{}, len(r.values))
			for k, v := range r.values {
				values[k] = v
			}
			t[id] = &row{id: r.id, seq: r.seq, values: values}
		}
		c.tables[key] = t
	}
	return c
}

func (s *snapshot) table(e *schema.Entity) map[uuid.UUID]*row {
	t, ok := s.tables[e.Key()]
	if !ok {
		t = map[uuid.UUID]*row{}
		s.tables[e.Key()] = t
	}
	return t
}

// Store is an in-memory storage.Store
type Store struct {
	sem  chan struct{}
	mu   sync.RWMutex
	data *snapshot
}

// New returns an empty store
func New() *Store {
	return &Store{
		sem:  make(chan struct{}, 1),
		data: &snapshot{tables: map[string]map[uuid.UUID]*row{}},
	}
}

func (s *Store) current() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Find implements storage.Reader
func (s *Store) Find(ctx context.Context, q storage.Query) ([]*storage.Instance, error) {
	return find(s.current(), q)
}

// Count implements storage.Reader
func (s *Store) Count(ctx context.Context, q storage.Query) (int, error) {
	rows, err := filter(s.current(), q)
	return len(rows), err
}

// Begin implements storage.Store. It blocks until no other transaction is open or
// ctx is done.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &tx{store: s, snap: s.current().clone()}, nil
}

type tx struct {
	store *Store
	snap  *snapshot
	done  bool
}

func (t *tx) finish() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	<-t.store.sem
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.store.mu.Lock()
	t.store.data = t.snap
	t.store.mu.Unlock()
	return t.finish()
}

func (t *tx) Rollback() error {
	return t.finish()
}

func (t *tx) Find(ctx context.Context, q storage.Query) ([]*storage.Instance, error) {
	if t.done {
		return nil, errTxDone
	}
	return find(t.snap, q)
}

func (t *tx) Count(ctx context.Context, q storage.Query) (int, error) {
	if t.done {
		return 0, errTxDone
	}
	rows, err := filter(t.snap, q)
	return len(rows), err
}

func (t *tx) Insert(ctx context.Context, e *schema.Entity, values map[string]interface{}) (uuid.UUID, error) {
	if t.done {
		return uuid.UUID{}, errTxDone
	}
	id := uuid.New()
	r := &row{id: id, values: map[string]interface{}{}}
	for _, f := range e.Fields {
		r.values[f.Name] = values[f.Name]
	}
	if err := t.check(e, r); err != nil {
		return uuid.UUID{}, err
	}
	t.snap.seq++
	r.seq = t.snap.seq
	t.snap.table(e)[id] = r
	return id, nil
}

func (t *tx) Update(ctx context.Context, e *schema.Entity, id uuid.UUID, values map[string]interface{}) error {
	if t.done {
		return errTxDone
	}
	existing, ok := t.snap.table(e)[id]
	if !ok {
		return fmt.Errorf("%s %s: %w", e.Key(), id, storage.ErrNoInstance)
	}
	updated := &row{id: id, seq: existing.seq, values: map[string]interface{}{}}
	for k, v := range existing.values {
		updated.values[k] = v
	}
	for k, v := range values {
		if _, ok := e.Field(k); !ok || k == schema.IDField.Name {
			return fmt.Errorf("%s has no writable field %s", e.Key(), k)
		}
		updated.values[k] = v
	}
	if err := t.check(e, updated); err != nil {
		return err
	}
	t.snap.table(e)[id] = updated
	return nil
}

// check enforces unique fields and relation targets
func (t *tx) check(e *schema.Entity, r *row) error {
	table := t.snap.table(e)
	for _, f := range e.Fields {
		v := r.values[f.Name]
		if v == nil {
			continue
		}
		if f.Unique {
			for _, other := range table {
				if other.id != r.id && equal(other.values[f.Name], v) {
					return fmt.Errorf("%s.%s: %w", e.Key(), f.Name, storage.ErrUniqueViolation)
				}
			}
		}
		if f.IsRelation() {
			edge, _ := e.Forward(f.Name)
			target, ok := v.(uuid.UUID)
			if _, exists := t.snap.table(edge.To)[target]; !ok || !exists {
				return fmt.Errorf("%s.%s: %w", e.Key(), f.Name, storage.ErrReferenceViolation)
			}
		}
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, e *schema.Entity, id uuid.UUID) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.snap.table(e)[id]; !ok {
		return fmt.Errorf("%s %s: %w", e.Key(), id, storage.ErrNoInstance)
	}
	t.delete(e, id)
	return nil
}

func (t *tx) delete(e *schema.Entity, id uuid.UUID) {
	table := t.snap.table(e)
	if _, ok := table[id]; !ok {
		return // already deleted by an earlier cascade
	}
	delete(table, id)
	for _, edge := range e.ReverseEdges() {
		source := t.snap.table(edge.To)
		for _, r := range sortedRows(source) {
			if !equal(r.values[edge.Field.Name], id) {
				continue
			}
			switch edge.Field.OnDelete {
			case schema.OnDeleteSetNull:
				r.values[edge.Field.Name] = nil
			default:
				t.delete(edge.To, r.id)
			}
		}
	}
}

func sortedRows(table map[uuid.UUID]*row) []*row {
	rows := make([]*row, 0, len(table))
	for _, r := range table {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows
}
