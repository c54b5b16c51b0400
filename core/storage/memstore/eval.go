package memstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

func find(snap *snapshot, q storage.Query) ([]*storage.Instance, error) {
	rows, err := filter(snap, q)
	if err != nil {
		return nil, err
	}
	if err := order(snap, q, rows); err != nil {
		return nil, err
	}
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Offset:]
		}
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	instances := make([]*storage.Instance, len(rows))
	for i, r := range rows {
		instances[i] = instance(q.Entity, r)
	}
	for _, path := range q.Prefetch {
		if err := prefetch(snap, q.Entity, instances, storage.PrefetchSegments(path)); err != nil {
			return nil, err
		}
	}
	return instances, nil
}

func instance(e *schema.Entity, r *row) *storage.Instance {
	values := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	return &storage.Instance{Entity: e, ID: r.id, Values: values}
}

func filter(snap *snapshot, q storage.Query) ([]*row, error) {
	if q.Entity == nil {
		return nil, fmt.Errorf("query without entity")
	}
	var result []*row
	for _, r := range sortedRows(snap.tables[q.Entity.Key()]) {
		ok, err := eval(snap, q.Entity, r, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, r)
		}
	}
	return result, nil
}

// lookup returns the value at path, following forward relations
func lookup(snap *snapshot, e *schema.Entity, r *row, path []string) (interface{}, error) {
	hops, f, err := storage.ResolvePath(e, path)
	if err != nil {
		return nil, err
	}
	current := r
	for _, hop := range hops {
		id, ok := current.values[hop.Field.Name].(uuid.UUID)
		if !ok {
			return nil, nil
		}
		current, ok = snap.tables[hop.To.Key()][id]
		if !ok {
			return nil, nil
		}
	}
	if f == schema.IDField {
		return current.id, nil
	}
	return current.values[f.Name], nil
}

func eval(snap *snapshot, e *schema.Entity, r *row, p storage.Predicate) (bool, error) {
	switch p := p.(type) {
	case nil:
		return true, nil
	case storage.And:
		for _, c := range p {
			ok, err := eval(snap, e, r, c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case storage.Or:
		for _, c := range p {
			ok, err := eval(snap, e, r, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case storage.Not:
		ok, err := eval(snap, e, r, p.P)
		return !ok, err
	case storage.Cond:
		v, err := lookup(snap, e, r, p.Path)
		if err != nil {
			return false, err
		}
		return match(v, p.Op, p.Value)
	}
	return false, fmt.Errorf("unsupported predicate %T", p)
}

func match(v interface{}, op storage.Op, arg interface{}) (bool, error) {
	switch op {
	case storage.OpEq:
		if arg == nil {
			return v == nil, nil
		}
		return equal(v, arg), nil
	case storage.OpNe:
		if arg == nil {
			return v != nil, nil
		}
		return !equal(v, arg), nil
	case storage.OpGt, storage.OpGte, storage.OpLt, storage.OpLte:
		c, ok := compare(v, arg)
		if !ok {
			return false, nil
		}
		switch op {
		case storage.OpGt:
			return c > 0, nil
		case storage.OpGte:
			return c >= 0, nil
		case storage.OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case storage.OpIn, storage.OpNotIn:
		list, ok := arg.([]interface{})
		if !ok {
			return false, fmt.Errorf("%s expects a list", op)
		}
		found := false
		for _, x := range list {
			if equal(v, x) {
				found = true
				break
			}
		}
		return found == (op == storage.OpIn), nil
	case storage.OpContains, storage.OpIContains, storage.OpStartsWith, storage.OpEndsWith:
		s, ok := v.(string)
		needle, ok2 := arg.(string)
		if !ok || !ok2 {
			return false, nil
		}
		switch op {
		case storage.OpContains:
			return strings.Contains(s, needle), nil
		case storage.OpIContains:
			return strings.Contains(strings.ToLower(s), strings.ToLower(needle)), nil
		case storage.OpStartsWith:
			return strings.HasPrefix(s, needle), nil
		default:
			return strings.HasSuffix(s, needle), nil
		}
	case storage.OpIsNull:
		want, ok := arg.(bool)
		if !ok {
			return false, fmt.Errorf("isnull expects a boolean")
		}
		return (v == nil) == want, nil
	case storage.OpRange:
		bounds, ok := arg.([]interface{})
		if !ok || len(bounds) != 2 {
			return false, fmt.Errorf("range expects two bounds")
		}
		lo, ok1 := compare(v, bounds[0])
		hi, ok2 := compare(v, bounds[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %s", op)
}

// compare compares two canonical values. The second return value is false if the
// values are not comparable, e.g. because one of them is nil.
func compare(a, b interface{}) (int, bool) {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpFloat(float64(x), float64(y)), true
		case float64:
			return cmpFloat(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpFloat(x, float64(y)), true
		case float64:
			return cmpFloat(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return strings.Compare(x.String(), y.String()), true
		}
	}
	return 0, false
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// order sorts rows by the query's ordering clauses. Nil values sort last in
// ascending and first in descending order, like in postgres.
func order(snap *snapshot, q storage.Query, rows []*row) error {
	if len(q.OrderBy) == 0 {
		return nil
	}
	keys := make(map[*row][]interface{}, len(rows))
	for _, r := range rows {
		key := make([]interface{}, len(q.OrderBy))
		for i, o := range q.OrderBy {
			v, err := lookup(snap, q.Entity, r, o.Path)
			if err != nil {
				return err
			}
			key[i] = v
		}
		keys[r] = key
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ki, kj := keys[rows[i]], keys[rows[j]]
		for n, o := range q.OrderBy {
			c := compareNullsLast(ki[n], kj[n])
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return nil
}

func compareNullsLast(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, _ := compare(a, b)
	return c
}

func prefetch(snap *snapshot, e *schema.Entity, instances []*storage.Instance, segments []string) error {
	if len(segments) == 0 || len(instances) == 0 {
		return nil
	}
	accessor := segments[0]
	edge, ok := e.EdgeByAccessor(accessor)
	if !ok {
		return fmt.Errorf("cannot prefetch %s: %s has no relation with this accessor", accessor, e.Key())
	}
	var next []*storage.Instance
	for _, inst := range instances {
		related, done := inst.Related[accessor]
		if !done {
			related = loadRelated(snap, edge, inst)
			inst.SetRelated(accessor, related)
		}
		next = append(next, related...)
	}
	return prefetch(snap, edge.To, next, segments[1:])
}

func loadRelated(snap *snapshot, edge *schema.Edge, inst *storage.Instance) []*storage.Instance {
	if edge.Kind == schema.EdgeForward {
		id, ok := inst.Values[edge.Field.Name].(uuid.UUID)
		if !ok {
			return nil
		}
		r, ok := snap.tables[edge.To.Key()][id]
		if !ok {
			return nil
		}
		return []*storage.Instance{instance(edge.To, r)}
	}
	var result []*storage.Instance
	for _, r := range sortedRows(snap.tables[edge.To.Key()]) {
		if equal(r.values[edge.Field.Name], inst.ID) {
			result = append(result, instance(edge.To, r))
		}
	}
	return result
}
