package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core/schema"
)

// Op is a comparison operator of a condition
type Op string

// all supported operators
const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNotIn      Op = "not_in"
	OpContains   Op = "contains"
	OpIContains  Op = "icontains"
	OpStartsWith Op = "startswith"
	OpEndsWith   Op = "endswith"
	OpIsNull     Op = "isnull"
	OpRange      Op = "range"
)

// Predicate is a node of a predicate tree, one of Cond, And, Or or Not
type Predicate interface {
	predicate()
	String() string
}

// Cond compares the field at Path with Value. Path is a sequence of forward relation
// fields followed by the compared field. Value is coerced to the canonical type of the
// compared field; for OpIn and OpNotIn it is a []interface{}, for OpRange a []interface{}
// with two elements, for OpIsNull a bool.
type Cond struct {
	Path  []string
	Op    Op
	Value interface{}
}

// And is a conjunction. An empty conjunction is true.
type And []Predicate

// Or is a disjunction. An empty disjunction is false.
type Or []Predicate

// Not negates a predicate
type Not struct {
	P Predicate
}

func (Cond) predicate() {}
func (And) predicate()  {}
func (Or) predicate()   {}
func (Not) predicate()  {}

func (c Cond) String() string {
	return fmt.Sprintf("%s %s %v", strings.Join(c.Path, "."), c.Op, c.Value)
}

func (a And) String() string {
	return join("AND", a)
}

func (o Or) String() string {
	return join("OR", o)
}

func (n Not) String() string {
	return "NOT " + n.P.String()
}

func join(op string, ps []Predicate) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

// Order orders by the field at Path
type Order struct {
	Path []string
	Desc bool
}

// Query selects instances of one entity. Queries are values: every modifier returns
// a new query and leaves the receiver untouched.
type Query struct {
	Entity *schema.Entity
	// Where is the conjunction of all filters
	Where And
	// OrderBy are the ordering clauses in order of precedence. Instances are ordered by
	// id after all clauses, so that ordering is total.
	OrderBy []Order
	// Prefetch are the relation paths to load along with the instances. Path segments
	// are relation accessors joined with "__".
	Prefetch []string
	// Limit of zero means no limit
	Limit  int
	Offset int
}

// All returns a query for all instances of the entity
func All(e *schema.Entity) Query {
	return Query{Entity: e}
}

// Filter returns a new query with the predicates added to the conjunction
func (q Query) Filter(ps ...Predicate) Query {
	q.Where = append(append(And{}, q.Where...), ps...)
	return q
}

// Ordered returns a new query with the ordering clauses appended
func (q Query) Ordered(orders ...Order) Query {
	q.OrderBy = append(append([]Order{}, q.OrderBy...), orders...)
	return q
}

// WithPrefetch returns a new query which prefetches the given paths
func (q Query) WithPrefetch(paths ...string) Query {
	q.Prefetch = append(append([]string{}, q.Prefetch...), paths...)
	return q
}

// Page returns a new query restricted to one page
func (q Query) Page(limit, offset int) Query {
	q.Limit = limit
	q.Offset = offset
	return q
}

// Unpaged returns a new query without limit and offset
func (q Query) Unpaged() Query {
	q.Limit = 0
	q.Offset = 0
	return q
}

// ByID returns a new query restricted to the instance with the given id
func (q Query) ByID(id uuid.UUID) Query {
	return q.Filter(Cond{Path: []string{schema.IDField.Name}, Op: OpEq, Value: id})
}

// ByIDs returns a new query restricted to the instances with the given ids
func (q Query) ByIDs(ids []uuid.UUID) Query {
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return q.Filter(Cond{Path: []string{schema.IDField.Name}, Op: OpIn, Value: values})
}

// PrefetchSegments splits a prefetch path into its accessors
func PrefetchSegments(path string) []string {
	return strings.Split(path, "__")
}

// ResolvePath resolves a field path against an entity. All segments except the last
// must be forward relations. It returns the entities visited for each relation hop
// and the terminal field.
func ResolvePath(e *schema.Entity, path []string) ([]*schema.Edge, *schema.Field, error) {
	if len(path) == 0 {
		return nil, nil, fmt.Errorf("empty field path")
	}
	var hops []*schema.Edge
	current := e
	for i, segment := range path {
		if i == len(path)-1 {
			f, ok := current.Field(segment)
			if !ok {
				return nil, nil, fmt.Errorf("%s has no field %s", current.Key(), segment)
			}
			return hops, f, nil
		}
		edge, ok := current.Forward(segment)
		if !ok {
			return nil, nil, fmt.Errorf("%s has no relation %s", current.Key(), segment)
		}
		hops = append(hops, edge)
		current = edge.To
	}
	return nil, nil, fmt.Errorf("unreachable")
}
