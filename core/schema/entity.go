package schema

import (
	"github.com/relabs-tech/basebone/core"
)

// EdgeKind distinguishes forward from reverse relation edges
type EdgeKind int

// edge kinds
const (
	// EdgeForward follows a relation field to its target, yielding at most one instance
	EdgeForward EdgeKind = iota
	// EdgeReverse follows a relation field backwards, yielding many instances
	EdgeReverse
)

// Edge is a traversable relation between two entities.
//
// For a forward edge, Name and Accessor are both the name of the relation field.
// For a reverse edge, Name is the name of the referencing entity and Accessor is
// the related name declared on the relation field. A reverse edge without
// related name has an empty Accessor and cannot be traversed by clients.
type Edge struct {
	Kind     EdgeKind
	Name     string
	Accessor string
	// Field is the relation field on the referencing side
	Field *Field
	From  *Entity
	To    *Entity
}

// Many returns true if traversing the edge yields a list of instances
func (e *Edge) Many() bool {
	return e.Kind == EdgeReverse
}

// Tree describes a self-referencing parent relation which turns an entity into a tree
type Tree struct {
	// ParentField is the relation field pointing to the parent node
	ParentField string
	// RelatedAccessor is the accessor of the children
	RelatedAccessor string
	// Default is the value of ParentField for root nodes
	Default interface{}
}

// Entity describes a registered entity type. Entities are immutable once the
// graph has been built.
type Entity struct {
	Namespace string
	Name      string
	Label     string
	SchemaID  string
	Disabled  bool
	Fields    []*Field

	fields     map[string]*Field
	forward    map[string]*Edge
	reverse    []*Edge
	byAccessor map[string]*Edge
}

// Key returns the qualified name "namespace.name"
func (e *Entity) Key() string {
	return core.EntityKey(e.Namespace, e.Name)
}

// Title returns the label of the entity, or its key if it has no label
func (e *Entity) Title() string {
	if e.Label != "" {
		return e.Label
	}
	return e.Key()
}

// Field returns the field with the given name, including the implicit id field
func (e *Entity) Field(name string) (*Field, bool) {
	if name == IDField.Name {
		return IDField, true
	}
	f, ok := e.fields[name]
	return f, ok
}

// Columns returns all fields including the implicit id field, id first
func (e *Entity) Columns() []*Field {
	return append([]*Field{IDField}, e.Fields...)
}

// Forward returns the forward edge for a relation field
func (e *Entity) Forward(name string) (*Edge, bool) {
	edge, ok := e.forward[name]
	return edge, ok
}

// Reverse returns the reverse edge for a segment name. The name can either be
// the name of the referencing entity or the accessor.
func (e *Entity) Reverse(name string) (*Edge, bool) {
	for _, edge := range e.reverse {
		if edge.Name == name {
			return edge, true
		}
	}
	for _, edge := range e.reverse {
		if edge.Accessor != "" && edge.Accessor == name {
			return edge, true
		}
	}
	return nil, false
}

// ReverseEdges returns all reverse edges in registration order
func (e *Entity) ReverseEdges() []*Edge {
	return e.reverse
}

// EdgeByAccessor returns the forward or reverse edge with the given accessor. This is
// how prefetch paths are resolved.
func (e *Entity) EdgeByAccessor(accessor string) (*Edge, bool) {
	edge, ok := e.byAccessor[accessor]
	return edge, ok
}

// References returns all relation fields which point to the entity with the given key
func (e *Entity) References(target string) []*Field {
	var result []*Field
	for _, f := range e.Fields {
		if f.IsRelation() && f.Target == target {
			result = append(result, f)
		}
	}
	return result
}

// TreeFor returns the tree descriptor for a parent field. The parent field must be a
// relation to the entity itself with a related name.
func (e *Entity) TreeFor(parentField string) (*Tree, bool) {
	f, ok := e.fields[parentField]
	if !ok || !f.IsRelation() || f.Target != e.Key() || f.RelatedName == "" {
		return nil, false
	}
	return &Tree{ParentField: f.Name, RelatedAccessor: f.RelatedName, Default: f.Default}, true
}
