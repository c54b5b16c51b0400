/*
Package expand resolves the expansion paths of a request.

An expansion path is a dot separated chain of relations, for example
"author.profile" on blog posts. Each segment is either a forward relation
field or a reverse relation, named by the referencing entity or its related
name. Resolution yields the prefetch paths for the storage engine, where
segments are accessors joined with "__", and the shape of the output.

Resolution is deterministic and results are memoized.
*/
package expand

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/schema"
)

// DefaultCacheSize is the number of memoized resolutions of a Resolver
const DefaultCacheSize = 1024

// Shape describes the output of an instance. A flat shape renders relation fields
// as ids. Nested relations are rendered with their own shape.
type Shape struct {
	Entity *schema.Entity
	// Tree is set when every node renders its children
	Tree   *schema.Tree
	Nested []*Nested
}

// Nested is an expanded relation of a shape
type Nested struct {
	Edge  *schema.Edge
	Shape *Shape
}

// Flat returns true if the shape expands no relation
func (s *Shape) Flat() bool {
	return len(s.Nested) == 0 && s.Tree == nil
}

// Lookup returns the nested shape for an accessor
func (s *Shape) Lookup(accessor string) (*Nested, bool) {
	for _, n := range s.Nested {
		if n.Edge.Accessor == accessor {
			return n, true
		}
	}
	return nil, false
}

func (s *Shape) add(edge *schema.Edge) *Shape {
	if n, ok := s.Lookup(edge.Accessor); ok {
		return n.Shape
	}
	n := &Nested{Edge: edge, Shape: &Shape{Entity: edge.To}}
	s.Nested = append(s.Nested, n)
	return n.Shape
}

// Result is a resolved expansion. Results are shared and must not be modified.
type Result struct {
	Prefetch []string
	Shape    *Shape
}

// Resolver resolves expansion paths. It is safe for concurrent use.
type Resolver struct {
	cache *lru.Cache[string, Result]
}

// NewResolver returns a resolver which memoizes up to size resolutions
func NewResolver(size int) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Result](size)
	if err != nil {
		panic(err)
	}
	return &Resolver{cache: cache}
}

// Resolve resolves paths against e. tree may be nil. Empty paths are ignored.
func (r *Resolver) Resolve(e *schema.Entity, paths []string, tree *schema.Tree) (Result, error) {
	key := cacheKey(e, paths, tree)
	if result, ok := r.cache.Get(key); ok {
		return result, nil
	}
	result, err := Resolve(e, paths, tree)
	if err != nil {
		return result, err
	}
	r.cache.Add(key, result)
	return result, nil
}

// Resolve resolves paths against e without memoization
func Resolve(e *schema.Entity, paths []string, tree *schema.Tree) (Result, error) {
	result := Result{Shape: &Shape{Entity: e, Tree: tree}}
	seen := map[string]bool{}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		shape := result.Shape
		current := e
		var accessors []string
		for _, segment := range strings.Split(path, ".") {
			edge, err := resolveSegment(current, segment, path)
			if err != nil {
				return Result{}, err
			}
			accessors = append(accessors, edge.Accessor)
			shape = shape.add(edge)
			current = edge.To
		}
		prefetch := strings.Join(accessors, "__")
		if !seen[prefetch] {
			seen[prefetch] = true
			result.Prefetch = append(result.Prefetch, prefetch)
		}
	}
	return result, nil
}

func resolveSegment(e *schema.Entity, segment, path string) (*schema.Edge, error) {
	if edge, ok := e.Forward(segment); ok {
		return edge, nil
	}
	if edge, ok := e.Reverse(segment); ok {
		if edge.Accessor == "" {
			return nil, core.NewError(core.CodeUnresolvableExpansionSegment,
				"cannot expand '%s': reverse relation '%s' of %s has no related name", path, segment, e.Key())
		}
		return edge, nil
	}
	return nil, core.NewError(core.CodeUnresolvableExpansionSegment,
		"cannot expand '%s': '%s' is not a relation of %s", path, segment, e.Key())
}

func cacheKey(e *schema.Entity, paths []string, tree *schema.Tree) string {
	var b strings.Builder
	b.WriteString(e.Key())
	b.WriteByte(0)
	if tree != nil {
		b.WriteString(tree.ParentField)
	}
	for _, path := range paths {
		b.WriteByte(0)
		b.WriteString(path)
	}
	return b.String()
}
