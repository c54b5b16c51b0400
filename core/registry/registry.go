/*
Package registry resolves entity types from route segments.

The registry is populated once at startup from the schema graph and is
read-only afterwards, so it is safe for concurrent use by any number of
requests. The package also provides a persistent key/value registry in the
database, see NewPersistent.
*/
package registry

import (
	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/schema"
)

// Registry resolves (namespace, name) pairs to entity descriptors
type Registry struct {
	graph *schema.Graph
}

// New creates a new entity registry for the schema graph
func New(graph *schema.Graph) *Registry {
	return &Registry{graph: graph}
}

// Resolve returns the entity registered as name within namespace.
//
// It fails with core.ErrUnknownNamespace if namespace is not an active app and with
// core.ErrUnknownEntity if the entity is not registered or disabled.
func (r *Registry) Resolve(namespace, name string) (*schema.Entity, error) {
	if !r.graph.HasApp(namespace) {
		return nil, core.NewError(core.CodeUnknownNamespace, "app '%s' is not valid", namespace)
	}
	e, ok := r.graph.Entity(core.EntityKey(namespace, name))
	if !ok || e.Disabled {
		return nil, core.NewError(core.CodeUnknownEntity, "model '%s' is not valid in app '%s'", name, namespace)
	}
	return e, nil
}

// Entities returns all enabled entities sorted by key
func (r *Registry) Entities() []*schema.Entity {
	var result []*schema.Entity
	for _, e := range r.graph.Entities() {
		if !e.Disabled {
			result = append(result, e)
		}
	}
	return result
}

// Graph returns the underlying schema graph
func (r *Registry) Graph() *schema.Graph {
	return r.graph
}
