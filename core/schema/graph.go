/*
Package schema provides the immutable schema graph of all registered entities.

The graph is built once from a Definition. It precomputes forward and reverse
relation edges so that request handling never needs to introspect entities.
*/
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/relabs-tech/basebone/core"
)

// Definition is the JSON description of all entities
type Definition struct {
	// Apps lists the active namespaces. Entities in other namespaces are rejected.
	Apps []string `json:"apps"`
	// UserEntity is the key of the entity representing logged in users, e.g. "auth.user"
	UserEntity string             `json:"user_entity,omitempty"`
	Entities   []EntityDefinition `json:"entities"`
}

// EntityDefinition is the JSON description of one entity
type EntityDefinition struct {
	App      string  `json:"app"`
	Name     string  `json:"name"`
	Label    string  `json:"label,omitempty"`
	SchemaID string  `json:"schema_id,omitempty"`
	Disabled bool    `json:"disabled,omitempty"`
	Fields   []Field `json:"fields"`
}

// Graph is the precomputed, immutable schema graph
type Graph struct {
	apps       map[string]bool
	entities   map[string]*Entity
	keys       []string
	userEntity *Entity
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Build validates a definition and builds the schema graph
func Build(def Definition) (*Graph, error) {
	g := &Graph{
		apps:     map[string]bool{},
		entities: map[string]*Entity{},
	}
	for _, app := range def.Apps {
		if !namePattern.MatchString(app) {
			return nil, fmt.Errorf("invalid app name '%s'", app)
		}
		g.apps[app] = true
	}

	for i := range def.Entities {
		ed := &def.Entities[i]
		if !g.apps[ed.App] {
			return nil, fmt.Errorf("entity %s: app '%s' is not active", ed.Name, ed.App)
		}
		if !namePattern.MatchString(ed.Name) {
			return nil, fmt.Errorf("invalid entity name '%s'", ed.Name)
		}
		e := &Entity{
			Namespace:  ed.App,
			Name:       ed.Name,
			Label:      ed.Label,
			SchemaID:   ed.SchemaID,
			Disabled:   ed.Disabled,
			fields:     map[string]*Field{},
			forward:    map[string]*Edge{},
			byAccessor: map[string]*Edge{},
		}
		if _, ok := g.entities[e.Key()]; ok {
			return nil, fmt.Errorf("entity %s is defined twice", e.Key())
		}
		for j := range ed.Fields {
			f := ed.Fields[j]
			if !namePattern.MatchString(f.Name) {
				return nil, fmt.Errorf("entity %s: invalid field name '%s'", e.Key(), f.Name)
			}
			if f.Name == IDField.Name {
				return nil, fmt.Errorf("entity %s: field id is implicit", e.Key())
			}
			if _, ok := e.fields[f.Name]; ok {
				return nil, fmt.Errorf("entity %s: field %s is defined twice", e.Key(), f.Name)
			}
			if !f.Type.valid() {
				return nil, fmt.Errorf("entity %s: field %s has unsupported type '%s'", e.Key(), f.Name, f.Type)
			}
			if f.IsRelation() {
				if f.Target == "" {
					return nil, fmt.Errorf("entity %s: relation %s has no target", e.Key(), f.Name)
				}
				if !strings.Contains(f.Target, ".") {
					f.Target = core.EntityKey(e.Namespace, f.Target)
				}
				if f.OnDelete == "" {
					f.OnDelete = OnDeleteCascade
				}
				if f.OnDelete == OnDeleteSetNull && !f.Null {
					return nil, fmt.Errorf("entity %s: relation %s cannot be set to null on delete", e.Key(), f.Name)
				}
			}
			field := &f
			e.Fields = append(e.Fields, field)
			e.fields[f.Name] = field
		}
		g.entities[e.Key()] = e
		g.keys = append(g.keys, e.Key())
	}
	sort.Strings(g.keys)

	// second pass: edges. Reverse edges are registered in definition order.
	for i := range def.Entities {
		ed := &def.Entities[i]
		e := g.entities[core.EntityKey(ed.App, ed.Name)]
		for _, f := range e.Fields {
			if !f.IsRelation() {
				continue
			}
			target, ok := g.entities[f.Target]
			if !ok {
				return nil, fmt.Errorf("entity %s: relation %s has unknown target %s", e.Key(), f.Name, f.Target)
			}
			forward := &Edge{Kind: EdgeForward, Name: f.Name, Accessor: f.Name, Field: f, From: e, To: target}
			e.forward[f.Name] = forward
			e.byAccessor[f.Name] = forward

			reverse := &Edge{Kind: EdgeReverse, Name: e.Name, Accessor: f.RelatedName, Field: f, From: target, To: e}
			target.reverse = append(target.reverse, reverse)
		}
	}
	for _, key := range g.keys {
		target := g.entities[key]
		for _, edge := range target.reverse {
			if edge.Accessor == "" {
				continue
			}
			if _, ok := target.fields[edge.Accessor]; ok {
				return nil, fmt.Errorf("entity %s: related name %s of %s.%s clashes with a field",
					key, edge.Accessor, edge.To.Key(), edge.Field.Name)
			}
			if _, ok := target.byAccessor[edge.Accessor]; ok {
				return nil, fmt.Errorf("entity %s: related name %s of %s.%s is not unique",
					key, edge.Accessor, edge.To.Key(), edge.Field.Name)
			}
			target.byAccessor[edge.Accessor] = edge
		}
	}

	if def.UserEntity != "" {
		user, ok := g.entities[def.UserEntity]
		if !ok {
			return nil, fmt.Errorf("user entity %s is not defined", def.UserEntity)
		}
		g.userEntity = user
	}
	return g, nil
}

// HasApp returns true if namespace is an active app
func (g *Graph) HasApp(namespace string) bool {
	return g.apps[namespace]
}

// Entity returns the entity for a key "namespace.name"
func (g *Graph) Entity(key string) (*Entity, bool) {
	e, ok := g.entities[key]
	return e, ok
}

// Entities returns all entities sorted by key
func (g *Graph) Entities() []*Entity {
	result := make([]*Entity, 0, len(g.keys))
	for _, key := range g.keys {
		result = append(result, g.entities[key])
	}
	return result
}

// UserEntity returns the entity representing logged in users, or nil
func (g *Graph) UserEntity() *Entity {
	return g.userEntity
}

// IsUserEntity returns true if e is the user entity
func (g *Graph) IsUserEntity(e *Entity) bool {
	return g.userEntity != nil && g.userEntity == e
}
