/*
Package relations resolves nested relation payloads of writes.

Forward relations are resolved before the primary instance is validated. A
relation field may carry an object instead of an id: an object with an id
updates the referenced instance, an object without id creates one. The object
is replaced by the resulting id.

Reverse relations are resolved after the primary instance is persisted. The
payload lists the children under the related name; each child is an id, an
object with id (update) or an object without id (create), and is attached to
the primary instance. In detail mode, which is used for updates, children
not listed anymore are detached: their relation is set to null if it is
nullable, otherwise they are deleted.

All writes go through the given transaction. A resolver with a scope only reads
and writes the instances visible in that scope and stamps the owner of every
nested instance it creates or updates.
*/
package relations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/form"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// Scope restricts nested writes to the instances of one principal
type Scope interface {
	// Query returns the query of all instances of e within the scope
	Query(ctx context.Context, e *schema.Entity) storage.Query
	// Stamp returns values with the owner of an instance of e set to the scope's owner
	Stamp(ctx context.Context, e *schema.Entity, values map[string]interface{}) map[string]interface{}
}

type unscoped struct{}

func (unscoped) Query(ctx context.Context, e *schema.Entity) storage.Query {
	return storage.All(e)
}

func (unscoped) Stamp(ctx context.Context, e *schema.Entity, values map[string]interface{}) map[string]interface{} {
	return values
}

// Resolver resolves nested relations with the forms of a registry
type Resolver struct {
	Forms *form.Registry

	scope Scope
}

// New returns a relation resolver which sees all instances
func New(forms *form.Registry) *Resolver {
	return &Resolver{Forms: forms, scope: unscoped{}}
}

// WithScope returns a copy of the resolver restricted to scope
func (r *Resolver) WithScope(scope Scope) *Resolver {
	scoped := *r
	scoped.scope = scope
	return &scoped
}

// ResolveForward returns a copy of data where nested objects of forward relations are
// replaced by the ids of the created or updated instances
func (r *Resolver) ResolveForward(ctx context.Context, tx storage.Tx, e *schema.Entity, data map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		result[k] = v
	}
	for _, f := range e.Fields {
		if !f.IsRelation() {
			continue
		}
		switch v := data[f.Name].(type) {
		case map[string]interface{}:
			edge, _ := e.Forward(f.Name)
			id, err := r.save(ctx, tx, edge.To, v)
			if err != nil {
				return nil, prefixed(err, f.Name)
			}
			result[f.Name] = id
		case []interface{}:
			return nil, core.NewError(core.CodeRelationResolution,
				"relation '%s' of %s expects an id or an object, not a list", f.Name, e.Title())
		}
	}
	return result, nil
}

// ResolveReverse creates, updates and attaches the children listed in data under the
// related names of e's reverse relations. It returns true if any children were listed.
func (r *Resolver) ResolveReverse(ctx context.Context, tx storage.Tx, e *schema.Entity, id uuid.UUID,
	data map[string]interface{}, detail bool) (bool, error) {

	touched := false
	for _, edge := range e.ReverseEdges() {
		if edge.Accessor == "" {
			continue
		}
		raw, ok := data[edge.Accessor]
		if !ok {
			continue
		}
		touched = true
		items, ok := raw.([]interface{})
		if !ok && raw != nil {
			return touched, core.NewError(core.CodeRelationResolution,
				"'%s' of %s expects a list", edge.Accessor, e.Title())
		}
		keep := map[uuid.UUID]bool{}
		for i, item := range items {
			childID, err := r.attach(ctx, tx, edge, id, item)
			if err != nil {
				return touched, prefixed(err, fmt.Sprintf("%s.%d", edge.Accessor, i))
			}
			keep[childID] = true
		}
		if detail {
			if err := r.detach(ctx, tx, edge, id, keep); err != nil {
				return touched, err
			}
		}
	}
	return touched, nil
}

func (r *Resolver) attach(ctx context.Context, tx storage.Tx, edge *schema.Edge, parent uuid.UUID, item interface{}) (uuid.UUID, error) {
	child := edge.To
	switch x := item.(type) {
	case map[string]interface{}:
		values := make(map[string]interface{}, len(x)+1)
		for k, v := range x {
			values[k] = v
		}
		values[edge.Field.Name] = parent
		return r.save(ctx, tx, child, values)
	case string:
		id, err := uuid.Parse(x)
		if err != nil {
			return id, core.NewError(core.CodeRelationResolution, "'%s' is not a valid id of %s", x, child.Title())
		}
		if _, err := r.lookup(ctx, tx, child, id); err != nil {
			return id, err
		}
		if err := tx.Update(ctx, child, id, map[string]interface{}{edge.Field.Name: parent}); err != nil {
			return id, storage.Classify(child.Title(), err)
		}
		return id, nil
	}
	return uuid.UUID{}, core.NewError(core.CodeRelationResolution,
		"children of %s must be ids or objects", child.Title())
}

// save creates an instance, or updates it if values carry an id
func (r *Resolver) save(ctx context.Context, tx storage.Tx, e *schema.Entity, values map[string]interface{}) (uuid.UUID, error) {
	values, err := r.ResolveForward(ctx, tx, e, values)
	if err != nil {
		return uuid.UUID{}, err
	}
	rawID, hasID := values[schema.IDField.Name]
	delete(values, schema.IDField.Name)

	if !hasID || rawID == nil {
		f, err := r.Forms.Form(e, form.Create)
		if err != nil {
			return uuid.UUID{}, err
		}
		cleaned, err := f.Clean(ctx, tx, r.scope.Stamp(ctx, e, values), nil)
		if err != nil {
			return uuid.UUID{}, err
		}
		id, err := tx.Insert(ctx, e, cleaned)
		if err != nil {
			return id, storage.Classify(e.Title(), err)
		}
		_, err = r.ResolveReverse(ctx, tx, e, id, values, false)
		return id, err
	}

	id, err := schema.IDField.Coerce(rawID)
	if err != nil {
		return uuid.UUID{}, core.NewError(core.CodeRelationResolution, "%v is not a valid id of %s", rawID, e.Title())
	}
	current, err := r.lookup(ctx, tx, e, id.(uuid.UUID))
	if err != nil {
		return uuid.UUID{}, err
	}
	f, err := r.Forms.Form(e, form.PartialUpdate)
	if err != nil {
		return uuid.UUID{}, err
	}
	cleaned, err := f.Clean(ctx, tx, r.scope.Stamp(ctx, e, values), current)
	if err != nil {
		return uuid.UUID{}, err
	}
	if err := tx.Update(ctx, e, current.ID, cleaned); err != nil {
		return current.ID, storage.Classify(e.Title(), err)
	}
	_, err = r.ResolveReverse(ctx, tx, e, current.ID, values, true)
	return current.ID, err
}

// lookup returns the instance of e with the given id, if it is within the scope
func (r *Resolver) lookup(ctx context.Context, tx storage.Tx, e *schema.Entity, id uuid.UUID) (*storage.Instance, error) {
	inst, err := storage.First(ctx, tx, r.scope.Query(ctx, e).ByID(id))
	if errors.Is(err, storage.ErrNoInstance) {
		return nil, core.NewError(core.CodeRelationResolution, "%s %s does not exist", e.Title(), id)
	}
	return inst, err
}

// detach releases the children of parent within the scope which are not kept
func (r *Resolver) detach(ctx context.Context, tx storage.Tx, edge *schema.Edge, parent uuid.UUID, keep map[uuid.UUID]bool) error {
	children, err := tx.Find(ctx, r.scope.Query(ctx, edge.To).Filter(
		storage.Cond{Path: []string{edge.Field.Name}, Op: storage.OpEq, Value: parent}))
	if err != nil {
		return err
	}
	for _, child := range children {
		if keep[child.ID] {
			continue
		}
		if edge.Field.Null {
			err = tx.Update(ctx, edge.To, child.ID, map[string]interface{}{edge.Field.Name: nil})
		} else {
			err = tx.Delete(ctx, edge.To, child.ID)
		}
		if err != nil {
			return storage.Classify(edge.To.Title(), err)
		}
	}
	return nil
}

// prefixed qualifies the field problems of a nested validation error with the path
// of the nested payload
func prefixed(err error, prefix string) error {
	var e *core.Error
	if !errors.As(err, &e) || !e.HasFields() {
		return err
	}
	result := core.NewError(e.Code, "%s: %s", prefix, e.Message)
	for name, messages := range e.Fields {
		for _, m := range messages {
			result.AddField(prefix+"."+name, m)
		}
	}
	return result
}
