package backend

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/access"
	"github.com/relabs-tech/basebone/core/expand"
	"github.com/relabs-tech/basebone/core/form"
	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/notify"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

/*
Create creates an instance from data and returns it as seen by the principal of rc.

The write runs in one transaction: nested forward relations are resolved first,
then data is validated with the create form of the entity and persisted. The new
instance is read back through the scoped query with the requested expansion, and
finally the reverse relations listed in data are attached. A failure in any phase
rolls back all of them.

After commit, the notification runs in a second transaction. Its failure does not
affect the result.
*/
func (b *Backend) Create(ctx context.Context, rc *RequestContext, data map[string]interface{}) (map[string]interface{}, error) {
	e := rc.Entity
	expansion, err := b.expansions.Resolve(e, rc.ExpandFields, rc.Tree)
	if err != nil {
		return nil, err
	}
	f, err := b.forms.Form(e, form.Create)
	if err != nil {
		return nil, core.Errorf(core.CodeInternal, err, "no create form for %s", e.Title())
	}
	data = b.stampOwner(ctx, rc.Principal, e, data)
	nested := b.relations.WithScope(requestScope{b: b, rc: rc})

	var id uuid.UUID
	var result map[string]interface{}
	err = storage.WithTx(ctx, b.store, func(tx storage.Tx) error {
		values, err := nested.ResolveForward(ctx, tx, e, data)
		if err != nil {
			return err
		}
		cleaned, err := f.Clean(ctx, tx, values, nil)
		if err != nil {
			return err
		}
		id, err = tx.Insert(ctx, e, cleaned)
		if err != nil {
			return storage.Classify(e.Title(), err)
		}
		inst, err := b.requery(ctx, tx, rc, id, expansion)
		if err != nil {
			return err
		}
		touched, err := nested.ResolveReverse(ctx, tx, e, id, data, false)
		if err != nil {
			return err
		}
		if touched {
			if inst, err = b.requery(ctx, tx, rc, id, expansion); err != nil {
				return err
			}
		}
		result, err = b.serialize(ctx, tx, rc, inst, expansion)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.metrics.IncMutation(e.Key(), string(core.OperationCreate))
	b.notify(ctx, rc, id, true, result)
	return result, nil
}

// Update updates the instance with the given id, if it is visible to the principal
// of rc. A partial update only validates the fields present in data. Children of
// reverse relations which are listed in data replace the current children. Phases
// and transactions are the same as for Create.
func (b *Backend) Update(ctx context.Context, rc *RequestContext, id uuid.UUID, data map[string]interface{}, partial bool) (map[string]interface{}, error) {
	e := rc.Entity
	expansion, err := b.expansions.Resolve(e, rc.ExpandFields, rc.Tree)
	if err != nil {
		return nil, err
	}
	action := form.Update
	if partial {
		action = form.PartialUpdate
	}
	f, err := b.forms.Form(e, action)
	if err != nil {
		return nil, core.Errorf(core.CodeInternal, err, "no %s form for %s", action, e.Title())
	}
	data = b.stampOwner(ctx, rc.Principal, e, data)
	nested := b.relations.WithScope(requestScope{b: b, rc: rc})

	var result map[string]interface{}
	err = storage.WithTx(ctx, b.store, func(tx storage.Tx) error {
		current, err := b.lookup(ctx, tx, rc, id, nil)
		if err != nil {
			return err
		}
		values, err := nested.ResolveForward(ctx, tx, e, data)
		if err != nil {
			return err
		}
		cleaned, err := f.Clean(ctx, tx, values, current)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, e, id, cleaned); err != nil {
			return storage.Classify(e.Title(), err)
		}
		current.ClearPrefetched()

		inst, err := b.requery(ctx, tx, rc, id, expansion)
		if err != nil {
			return err
		}
		touched, err := nested.ResolveReverse(ctx, tx, e, id, data, true)
		if err != nil {
			return err
		}
		if touched {
			if inst, err = b.requery(ctx, tx, rc, id, expansion); err != nil {
				return err
			}
		}
		result, err = b.serialize(ctx, tx, rc, inst, expansion)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.metrics.IncMutation(e.Key(), string(core.OperationUpdate))
	b.notify(ctx, rc, id, false, result)
	return result, nil
}

// Destroy deletes the instance with the given id, if it is visible to the principal
// of rc. Destroy sends no notification.
func (b *Backend) Destroy(ctx context.Context, rc *RequestContext, id uuid.UUID) error {
	e := rc.Entity
	err := storage.WithTx(ctx, b.store, func(tx storage.Tx) error {
		if _, err := b.lookup(ctx, tx, rc, id, nil); err != nil {
			return err
		}
		if err := tx.Delete(ctx, e, id); err != nil {
			return storage.Classify(e.Title(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.metrics.IncMutation(e.Key(), string(core.OperationDelete))
	return nil
}

// requery reads a written instance back through the scoped query. A miss means the
// write is not visible to its author, which must not happen.
func (b *Backend) requery(ctx context.Context, tx storage.Tx, rc *RequestContext, id uuid.UUID, expansion expand.Result) (*storage.Instance, error) {
	inst, err := storage.First(ctx, tx, b.scoped(ctx, rc).ByID(id).WithPrefetch(expansion.Prefetch...))
	if errors.Is(err, storage.ErrNoInstance) {
		logger.FromContext(ctx).Errorf("Error 4810: %s %s not found after write", rc.Entity.Key(), id)
		return nil, core.NewError(core.CodePostPersistRequeryMiss, "%s %s not found after write", rc.Entity.Title(), id)
	}
	if err != nil {
		return nil, core.Errorf(core.CodeInternal, err, "cannot re-read %s %s", rc.Entity.Title(), id)
	}
	return inst, nil
}

// stampOwner sets the scoping field of e to non-admin principals, so that they cannot
// create or move instances outside of their scope
func (b *Backend) stampOwner(ctx context.Context, principal *access.Authorization, e *schema.Entity,
	data map[string]interface{}) map[string]interface{} {

	if principal == nil || principal.IsAdmin() {
		return data
	}
	f, ok := b.queries.ScopeField(ctx, e)
	if !ok {
		return data
	}
	stamped := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		stamped[k] = v
	}
	stamped[f.Name] = principal.UserID.String()
	return stamped
}

// requestScope restricts the nested writes of a request to the scope of its principal
type requestScope struct {
	b  *Backend
	rc *RequestContext
}

func (s requestScope) Query(ctx context.Context, e *schema.Entity) storage.Query {
	return s.b.queries.Scope(ctx, storage.All(e), e, s.rc.Principal)
}

func (s requestScope) Stamp(ctx context.Context, e *schema.Entity, values map[string]interface{}) map[string]interface{} {
	return s.b.stampOwner(ctx, s.rc.Principal, e, values)
}

// notify sends the notification of a committed write
func (b *Backend) notify(ctx context.Context, rc *RequestContext, id uuid.UUID, created bool, payload map[string]interface{}) {
	if b.bus == nil {
		return
	}
	b.bus.Notify(ctx, b.store, notify.Event{
		Entity:  rc.Entity.Key(),
		ID:      id,
		Created: created,
		Payload: payload,
	})
}
