/*
Package batch runs actions on a list of instances.

A batch request names an action and lists the ids of the instances to act
on:

	{"action": "delete", "data": ["id1", "id2"]}

Actions are registered per entity or for all entities. The handler of an
action runs within one transaction and receives the caller's scoped query
restricted to the listed ids, so it can only touch instances visible to the
caller. The action "delete" is built in.
*/
package batch

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/access"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// AnyEntity registers an action for all entities
const AnyEntity = "*"

// ActionDelete is the built-in action which deletes the listed instances
const ActionDelete = "delete"

// Request is the body of a batch request
type Request struct {
	Action string        `json:"action"`
	Data   []interface{} `json:"data"`
}

// Context is passed to the handler of an action
type Context struct {
	Entity    *schema.Entity
	Principal *access.Authorization
	// Query selects the listed instances which are visible to the principal
	Query storage.Query
	IDs   []uuid.UUID
}

// Handler implements an action. Return a core.Error to control the error reported
// to the client; any other error is reported as core.ErrBatchAction.
type Handler func(ctx context.Context, tx storage.Tx, c Context) error

type actionKey struct {
	entity string
	action string
}

// Registry holds the batch actions
type Registry struct {
	handlers map[actionKey]Handler
}

// NewRegistry returns a registry with the built-in actions
func NewRegistry() *Registry {
	r := &Registry{handlers: map[actionKey]Handler{}}
	r.Register(AnyEntity, ActionDelete, deleteAction)
	return r
}

// Register registers an action for an entity key, or for all entities with AnyEntity.
// Actions must be registered before requests are served.
func (r *Registry) Register(entity, action string, handler Handler) {
	r.handlers[actionKey{entity, action}] = handler
}

// Lookup returns the handler of an action for an entity. Actions registered for the
// entity take precedence over actions registered for all entities.
func (r *Registry) Lookup(entity, action string) (Handler, bool) {
	if h, ok := r.handlers[actionKey{entity, action}]; ok {
		return h, true
	}
	h, ok := r.handlers[actionKey{AnyEntity, action}]
	return h, ok
}

// Run runs the requested action. scoped is the caller's scoped query of the entity.
// allowed reports whether the admin configuration permits the action.
func (r *Registry) Run(ctx context.Context, store storage.Store, principal *access.Authorization,
	scoped storage.Query, req Request, allowed func(action string) bool) error {

	e := scoped.Entity
	handler, ok := r.Lookup(e.Key(), req.Action)
	if !ok || req.Action == "" || (allowed != nil && !allowed(req.Action)) {
		return core.NewError(core.CodeUnknownBatchAction, "batch action '%s' is not supported by %s", req.Action, e.Title())
	}

	if len(req.Data) == 0 {
		return core.NewError(core.CodeValidation, "no instances listed").AddField("data", "This list may not be empty.")
	}
	ids := make([]uuid.UUID, 0, len(req.Data))
	for _, item := range req.Data {
		id, err := schema.IDField.Coerce(item)
		if err != nil || id == nil {
			return core.NewError(core.CodeValidation, "invalid instance id").AddField("data", "a valid UUID is required")
		}
		ids = append(ids, id.(uuid.UUID))
	}

	c := Context{Entity: e, Principal: principal, Query: scoped.ByIDs(ids), IDs: ids}
	var handlerErr error
	err := storage.WithTx(ctx, store, func(tx storage.Tx) error {
		handlerErr = handler(ctx, tx, c)
		return handlerErr
	})
	if handlerErr != nil {
		var cerr *core.Error
		if errors.As(handlerErr, &cerr) {
			return cerr
		}
		return core.Errorf(core.CodeBatchAction, handlerErr, "batch action '%s' failed: %s", req.Action, handlerErr)
	}
	return err
}

func deleteAction(ctx context.Context, tx storage.Tx, c Context) error {
	instances, err := tx.Find(ctx, c.Query.Unpaged())
	if err != nil {
		return core.Errorf(core.CodeInternal, err, "cannot find instances")
	}
	for _, inst := range instances {
		if err := tx.Delete(ctx, c.Entity, inst.ID); err != nil && !errors.Is(err, storage.ErrNoInstance) {
			return core.Errorf(core.CodeInternal, err, "cannot delete %s", inst.ID)
		}
	}
	return nil
}
