/*
Package query builds the storage query of a request.

A query starts with all instances of an entity and passes a fixed sequence of
stages:

 1. the scope filter, which restricts non-admin principals to their own rows
 2. the client's filter conditions
 3. the client's ordering
 4. the tree root restriction for top-level tree listings

Each stage is a no-op on empty input.
*/
package query

import (
	"context"
	"strings"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/access"
	"github.com/relabs-tech/basebone/core/admin"
	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// Builder builds queries for the entities of a schema graph
type Builder struct {
	Graph *schema.Graph
	Admin admin.Store
}

// New returns a new query builder. admin may be nil.
func New(graph *schema.Graph, adminStore admin.Store) *Builder {
	if adminStore == nil {
		adminStore = admin.Static{}
	}
	return &Builder{Graph: graph, Admin: adminStore}
}

// ScopeField returns the field which scopes rows of e to the logged in user. The
// second return value is false if e is not scoped.
//
// Missing or malformed admin configuration means no scoping. Malformed means the
// configured field does not exist or is not a relation to the user entity.
func (b *Builder) ScopeField(ctx context.Context, e *schema.Entity) (*schema.Field, bool) {
	user := b.Graph.UserEntity()
	if user == nil || len(e.References(user.Key())) == 0 {
		return nil, false
	}
	config, ok := b.Admin.Lookup(e.Key())
	if !ok || config.AuthFilterField == "" || !config.FilterByLogin() {
		return nil, false
	}
	f, ok := e.Field(config.AuthFilterField)
	if !ok || !f.IsRelation() || f.Target != user.Key() {
		logger.FromContext(ctx).Debugf("ignore auth_filter_field '%s' of %s: not a relation to %s",
			config.AuthFilterField, e.Key(), user.Key())
		return nil, false
	}
	return f, true
}

// Scope restricts q to the rows visible to principal. Admins and a nil principal
// see everything.
func (b *Builder) Scope(ctx context.Context, q storage.Query, e *schema.Entity, principal *access.Authorization) storage.Query {
	if principal == nil || principal.IsAdmin() {
		return q
	}
	f, ok := b.ScopeField(ctx, e)
	if !ok {
		return q
	}
	return q.Filter(storage.Cond{Path: []string{f.Name}, Op: storage.OpEq, Value: principal.UserID})
}

// Build returns the query for a list request
func (b *Builder) Build(ctx context.Context, e *schema.Entity, principal *access.Authorization,
	conditions []Condition, orderFields []string, tree *schema.Tree) (storage.Query, error) {

	q := b.Scope(ctx, storage.All(e), e, principal)

	if len(conditions) > 0 {
		predicates := make([]storage.Predicate, 0, len(conditions))
		for _, c := range conditions {
			p, err := c.predicate(e)
			if err != nil {
				return q, err
			}
			predicates = append(predicates, p)
		}
		q = q.Filter(predicates...)
	}

	if len(orderFields) > 0 {
		orders := make([]storage.Order, 0, len(orderFields))
		for _, name := range orderFields {
			o, err := parseOrderField(e, name)
			if err != nil {
				return q, err
			}
			orders = append(orders, o)
		}
		q = q.Ordered(orders...)
	}

	if tree != nil {
		root := tree.Default
		if f, ok := e.Field(tree.ParentField); ok {
			if v, err := f.Coerce(root); err == nil {
				root = v
			}
		}
		q = q.Filter(storage.Cond{Path: []string{tree.ParentField}, Op: storage.OpEq, Value: root})
	}
	return q, nil
}

// Tree returns the tree descriptor of e if the request asked for tree data and the
// admin configuration names a valid parent field
func (b *Builder) Tree(ctx context.Context, e *schema.Entity, withTree bool) *schema.Tree {
	if !withTree {
		return nil
	}
	config, ok := b.Admin.Lookup(e.Key())
	if !ok || config.ParentField == "" {
		return nil
	}
	tree, ok := e.TreeFor(config.ParentField)
	if !ok {
		logger.FromContext(ctx).Debugf("ignore parent_field '%s' of %s: not a self relation with related name",
			config.ParentField, e.Key())
		return nil
	}
	return tree
}

// SplitPath splits a client field path. Segments are separated by "." or "__".
func SplitPath(path string) []string {
	return strings.Split(strings.ReplaceAll(path, "__", "."), ".")
}

func parseOrderField(e *schema.Entity, name string) (storage.Order, error) {
	o := storage.Order{}
	if strings.HasPrefix(name, "-") {
		o.Desc = true
		name = name[1:]
	} else {
		name = strings.TrimPrefix(name, "+")
	}
	o.Path = SplitPath(name)
	if _, _, err := storage.ResolvePath(e, o.Path); err != nil {
		return o, core.NewError(core.CodeInvalidFilterField, "cannot order by '%s': %s", name, err)
	}
	return o, nil
}
