/*
Package admin provides the per-entity admin configuration.

Admin configuration holds behavioural hints for an entity: which field scopes
rows to the logged in user, which field makes the entity a tree, and which
relations a detail view expands by default. It is read-only while requests are
served. Lookups are optional by nature: an entity without configuration simply
has no hints.
*/
package admin

import (
	"context"
	"fmt"

	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/registry"
)

// Config is the admin configuration of one entity
type Config struct {
	// AuthFilterField is the relation field which references the user entity and
	// scopes rows to the logged in user
	AuthFilterField string `json:"auth_filter_field,omitempty"`
	// FilterByLoginUser enables scoping by AuthFilterField. Defaults to true.
	FilterByLoginUser *bool `json:"filter_by_login_user,omitempty"`
	// ParentField is the self referencing relation which turns the entity into a tree
	ParentField string `json:"parent_field,omitempty"`
	// DetailExpandFields are the expansion paths of detail views without explicit expansion
	DetailExpandFields []string `json:"detail_expand_fields,omitempty"`
	// BatchActions restricts the batch actions of the entity. Empty allows all registered actions.
	BatchActions []string `json:"batch_actions,omitempty"`
	// ExportFields are the columns of exports. Empty exports all readable fields.
	ExportFields []string `json:"export_fields,omitempty"`
}

// FilterByLogin returns true if rows shall be scoped to the logged in user
func (c Config) FilterByLogin() bool {
	return c.FilterByLoginUser == nil || *c.FilterByLoginUser
}

// AllowsBatchAction returns true if the named batch action may run on the entity
func (c Config) AllowsBatchAction(name string) bool {
	if len(c.BatchActions) == 0 {
		return true
	}
	for _, action := range c.BatchActions {
		if action == name {
			return true
		}
	}
	return false
}

// Store provides admin configuration keyed by entity key "namespace.name"
type Store interface {
	Lookup(entity string) (Config, bool)
}

// Static is an in-memory Store
type Static map[string]Config

// Lookup implements Store
func (s Static) Lookup(entity string) (Config, bool) {
	c, ok := s[entity]
	return c, ok
}

// Prefix is the prefix of admin configuration in the persistent registry
const Prefix = "_admin_"

// Load returns a store with the configuration of base, overridden by configuration
// found in the persistent registry for any of the given entity keys. The result is
// a snapshot; later changes to the registry require a restart.
func Load(ctx context.Context, r registry.Persistent, entities []string, base Static) (Static, error) {
	rlog := logger.FromContext(ctx)
	accessor := r.Accessor(Prefix)
	result := Static{}
	for key, c := range base {
		result[key] = c
	}
	for _, key := range entities {
		var c Config
		timestamp, err := accessor.Read(ctx, key, &c)
		if err != nil {
			return nil, fmt.Errorf("cannot load admin configuration of %s: %w", key, err)
		}
		if timestamp.IsZero() {
			continue
		}
		rlog.Debugf("admin configuration of %s loaded from registry (written %s)", key, timestamp)
		result[key] = c
	}
	return result, nil
}

// Save writes the admin configuration of an entity to the persistent registry
func Save(ctx context.Context, r registry.Persistent, entity string, c Config) error {
	return r.Accessor(Prefix).Write(ctx, entity, c)
}
