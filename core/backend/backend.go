// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/access"
	"github.com/relabs-tech/basebone/core/admin"
	"github.com/relabs-tech/basebone/core/batch"
	"github.com/relabs-tech/basebone/core/csql"
	"github.com/relabs-tech/basebone/core/expand"
	"github.com/relabs-tech/basebone/core/export"
	"github.com/relabs-tech/basebone/core/form"
	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/metrics"
	"github.com/relabs-tech/basebone/core/notify"
	"github.com/relabs-tech/basebone/core/query"
	"github.com/relabs-tech/basebone/core/registry"
	"github.com/relabs-tech/basebone/core/relations"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/storage"
)

// Backend is the generic rest backend
type Backend struct {
	config               Configuration
	store                storage.Store
	router               *mux.Router
	admin                admin.Store
	queries              *query.Builder
	expansions           *expand.Resolver
	forms                *form.Registry
	relations            *relations.Resolver
	bus                  *notify.Bus
	batchActions         *batch.Registry
	archive              export.Archive
	metrics              *metrics.Metrics
	authorizationEnabled bool

	// Registry resolves the entities of this backend's schema
	Registry *registry.Registry
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all entities. This is mandatory.
	Config string
	// Store is the storage engine. This is mandatory.
	Store storage.Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// DB is the database of the persistent registry. If set, admin configuration stored
	// in the registry overrides the admin hints of Config. This is optional.
	DB *csql.DB
	// AdminStore replaces the admin hints of Config all together. This is optional.
	AdminStore admin.Store
	// Bus receives the notifications of all writes. This is optional.
	Bus *notify.Bus
	// BatchActions holds the batch actions. Defaults to the built-in actions.
	BatchActions *batch.Registry
	// Archive enables exports delivered as link. This is optional.
	Archive export.Archive
	// PasswordHasher hashes user passwords. Defaults to bcrypt.
	PasswordHasher form.PasswordHasher
	// Now returns the time of automatic timestamps. Defaults to time.Now.
	Now func() time.Time
	// Metrics records requests and writes. This is optional.
	Metrics *metrics.Metrics
	// AuthorizationEnabled rejects requests without authorization
	AuthorizationEnabled bool
}

// New realizes the actual backend. It builds the schema graph and the forms of all
// entities and adds the routes to the router. New panics on invalid configuration.
func New(bb *Builder) *Backend {
	var config Configuration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}
	config = config.withDefaults()

	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	graph, err := schema.Build(config.definition())
	if err != nil {
		panic(fmt.Errorf("invalid backend configuration: %w", err))
	}

	var validator *form.Validator
	if len(config.Schemas) > 0 {
		validator, err = form.NewValidator(config.Schemas, config.Refs)
		if err != nil {
			panic(fmt.Errorf("invalid JSON schema in backend configuration: %w", err))
		}
	}
	forms, err := form.NewRegistry(graph, form.Options{Custom: validator, Hasher: bb.PasswordHasher, Now: bb.Now})
	if err != nil {
		panic(fmt.Errorf("invalid backend configuration: %w", err))
	}

	adminStore := bb.AdminStore
	if adminStore == nil {
		adminStore = loadAdmin(bb.DB, graph, config.admin())
	}

	batchActions := bb.BatchActions
	if batchActions == nil {
		batchActions = batch.NewRegistry()
	}

	b := &Backend{
		config:               config,
		store:                bb.Store,
		router:               bb.Router,
		admin:                adminStore,
		queries:              query.New(graph, adminStore),
		expansions:           expand.NewResolver(expand.DefaultCacheSize),
		forms:                forms,
		relations:            relations.New(forms),
		bus:                  bb.Bus,
		batchActions:         batchActions,
		archive:              bb.Archive,
		metrics:              bb.Metrics,
		authorizationEnabled: bb.AuthorizationEnabled,
		Registry:             registry.New(graph),
	}

	logger.AddRequestID(b.router)
	b.handleCORS()
	b.handleCompression()
	b.handleRoutes(b.router)
	return b
}

// loadAdmin returns the admin hints of the configuration, overridden by the persistent
// registry if a database is given
func loadAdmin(db *csql.DB, graph *schema.Graph, base admin.Static) admin.Store {
	if db == nil {
		return base
	}
	nillog := logger.FromContext(nil)
	persistent, err := registry.NewPersistent(db)
	if err != nil {
		nillog.WithError(err).Errorln("Error 4801: cannot open persistent registry")
		panic(err)
	}
	var keys []string
	for _, e := range graph.Entities() {
		keys = append(keys, e.Key())
	}
	store, err := admin.Load(context.Background(), persistent, keys, base)
	if err != nil {
		nillog.WithError(err).Errorln("Error 4802: cannot load admin configuration")
		panic(err)
	}
	return store
}

// Router returns the router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Graph returns the schema graph of the backend
func (b *Backend) Graph() *schema.Graph {
	return b.Registry.Graph()
}

// HandleRoutes adds all necessary handlers for the configured entities
func (b *Backend) handleRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("backend: HandleRoutes")
	for _, e := range b.Registry.Entities() {
		nillog.Debugf("  entity %s (%d fields)", e.Key(), len(e.Fields))
	}

	access.HandleAuthorizationRoute(router)
	b.handleVersion(router)
	b.handleStatistics(router)
	if b.metrics != nil {
		router.Handle("/metrics", b.metrics.Handler()).Methods(http.MethodGet)
	}

	prefix := "/{end:" + string(core.EndManage) + "|" + string(core.EndClient) + "}/{app}/{model}"
	handle := func(path string, op core.Operation, fn operationFunc, methods ...string) {
		h := b.entityHandler(op, fn)
		methods = append(methods, http.MethodOptions)
		router.Handle(prefix+path, h).Methods(methods...)
		router.Handle(prefix+path+"/", h).Methods(methods...)
	}

	// fixed paths first, they would match {id} otherwise
	handle("/list", core.OperationList, b.listWithFilter, http.MethodPost)
	handle("/batch", core.OperationBatch, b.batch, http.MethodPost)
	handle("/export/file", core.OperationExport, b.export, http.MethodGet)
	handle("", core.OperationList, b.list, http.MethodGet)
	handle("", core.OperationCreate, b.create, http.MethodPost)
	handle("/{id}", core.OperationRead, b.detail, http.MethodGet)
	handle("/{id}", core.OperationUpdate, b.update, http.MethodPut, http.MethodPatch)
	handle("/{id}", core.OperationDelete, b.destroy, http.MethodDelete)
}
