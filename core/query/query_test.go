package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/access"
	"github.com/relabs-tech/basebone/core/admin"
	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/schema/schematest"
	"github.com/relabs-tech/basebone/core/storage"
	"github.com/relabs-tech/basebone/core/storage/memstore"
)

type fixture struct {
	ctx     context.Context
	graph   *schema.Graph
	store   *memstore.Store
	user    *schema.Entity
	post    *schema.Entity
	cat     *schema.Entity
	builder *Builder
}

func newFixture(adminStore admin.Static) *fixture {
	g := schematest.Blog()
	return &fixture{
		ctx:     context.Background(),
		graph:   g,
		store:   memstore.New(),
		user:    schematest.Entity(g, "auth.user"),
		post:    schematest.Entity(g, "blog.post"),
		cat:     schematest.Entity(g, "blog.category"),
		builder: New(g, adminStore),
	}
}

func (f *fixture) insert(t *testing.T, e *schema.Entity, values map[string]interface{}) uuid.UUID {
	var id uuid.UUID
	err := storage.WithTx(f.ctx, f.store, func(tx storage.Tx) error {
		var err error
		id, err = tx.Insert(f.ctx, e, values)
		return err
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) find(t *testing.T, q storage.Query) []*storage.Instance {
	instances, err := f.store.Find(f.ctx, q)
	require.NoError(t, err)
	return instances
}

func ids(instances []*storage.Instance) []uuid.UUID {
	var result []uuid.UUID
	for _, i := range instances {
		result = append(result, i.ID)
	}
	return result
}

func TestScope_PostsOfPrincipal(t *testing.T) {
	f := newFixture(admin.Static{"blog.post": {AuthFilterField: "author"}})
	u1 := f.insert(t, f.user, map[string]interface{}{"username": "u1"})
	u2 := f.insert(t, f.user, map[string]interface{}{"username": "u2"})
	p1 := f.insert(t, f.post, map[string]interface{}{"title": "a", "author": u1})
	f.insert(t, f.post, map[string]interface{}{"title": "b", "author": u2})
	p3 := f.insert(t, f.post, map[string]interface{}{"title": "c", "author": u1})

	principal := &access.Authorization{UserID: u1}
	q, err := f.builder.Build(f.ctx, f.post, principal, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p1, p3}, ids(f.find(t, q)))

	// every row visible to a non-admin belongs to it
	for _, inst := range f.find(t, q) {
		assert.Equal(t, u1, inst.Values["author"])
	}

	for _, elevated := range []*access.Authorization{
		{UserID: u1, Roles: []string{access.RoleAdmin}},
		{UserID: u1, Staff: true, Superuser: true},
		nil,
	} {
		q, err := f.builder.Build(f.ctx, f.post, elevated, nil, nil, nil)
		require.NoError(t, err)
		assert.Len(t, f.find(t, q), 3)
	}

	// staff alone is not elevated
	q, err = f.builder.Build(f.ctx, f.post, &access.Authorization{UserID: u2, Staff: true}, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, f.find(t, q), 1)
}

func TestScopeField_Degrades(t *testing.T) {
	disabled := false
	f := newFixture(admin.Static{
		"blog.comment":  {AuthFilterField: "text"},
		"blog.note":     {AuthFilterField: "missing"},
		"blog.category": {AuthFilterField: "parent"},
		"blog.post":     {AuthFilterField: "author", FilterByLoginUser: &disabled},
	})
	for _, key := range []string{"blog.comment", "blog.note", "blog.category", "blog.post", "auth.profile"} {
		_, ok := f.builder.ScopeField(f.ctx, schematest.Entity(f.graph, key))
		assert.False(t, ok, key)
	}

	f = newFixture(admin.Static{"blog.note": {AuthFilterField: "owner"}})
	field, ok := f.builder.ScopeField(f.ctx, schematest.Entity(f.graph, "blog.note"))
	require.True(t, ok)
	assert.Equal(t, "owner", field.Name)
}

func TestBuild_DraftsByCreation(t *testing.T) {
	f := newFixture(nil)
	u := f.insert(t, f.user, map[string]interface{}{"username": "u"})
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var drafts []uuid.UUID
	for i, status := range []string{"draft", "published", "draft", "published", "draft"} {
		id := f.insert(t, f.post, map[string]interface{}{
			"title": "p", "author": u, "status": status,
			"created_at": base.Add(time.Duration(i) * time.Hour),
		})
		if status == "draft" {
			drafts = append([]uuid.UUID{id}, drafts...)
		}
	}

	body := map[string]interface{}{
		"filter_conditions": []interface{}{
			map[string]interface{}{"field": "status", "operator": "eq", "value": "draft"},
		},
		"order_by_fields": []interface{}{"-created_at"},
	}
	conditions := ParseConditions(body["filter_conditions"])
	order := ParseOrder(body["order_by_fields"])
	q, err := f.builder.Build(f.ctx, f.post, nil, conditions, order, nil)
	require.NoError(t, err)
	assert.Equal(t, drafts, ids(f.find(t, q)))

	// building is pure
	again, err := f.builder.Build(f.ctx, f.post, nil, conditions, order, nil)
	require.NoError(t, err)
	assert.Equal(t, q, again)
	assert.Equal(t, drafts, ids(f.find(t, again)))
}

func TestBuild_Conditions(t *testing.T) {
	f := newFixture(nil)
	alice := f.insert(t, f.user, map[string]interface{}{"username": "alice"})
	bob := f.insert(t, f.user, map[string]interface{}{"username": "bob"})
	p1 := f.insert(t, f.post, map[string]interface{}{"title": "Go tips", "author": alice, "views": int64(10)})
	p2 := f.insert(t, f.post, map[string]interface{}{"title": "Rust", "author": bob, "views": int64(3)})

	cases := []struct {
		name string
		cond Condition
		want []uuid.UUID
	}{
		{"relation path with dots", Condition{"author.username", "=", "bob"}, []uuid.UUID{p2}},
		{"relation path with underscores", Condition{"author__username", "exact", "alice"}, []uuid.UUID{p1}},
		{"string number coerced", Condition{"views", ">", "5"}, []uuid.UUID{p1}},
		{"in list", Condition{"views", "in", []interface{}{float64(3), float64(4)}}, []uuid.UUID{p2}},
		{"in comma separated", Condition{"views", "in", "10,3"}, []uuid.UUID{p1, p2}},
		{"icontains", Condition{"title", "icontains", "go"}, []uuid.UUID{p1}},
		{"isnull", Condition{"category", "isnull", true}, []uuid.UUID{p1, p2}},
		{"range", Condition{"views", "range", []interface{}{float64(1), float64(5)}}, []uuid.UUID{p2}},
		{"relation by id", Condition{"author", "ne", alice.String()}, []uuid.UUID{p2}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			q, err := f.builder.Build(f.ctx, f.post, nil, []Condition{c.cond}, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, c.want, ids(f.find(t, q)))
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	f := newFixture(nil)

	_, err := f.builder.Build(f.ctx, f.post, nil, []Condition{{"title", "regex", ".*"}}, nil, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidFilterOperator))

	_, err = f.builder.Build(f.ctx, f.post, nil, []Condition{{"nope", "eq", 1}}, nil, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidFilterField))

	_, err = f.builder.Build(f.ctx, f.post, nil, []Condition{{"comments.text", "eq", "x"}}, nil, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidFilterField), "reverse relations cannot be filtered")

	_, err = f.builder.Build(f.ctx, f.post, nil, []Condition{{"views", "eq", "many"}}, nil, nil)
	var e *core.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, core.CodeInvalidFilterField, e.Code)
	assert.Contains(t, e.Fields, "views")

	_, err = f.builder.Build(f.ctx, f.post, nil, nil, []string{"-nope"}, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidFilterField))
}

func TestBuild_TreeRoot(t *testing.T) {
	f := newFixture(admin.Static{"blog.category": {ParentField: "parent"}})
	root := f.insert(t, f.cat, map[string]interface{}{"name": "root"})
	f.insert(t, f.cat, map[string]interface{}{"name": "child", "parent": root})
	other := f.insert(t, f.cat, map[string]interface{}{"name": "other"})

	assert.Nil(t, f.builder.Tree(f.ctx, f.cat, false))
	tree := f.builder.Tree(f.ctx, f.cat, true)
	require.NotNil(t, tree)
	assert.Equal(t, "children", tree.RelatedAccessor)

	q, err := f.builder.Build(f.ctx, f.cat, nil, nil, []string{"name"}, tree)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{other, root}, ids(f.find(t, q)))

	f = newFixture(admin.Static{"blog.post": {ParentField: "author"}})
	assert.Nil(t, f.builder.Tree(f.ctx, f.post, true))
}

func TestParseConditions(t *testing.T) {
	assert.Nil(t, ParseConditions(nil))
	assert.Nil(t, ParseConditions("status=draft"))
	assert.Nil(t, ParseConditions([]interface{}{}))
	assert.Nil(t, ParseConditions([]interface{}{"x"}))
	assert.Nil(t, ParseConditions([]interface{}{map[string]interface{}{"field": "status"}}))
	assert.Equal(t, []Condition{{Field: "status", Operator: "eq", Value: "draft"}},
		ParseConditions([]interface{}{map[string]interface{}{"field": "status", "operator": "eq", "value": "draft"}}))
}

func TestParseOrder(t *testing.T) {
	assert.Nil(t, ParseOrder(nil))
	assert.Nil(t, ParseOrder(42))
	assert.Equal(t, []string{"-created_at", "title"}, ParseOrder("-created_at, title"))
	assert.Equal(t, []string{"b", "a"}, ParseOrder([]interface{}{"b", 1, "a"}))
}
