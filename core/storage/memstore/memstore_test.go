package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/schema/schematest"
	"github.com/relabs-tech/basebone/core/storage"
)

type fixture struct {
	store            *Store
	user, post, cat  *schema.Entity
	comment, profile *schema.Entity
}

func newFixture() fixture {
	g := schematest.Blog()
	return fixture{
		store:   New(),
		user:    schematest.Entity(g, "auth.user"),
		post:    schematest.Entity(g, "blog.post"),
		cat:     schematest.Entity(g, "blog.category"),
		comment: schematest.Entity(g, "blog.comment"),
		profile: schematest.Entity(g, "auth.profile"),
	}
}

func (f fixture) insert(t *testing.T, e *schema.Entity, values map[string]interface{}) uuid.UUID {
	var id uuid.UUID
	err := storage.WithTx(context.Background(), f.store, func(tx storage.Tx) error {
		var err error
		id, err = tx.Insert(context.Background(), e, values)
		return err
	})
	require.NoError(t, err)
	return id
}

func ids(instances []*storage.Instance) []uuid.UUID {
	var result []uuid.UUID
	for _, i := range instances {
		result = append(result, i.ID)
	}
	return result
}

func TestFilterAndOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.insert(t, f.user, map[string]interface{}{"username": "u1"})

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var drafts []uuid.UUID
	for i, status := range []string{"draft", "published", "draft", "published", "draft"} {
		id := f.insert(t, f.post, map[string]interface{}{
			"title": "post", "status": status, "author": u,
			"created_at": base.Add(time.Duration(i) * time.Hour),
			"views":      int64(i * 10),
		})
		if status == "draft" {
			drafts = append(drafts, id)
		}
	}

	q := storage.All(f.post).
		Filter(storage.Cond{Path: []string{"status"}, Op: storage.OpEq, Value: "draft"}).
		Ordered(storage.Order{Path: []string{"created_at"}, Desc: true})
	found, err := f.store.Find(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{drafts[2], drafts[1], drafts[0]}, ids(found))

	count, err := f.store.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	page, err := f.store.Find(ctx, q.Page(2, 1))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{drafts[1], drafts[0]}, ids(page))

	// filter through a relation
	q = storage.All(f.post).Filter(storage.Cond{Path: []string{"author", "username"}, Op: storage.OpEq, Value: "u1"})
	count, err = f.store.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	q = storage.All(f.post).Filter(storage.Or{
		storage.Cond{Path: []string{"views"}, Op: storage.OpGte, Value: int64(30)},
		storage.Not{P: storage.Cond{Path: []string{"views"}, Op: storage.OpGt, Value: int64(0)}},
	})
	count, err = f.store.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMatch(t *testing.T) {
	cases := []struct {
		v    interface{}
		op   storage.Op
		arg  interface{}
		want bool
	}{
		{"Hello", storage.OpContains, "ell", true},
		{"Hello", storage.OpIContains, "HELL", true},
		{"Hello", storage.OpStartsWith, "He", true},
		{"Hello", storage.OpEndsWith, "lo", true},
		{int64(5), storage.OpIn, []interface{}{int64(1), int64(5)}, true},
		{int64(5), storage.OpNotIn, []interface{}{int64(1), int64(5)}, false},
		{nil, storage.OpIsNull, true, true},
		{int64(3), storage.OpIsNull, true, false},
		{int64(3), storage.OpRange, []interface{}{int64(1), int64(3)}, true},
		{int64(4), storage.OpRange, []interface{}{int64(1), int64(3)}, false},
		{1.5, storage.OpLt, int64(2), true},
		{nil, storage.OpGt, int64(2), false},
		{nil, storage.OpEq, nil, true},
		{nil, storage.OpNe, "x", true},
	}
	for _, c := range cases {
		got, err := match(c.v, c.op, c.arg)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%v %s %v", c.v, c.op, c.arg)
	}
}

func TestPrefetch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	profile := f.insert(t, f.profile, map[string]interface{}{"bio": "hi"})
	u := f.insert(t, f.user, map[string]interface{}{"username": "u1", "profile": profile})
	p := f.insert(t, f.post, map[string]interface{}{"title": "p", "author": u})
	f.insert(t, f.comment, map[string]interface{}{"post": p, "text": "first"})
	f.insert(t, f.comment, map[string]interface{}{"post": p, "text": "second"})

	found, err := f.store.Find(ctx, storage.All(f.post).WithPrefetch("author", "author__profile", "comments"))
	require.NoError(t, err)
	require.Len(t, found, 1)

	author, ok := found[0].RelatedOne("author")
	require.True(t, ok)
	assert.Equal(t, u, author.ID)
	prof, ok := author.RelatedOne("profile")
	require.True(t, ok)
	assert.Equal(t, "hi", prof.Values["bio"])

	comments, ok := found[0].RelatedMany("comments")
	require.True(t, ok)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Values["text"])

	_, err = f.store.Find(ctx, storage.All(f.post).WithPrefetch("nothing"))
	assert.Error(t, err)
}

func TestTransactions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.insert(t, f.user, map[string]interface{}{"username": "u1"})

	failure := errors.New("failure")
	err := storage.WithTx(ctx, f.store, func(tx storage.Tx) error {
		_, err := tx.Insert(ctx, f.post, map[string]interface{}{"title": "p", "author": u})
		require.NoError(t, err)
		// the transaction sees its own writes
		count, err := tx.Count(ctx, storage.All(f.post))
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		// others do not
		count, err = f.store.Count(ctx, storage.All(f.post))
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		return failure
	})
	assert.Equal(t, failure, err)
	count, err := f.store.Count(ctx, storage.All(f.post))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "rolled back")

	assert.Panics(t, func() {
		storage.WithTx(ctx, f.store, func(tx storage.Tx) error {
			tx.Insert(ctx, f.post, map[string]interface{}{"title": "p", "author": u})
			panic("boom")
		})
	})
	count, _ = f.store.Count(ctx, storage.All(f.post))
	assert.Equal(t, 0, count, "rolled back after panic")

	// the store is usable after a panic
	f.insert(t, f.post, map[string]interface{}{"title": "p", "author": u})

	cancelled, cancel := context.WithCancel(ctx)
	err = storage.WithTx(cancelled, f.store, func(tx storage.Tx) error {
		_, err := tx.Insert(ctx, f.post, map[string]interface{}{"title": "q", "author": u})
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)
	count, _ = f.store.Count(ctx, storage.All(f.post))
	assert.Equal(t, 1, count, "cancelled transaction is not committed")
}

func TestConstraints(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.insert(t, f.user, map[string]interface{}{"username": "u1"})

	err := storage.WithTx(ctx, f.store, func(tx storage.Tx) error {
		_, err := tx.Insert(ctx, f.user, map[string]interface{}{"username": "u1"})
		return err
	})
	assert.ErrorIs(t, err, storage.ErrUniqueViolation)

	err = storage.WithTx(ctx, f.store, func(tx storage.Tx) error {
		_, err := tx.Insert(ctx, f.post, map[string]interface{}{"title": "p", "author": uuid.New()})
		return err
	})
	assert.ErrorIs(t, err, storage.ErrReferenceViolation)

	err = storage.WithTx(ctx, f.store, func(tx storage.Tx) error {
		return tx.Update(ctx, f.post, uuid.New(), map[string]interface{}{"title": "x"})
	})
	assert.ErrorIs(t, err, storage.ErrNoInstance)
}

func TestDelete_Cascade(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.insert(t, f.user, map[string]interface{}{"username": "u1"})
	root := f.insert(t, f.cat, map[string]interface{}{"name": "root"})
	child := f.insert(t, f.cat, map[string]interface{}{"name": "child", "parent": root})
	f.insert(t, f.cat, map[string]interface{}{"name": "grandchild", "parent": child})
	p := f.insert(t, f.post, map[string]interface{}{"title": "p", "author": u, "category": child})
	f.insert(t, f.comment, map[string]interface{}{"post": p, "text": "c", "author": u})

	err := storage.WithTx(ctx, f.store, func(tx storage.Tx) error {
		return tx.Delete(ctx, f.cat, root)
	})
	require.NoError(t, err)

	count, _ := f.store.Count(ctx, storage.All(f.cat))
	assert.Equal(t, 0, count, "tree deleted")
	post, err := storage.First(ctx, f.store, storage.All(f.post).ByID(p))
	require.NoError(t, err)
	assert.Nil(t, post.Values["category"], "set null")

	err = storage.WithTx(ctx, f.store, func(tx storage.Tx) error {
		return tx.Delete(ctx, f.user, u)
	})
	require.NoError(t, err)
	count, _ = f.store.Count(ctx, storage.All(f.post))
	assert.Equal(t, 0, count, "posts cascade with their author")
	count, _ = f.store.Count(ctx, storage.All(f.comment))
	assert.Equal(t, 0, count, "comments cascade with their post")

	_, err = storage.First(ctx, f.store, storage.All(f.post).ByID(p))
	assert.ErrorIs(t, err, storage.ErrNoInstance)
}
