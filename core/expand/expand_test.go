package expand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/schema/schematest"
	"github.com/relabs-tech/basebone/core/storage"
	"github.com/relabs-tech/basebone/core/storage/memstore"
)

func TestResolve_AuthorProfile(t *testing.T) {
	g := schematest.Blog()
	post := schematest.Entity(g, "blog.post")

	result, err := NewResolver(0).Resolve(post, []string{"author.profile"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"author__profile"}, result.Prefetch)

	require.Len(t, result.Shape.Nested, 1)
	author := result.Shape.Nested[0]
	assert.Equal(t, "author", author.Edge.Accessor)
	assert.Equal(t, "auth.user", author.Shape.Entity.Key())
	require.Len(t, author.Shape.Nested, 1)
	assert.Equal(t, "profile", author.Shape.Nested[0].Edge.Accessor)
	assert.True(t, author.Shape.Nested[0].Shape.Flat())
}

func TestResolve_ReverseSegments(t *testing.T) {
	g := schematest.Blog()
	user := schematest.Entity(g, "auth.user")

	// by entity name and by related name
	for _, path := range []string{"post.category", "posts.category"} {
		result, err := Resolve(user, []string{path}, nil)
		require.NoError(t, err, path)
		assert.Equal(t, []string{"posts__category"}, result.Prefetch)
	}

	_, err := Resolve(user, []string{"note"}, nil)
	assert.True(t, errors.Is(err, core.ErrUnresolvableExpansionSegment), "note.owner has no related name")

	_, err = Resolve(user, []string{"username"}, nil)
	assert.True(t, errors.Is(err, core.ErrUnresolvableExpansionSegment))

	_, err = Resolve(user, []string{"posts.missing"}, nil)
	assert.True(t, errors.Is(err, core.ErrUnresolvableExpansionSegment))
}

func TestResolve_Deterministic(t *testing.T) {
	g := schematest.Blog()
	post := schematest.Entity(g, "blog.post")
	paths := []string{"comments.author", "author", "author.profile", "comments.author", " "}

	first, err := Resolve(post, paths, nil)
	require.NoError(t, err)
	second, err := Resolve(post, paths, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"comments__author", "author", "author__profile"}, first.Prefetch)
	require.Len(t, first.Shape.Nested, 2, "shared prefixes merge")

	r := NewResolver(4)
	cached, err := r.Resolve(post, paths, nil)
	require.NoError(t, err)
	again, err := r.Resolve(post, paths, nil)
	require.NoError(t, err)
	assert.Same(t, cached.Shape, again.Shape)
	assert.Equal(t, first, cached)

	flat, err := r.Resolve(post, nil, nil)
	require.NoError(t, err)
	assert.True(t, flat.Shape.Flat())
	assert.Empty(t, flat.Prefetch)
}

func TestSerialize(t *testing.T) {
	ctx := context.Background()
	g := schematest.Blog()
	store := memstore.New()
	profile := schematest.Entity(g, "auth.profile")
	user := schematest.Entity(g, "auth.user")
	post := schematest.Entity(g, "blog.post")

	var postID, profileID, userID uuid.UUID
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	err := storage.WithTx(ctx, store, func(tx storage.Tx) error {
		var err error
		if profileID, err = tx.Insert(ctx, profile, map[string]interface{}{"bio": "hi"}); err != nil {
			return err
		}
		if userID, err = tx.Insert(ctx, user, map[string]interface{}{"username": "alice", "password": "secret", "profile": profileID}); err != nil {
			return err
		}
		postID, err = tx.Insert(ctx, post, map[string]interface{}{"title": "t", "author": userID, "created_at": created})
		return err
	})
	require.NoError(t, err)

	result, err := Resolve(post, []string{"author.profile"}, nil)
	require.NoError(t, err)
	inst, err := storage.First(ctx, store, storage.All(post).ByID(postID).WithPrefetch(result.Prefetch...))
	require.NoError(t, err)

	out, err := Serialize(ctx, inst, result.Shape, nil)
	require.NoError(t, err)
	assert.Equal(t, postID.String(), out["id"])
	assert.Equal(t, "2024-05-06T07:08:09Z", out["created_at"])
	author, ok := out["author"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", author["username"])
	assert.NotContains(t, author, "password")
	assert.Equal(t, map[string]interface{}{"id": profileID.String(), "bio": "hi", "avatar": nil}, author["profile"])

	flat, err := Serialize(ctx, inst, &Shape{Entity: post}, nil)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), flat["author"])
}

func TestSerialize_Tree(t *testing.T) {
	ctx := context.Background()
	g := schematest.Blog()
	store := memstore.New()
	cat := schematest.Entity(g, "blog.category")
	tree, ok := cat.TreeFor("parent")
	require.True(t, ok)

	var root uuid.UUID
	err := storage.WithTx(ctx, store, func(tx storage.Tx) error {
		var err error
		if root, err = tx.Insert(ctx, cat, map[string]interface{}{"name": "root"}); err != nil {
			return err
		}
		child, err := tx.Insert(ctx, cat, map[string]interface{}{"name": "child", "parent": root})
		if err != nil {
			return err
		}
		_, err = tx.Insert(ctx, cat, map[string]interface{}{"name": "grandchild", "parent": child})
		return err
	})
	require.NoError(t, err)

	loader := func(maxDepth int) ChildLoader {
		return func(ctx context.Context, parent *storage.Instance, depth int) ([]*storage.Instance, error) {
			if depth > maxDepth {
				return nil, nil
			}
			return store.Find(ctx, storage.All(cat).Filter(storage.Cond{Path: []string{"parent"}, Op: storage.OpEq, Value: parent.ID}))
		}
	}

	result, err := Resolve(cat, nil, tree)
	require.NoError(t, err)
	assert.False(t, result.Shape.Flat())
	inst, err := storage.First(ctx, store, storage.All(cat).ByID(root))
	require.NoError(t, err)

	out, err := Serialize(ctx, inst, result.Shape, loader(5))
	require.NoError(t, err)
	children := out["children"].([]interface{})
	require.Len(t, children, 1)
	child := children[0].(map[string]interface{})
	assert.Equal(t, "child", child["name"])
	grandchildren := child["children"].([]interface{})
	require.Len(t, grandchildren, 1)
	assert.Equal(t, []interface{}{}, grandchildren[0].(map[string]interface{})["children"])

	out, err = Serialize(ctx, inst, result.Shape, loader(1))
	require.NoError(t, err)
	child = out["children"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, []interface{}{}, child["children"])
}
