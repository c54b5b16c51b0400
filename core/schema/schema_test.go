package schema_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/basebone/core/schema"
	"github.com/relabs-tech/basebone/core/schema/schematest"
)

func TestBuild_Edges(t *testing.T) {
	g := schematest.Blog()

	post := schematest.Entity(g, "blog.post")
	user := schematest.Entity(g, "auth.user")

	author, ok := post.Forward("author")
	require.True(t, ok)
	assert.Equal(t, schema.EdgeForward, author.Kind)
	assert.Equal(t, user, author.To)
	assert.False(t, author.Many())

	// reverse edges are reachable by entity name and by accessor
	byName, ok := user.Reverse("post")
	require.True(t, ok)
	byAccessor, ok := user.Reverse("posts")
	require.True(t, ok)
	assert.Equal(t, byName, byAccessor)
	assert.Equal(t, "posts", byName.Accessor)
	assert.True(t, byName.Many())

	note, ok := user.Reverse("note")
	require.True(t, ok)
	assert.Empty(t, note.Accessor)

	edge, ok := user.EdgeByAccessor("comments")
	require.True(t, ok)
	assert.Equal(t, "blog.comment", edge.To.Key())

	assert.Equal(t, user, g.UserEntity())
	assert.True(t, g.IsUserEntity(user))
	assert.Len(t, post.References("auth.user"), 1)
}

func TestBuild_QualifiesTargets(t *testing.T) {
	g := schematest.Blog()
	f, ok := schematest.Entity(g, "blog.post").Field("category")
	require.True(t, ok)
	assert.Equal(t, "blog.category", f.Target)
	assert.Equal(t, schema.OnDeleteSetNull, f.OnDelete)

	f, _ = schematest.Entity(g, "blog.comment").Field("post")
	assert.Equal(t, schema.OnDeleteCascade, f.OnDelete)
}

func TestBuild_Errors(t *testing.T) {
	cases := map[string]schema.Definition{
		"inactive app": {
			Apps:     []string{"blog"},
			Entities: []schema.EntityDefinition{{App: "shop", Name: "item"}},
		},
		"unknown target": {
			Apps: []string{"blog"},
			Entities: []schema.EntityDefinition{{App: "blog", Name: "post", Fields: []schema.Field{
				{Name: "author", Type: schema.TypeRelation, Target: "auth.user"},
			}}},
		},
		"explicit id": {
			Apps:     []string{"blog"},
			Entities: []schema.EntityDefinition{{App: "blog", Name: "post", Fields: []schema.Field{{Name: "id", Type: schema.TypeUUID}}}},
		},
		"bad type": {
			Apps:     []string{"blog"},
			Entities: []schema.EntityDefinition{{App: "blog", Name: "post", Fields: []schema.Field{{Name: "x", Type: "money"}}}},
		},
		"accessor clash": {
			Apps: []string{"blog"},
			Entities: []schema.EntityDefinition{
				{App: "blog", Name: "post", Fields: []schema.Field{{Name: "comments", Type: schema.TypeInt}}},
				{App: "blog", Name: "comment", Fields: []schema.Field{
					{Name: "post", Type: schema.TypeRelation, Target: "post", RelatedName: "comments"},
				}},
			},
		},
		"set null on required": {
			Apps: []string{"blog"},
			Entities: []schema.EntityDefinition{
				{App: "blog", Name: "post"},
				{App: "blog", Name: "comment", Fields: []schema.Field{
					{Name: "post", Type: schema.TypeRelation, Target: "post", OnDelete: schema.OnDeleteSetNull},
				}},
			},
		},
		"unknown user entity": {
			Apps:       []string{"blog"},
			UserEntity: "auth.user",
		},
	}
	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := schema.Build(def)
			assert.Error(t, err)
		})
	}
}

func TestTreeFor(t *testing.T) {
	g := schematest.Blog()
	category := schematest.Entity(g, "blog.category")

	tree, ok := category.TreeFor("parent")
	require.True(t, ok)
	assert.Equal(t, "parent", tree.ParentField)
	assert.Equal(t, "children", tree.RelatedAccessor)
	assert.Nil(t, tree.Default)

	_, ok = category.TreeFor("name")
	assert.False(t, ok)
	_, ok = schematest.Entity(g, "blog.post").TreeFor("category")
	assert.False(t, ok, "not self referencing")
}

func TestField_Coerce(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		field schema.Field
		in    interface{}
		want  interface{}
	}{
		{schema.Field{Type: schema.TypeString}, "x", "x"},
		{schema.Field{Type: schema.TypeInt}, float64(3), int64(3)},
		{schema.Field{Type: schema.TypeInt}, "42", int64(42)},
		{schema.Field{Type: schema.TypeFloat}, "1.5", 1.5},
		{schema.Field{Type: schema.TypeBool}, "true", true},
		{schema.Field{Type: schema.TypeTime}, "2024-03-01T10:30:00Z", ts},
		{schema.Field{Type: schema.TypeDate}, "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{schema.Field{Type: schema.TypeUUID}, id.String(), id},
		{schema.Field{Type: schema.TypeRelation}, id.String(), id},
		{schema.Field{Type: schema.TypeJSON}, map[string]interface{}{"a": 1.0}, map[string]interface{}{"a": 1.0}},
		{schema.Field{Type: schema.TypeString}, nil, nil},
	}
	for _, c := range cases {
		got, err := c.field.Coerce(c.in)
		require.NoError(t, err, "%s %v", c.field.Type, c.in)
		assert.Equal(t, c.want, got)
	}

	bad := []struct {
		field schema.Field
		in    interface{}
	}{
		{schema.Field{Type: schema.TypeString}, 1.0},
		{schema.Field{Type: schema.TypeInt}, 1.5},
		{schema.Field{Type: schema.TypeBool}, "maybe"},
		{schema.Field{Type: schema.TypeTime}, "yesterday"},
		{schema.Field{Type: schema.TypeUUID}, "not-a-uuid"},
	}
	for _, c := range bad {
		_, err := c.field.Coerce(c.in)
		assert.Error(t, err, "%s %v", c.field.Type, c.in)
	}
}

func TestField_Render(t *testing.T) {
	id := uuid.New()
	date := schema.Field{Type: schema.TypeDate}
	ts := schema.Field{Type: schema.TypeTime}
	moment := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-01", date.Render(moment))
	assert.Equal(t, "2024-03-01T10:30:00Z", ts.Render(moment))
	assert.Equal(t, id.String(), schema.IDField.Render(id))
	assert.Equal(t, "3", (&schema.Field{Type: schema.TypeInt}).RenderString(int64(3)))
	assert.Equal(t, `{"a":1}`, (&schema.Field{Type: schema.TypeJSON}).RenderString(map[string]interface{}{"a": 1}))
	assert.Equal(t, "", ts.RenderString(nil))
}
