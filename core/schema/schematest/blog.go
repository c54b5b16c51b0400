// Package schematest provides a small blog schema for tests
package schematest

import (
	"github.com/goccy/go-json"

	"github.com/relabs-tech/basebone/core/schema"
)

// BlogDefinition is a blog with users, profiles, a category tree, posts, comments and notes.
// Notes reference users without related name.
const BlogDefinition = `{
	"apps": ["auth", "blog"],
	"user_entity": "auth.user",
	"entities": [
		{
			"app": "auth",
			"name": "profile",
			"fields": [
				{"name": "bio", "type": "text"},
				{"name": "avatar", "type": "string", "max_length": 200}
			]
		},
		{
			"app": "auth",
			"name": "user",
			"fields": [
				{"name": "username", "type": "string", "required": true, "unique": true, "max_length": 150},
				{"name": "password", "type": "string", "write_only": true},
				{"name": "email", "type": "string"},
				{"name": "is_staff", "type": "bool", "default": false},
				{"name": "profile", "type": "relation", "target": "profile", "null": true, "on_delete": "set_null", "related_name": "users"},
				{"name": "date_joined", "type": "time", "auto_now_add": true}
			]
		},
		{
			"app": "blog",
			"name": "category",
			"label": "Category",
			"fields": [
				{"name": "name", "type": "string", "required": true, "label": "Name"},
				{"name": "parent", "type": "relation", "target": "category", "null": true, "related_name": "children"}
			]
		},
		{
			"app": "blog",
			"name": "post",
			"label": "Post",
			"fields": [
				{"name": "title", "type": "string", "required": true, "max_length": 200, "label": "Title"},
				{"name": "body", "type": "text"},
				{"name": "status", "type": "string", "choices": ["draft", "published"], "default": "draft", "label": "Status"},
				{"name": "author", "type": "relation", "target": "auth.user", "required": true, "related_name": "posts"},
				{"name": "category", "type": "relation", "target": "category", "null": true, "on_delete": "set_null", "related_name": "posts"},
				{"name": "views", "type": "int", "default": 0},
				{"name": "created_at", "type": "time", "auto_now_add": true, "label": "Created"},
				{"name": "updated_at", "type": "time", "auto_now": true}
			]
		},
		{
			"app": "blog",
			"name": "comment",
			"fields": [
				{"name": "post", "type": "relation", "target": "post", "required": true, "related_name": "comments"},
				{"name": "author", "type": "relation", "target": "auth.user", "null": true, "on_delete": "set_null", "related_name": "comments"},
				{"name": "text", "type": "text", "required": true}
			]
		},
		{
			"app": "blog",
			"name": "note",
			"fields": [
				{"name": "owner", "type": "relation", "target": "auth.user", "null": true, "on_delete": "set_null"},
				{"name": "text", "type": "text"}
			]
		},
		{
			"app": "blog",
			"name": "draft",
			"disabled": true,
			"fields": [
				{"name": "text", "type": "text"}
			]
		}
	]
}`

// Definition returns the decoded blog definition
func Definition() schema.Definition {
	var def schema.Definition
	if err := json.Unmarshal([]byte(BlogDefinition), &def); err != nil {
		panic(err)
	}
	return def
}

// Blog builds the blog schema graph
func Blog() *schema.Graph {
	g, err := schema.Build(Definition())
	if err != nil {
		panic(err)
	}
	return g
}

// Entity returns the blog entity with the given key
func Entity(g *schema.Graph, key string) *schema.Entity {
	e, ok := g.Entity(key)
	if !ok {
		panic("no entity " + key)
	}
	return e
}
