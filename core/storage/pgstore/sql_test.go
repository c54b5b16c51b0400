package pgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/basebone/core/schema/schematest"
	"github.com/relabs-tech/basebone/core/storage"
)

func TestSelectQuery_JoinsRelations(t *testing.T) {
	g := schematest.Blog()
	post := schematest.Entity(g, "blog.post")

	q := storage.All(post).
		Filter(storage.Cond{Path: []string{"author", "username"}, Op: storage.OpEq, Value: "alice"},
			storage.Cond{Path: []string{"status"}, Op: storage.OpIn, Value: []interface{}{"draft", "published"}}).
		Ordered(storage.Order{Path: []string{"author", "username"}, Desc: true}).
		Page(10, 20)

	sqlQuery, args, err := selectQuery("test", q)
	require.NoError(t, err)
	assert.Contains(t, sqlQuery, `FROM test."blog_post" t0 LEFT JOIN test."auth_user" t1 ON t1."id" = t0."author"`)
	assert.Contains(t, sqlQuery, `WHERE (t1."username" = $1 AND t0."status" IN ($2,$3))`)
	assert.Contains(t, sqlQuery, `ORDER BY t1."username" DESC,t0."id" LIMIT 10 OFFSET 20;`)
	assert.Equal(t, []interface{}{"alice", "draft", "published"}, args)
}

func TestSelectQuery_NestedJoinOnce(t *testing.T) {
	g := schematest.Blog()
	comment := schematest.Entity(g, "blog.comment")

	q := storage.All(comment).Filter(
		storage.Cond{Path: []string{"post", "author", "username"}, Op: storage.OpStartsWith, Value: "a_%"},
		storage.Cond{Path: []string{"post", "title"}, Op: storage.OpIsNull, Value: false},
	)
	sqlQuery, args, err := selectQuery("s", q)
	require.NoError(t, err)
	assert.Contains(t, sqlQuery, `LEFT JOIN s."blog_post" t1 ON t1."id" = t0."post" LEFT JOIN s."auth_user" t2 ON t2."id" = t1."author"`)
	assert.Contains(t, sqlQuery, `t2."username" LIKE $1`)
	assert.Contains(t, sqlQuery, `t1."title" IS NOT NULL`)
	assert.Equal(t, []interface{}{`a\_\%%`}, args)
}

func TestCondition(t *testing.T) {
	g := schematest.Blog()
	post := schematest.Entity(g, "blog.post")

	cases := []struct {
		cond storage.Predicate
		want string
	}{
		{storage.Cond{Path: []string{"category"}, Op: storage.OpEq, Value: nil}, `t0."category" IS NULL`},
		{storage.Cond{Path: []string{"status"}, Op: storage.OpNe, Value: "draft"}, `t0."status" IS DISTINCT FROM $1`},
		{storage.Cond{Path: []string{"views"}, Op: storage.OpGte, Value: int64(3)}, `t0."views" >= $1`},
		{storage.Cond{Path: []string{"views"}, Op: storage.OpIn, Value: []interface{}{}}, `FALSE`},
		{storage.Cond{Path: []string{"views"}, Op: storage.OpNotIn, Value: []interface{}{int64(1)}}, `(t0."views" IS NULL OR NOT t0."views" IN ($1))`},
		{storage.Cond{Path: []string{"title"}, Op: storage.OpIContains, Value: "go"}, `t0."title" ILIKE $1`},
		{storage.Cond{Path: []string{"views"}, Op: storage.OpRange, Value: []interface{}{int64(1), int64(5)}}, `t0."views" BETWEEN $1 AND $2`},
		{storage.Not{P: storage.Or{
			storage.Cond{Path: []string{"views"}, Op: storage.OpLt, Value: int64(1)},
			storage.Cond{Path: []string{"views"}, Op: storage.OpGt, Value: int64(9)},
		}}, `NOT ((t0."views" < $1 OR t0."views" > $2))`},
	}
	for _, c := range cases {
		b := newSelectBuilder("s", post)
		got, err := b.predicate(c.cond)
		require.NoError(t, err, c.cond.String())
		assert.Equal(t, c.want, got, c.cond.String())
	}

	b := newSelectBuilder("s", post)
	_, err := b.predicate(storage.Cond{Path: []string{"nope"}, Op: storage.OpEq, Value: 1})
	assert.Error(t, err)
	_, err = b.predicate(storage.Cond{Path: []string{"views"}, Op: storage.OpRange, Value: []interface{}{1}})
	assert.Error(t, err)
}

func TestCountQuery(t *testing.T) {
	g := schematest.Blog()
	post := schematest.Entity(g, "blog.post")
	sqlQuery, args, err := countQuery("s", storage.All(post))
	require.NoError(t, err)
	assert.Equal(t, `SELECT count(*) FROM s."blog_post" t0 WHERE TRUE;`, sqlQuery)
	assert.Empty(t, args)
}

func TestWriteQueries(t *testing.T) {
	g := schematest.Blog()
	comment := schematest.Entity(g, "blog.comment")

	assert.Equal(t, `INSERT INTO s."blog_comment" ("id","post","author","text") VALUES($1,$2,$3,$4);`, insertQuery("s", comment))
	assert.Equal(t, `UPDATE s."blog_comment" SET "text" = $1, "author" = $2 WHERE "id" = $3;`,
		updateQuery("s", comment, []string{"text", "author"}))
}

func TestMigrationQuery(t *testing.T) {
	g := schematest.Blog()
	user := schematest.Entity(g, "auth.user")

	query := migrationQuery("s", user)
	assert.Contains(t, query, `CREATE table IF NOT EXISTS s."auth_user"`)
	assert.Contains(t, query, `ADD COLUMN IF NOT EXISTS "username" varchar(150);`)
	assert.Contains(t, query, `CREATE UNIQUE index IF NOT EXISTS "auth_user_username_key"`)
	assert.Contains(t, query, `CREATE index IF NOT EXISTS "auth_user_profile_idx"`)

	edge, ok := user.Forward("profile")
	require.True(t, ok)
	fk := foreignKeyQuery("s", user, edge)
	assert.Contains(t, fk, `REFERENCES s."auth_profile"("id") ON DELETE SET NULL`)
}
