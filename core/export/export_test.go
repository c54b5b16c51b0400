package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/relabs-tech/basebone/core/schema/schematest"
	"github.com/relabs-tech/basebone/core/storage"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": CSV, "excel": Excel, " Excel ": Excel} {
		f, ok := ParseFormat(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, f)
	}
	for _, in := range []string{"xml", "", "xlsx"} {
		f, ok := ParseFormat(in)
		assert.False(t, ok, in)
		assert.Equal(t, CSV, f, "unsupported formats fall back to csv")
	}
	assert.Equal(t, "text/csv; charset=utf-8", CSV.ContentType())
}

func TestColumns(t *testing.T) {
	g := schematest.Blog()
	user := schematest.Entity(g, "auth.user")

	var names []string
	for _, f := range Columns(user, nil) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "username", "email", "is_staff", "profile", "date_joined"}, names)

	names = nil
	for _, f := range Columns(user, []string{"email", "password", "nope", "id"}) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"email", "id"}, names)
	assert.Equal(t, "auth_user.xlsx", Excel.Filename(user))
}

func instances() ([]*storage.Instance, uuid.UUID) {
	g := schematest.Blog()
	post := schematest.Entity(g, "blog.post")
	id := uuid.MustParse("6f1b3c55-8a5e-4d36-9a40-3c2f4f1a0c11")
	return []*storage.Instance{{
		Entity: post,
		ID:     id,
		Values: map[string]interface{}{
			"title":      "Hello, \"world\"",
			"status":     "draft",
			"views":      int64(3),
			"created_at": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}}, id
}

func TestRender_CSV(t *testing.T) {
	list, id := instances()
	columns := Columns(list[0].Entity, []string{"id", "title", "status", "views", "category", "created_at"})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, CSV, columns, list))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"ID", "Title", "Status", "views", "category", "Created"},
		{id.String(), "Hello, \"world\"", "draft", "3", "", "2024-01-02T03:04:05Z"},
	}, rows)
}

// rowWriter records the chunks written to it
type rowWriter struct {
	chunks []string
}

func (w *rowWriter) Write(p []byte) (int, error) {
	w.chunks = append(w.chunks, string(p))
	return len(p), nil
}

func TestRender_CSVStreamsRows(t *testing.T) {
	list, _ := instances()
	second := *list[0]
	second.ID = uuid.New()
	second.Values = map[string]interface{}{"title": "second"}
	list = append(list, &second)

	w := &rowWriter{}
	require.NoError(t, Render(w, CSV, Columns(list[0].Entity, []string{"title"}), list))
	assert.Equal(t, []string{"Title\n", "\"Hello, \"\"world\"\"\"\n", "second\n"}, w.chunks)
}

func TestRender_Excel(t *testing.T) {
	list, id := instances()
	columns := Columns(list[0].Entity, []string{"id", "title", "views"})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Excel, columns, list))
	file, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer file.Close()
	rows, err := file.GetRows(sheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"ID", "Title", "views"},
		{id.String(), "Hello, \"world\"", "3"},
	}, rows)
}
