package client

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/basebone/core"
)

func TestPaths(t *testing.T) {
	client := NewWithRouter(nil)
	id := uuid.MustParse("c46da255-eb72-4cc6-8835-1b34a9917826")

	model := client.Entity("blog.post")
	assert.Equal(t, "/manage/blog/post/", model.Path())
	assert.Equal(t, "/manage/blog/post/"+id.String()+"/", model.Item(id).Path())
	assert.Equal(t, "/client/blog/post/", model.WithEnd(core.EndClient).Path())

	expanded := model.WithExpandFields("author.profile", "category").WithParameter("page", "2")
	assert.Equal(t, "/manage/blog/post/?expand_fields=author.profile%2Ccategory&page=2", expanded.Path())
	assert.Equal(t, "/manage/blog/post/", model.Path(), "parameters do not leak into the parent client")
}

func TestEnvelope(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error_code":"0","error_message":"","result":{"title":"hello"}}`))
	})
	router.HandleFunc("/invalid", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_code":"VALIDATION_ERROR","error_message":"invalid","error_data":{"title":["This field is required."]}}`))
	})
	client := NewWithRouter(router)

	var result map[string]interface{}
	status, err := client.RawGet("/ok", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", result["title"])

	status, err = client.RawPost("/invalid", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.True(t, errors.Is(err, core.ErrValidation))
	var cerr *core.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"This field is required."}, cerr.Fields["title"])
}
