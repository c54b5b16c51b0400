package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperations_JSON_Unmarshalling(t *testing.T) {
	type Object struct {
		Operations []Operation `json:"operations"`
	}
	var object Object
	err := json.Unmarshal([]byte(`{"operations":["create","read","update","list","batch","export"]}`), &object)
	require.NoError(t, err)
	assert.Len(t, object.Operations, 6)

	err = json.Unmarshal([]byte(`{"operations":["invalid"]}`), &object)
	assert.Error(t, err)
}

func TestEntityKey(t *testing.T) {
	assert.Equal(t, "blog.post", EntityKey("blog", "post"))

	ns, name, ok := SplitEntityKey("blog.post")
	assert.True(t, ok)
	assert.Equal(t, "blog", ns)
	assert.Equal(t, "post", name)

	for _, bad := range []string{"", "blog", ".post", "blog."} {
		_, _, ok = SplitEntityKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestError_Is(t *testing.T) {
	err := NewError(CodeNotFound, "no post %s", "x")
	wrapped := fmt.Errorf("lookup: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrValidation))
	assert.Equal(t, http.StatusNotFound, AsError(wrapped).Code.Status())
}

func TestError_Fields(t *testing.T) {
	err := NewError(CodeValidation, "invalid data").
		AddField("title", "this field is required").
		AddField("title", "too long")
	assert.True(t, err.HasFields())
	assert.Equal(t, []string{"this field is required", "too long"}, err.Fields["title"])
	assert.Contains(t, err.Error(), "- title: this field is required; too long")
}

func TestAsError_Unclassified(t *testing.T) {
	e := AsError(errors.New("boom"))
	assert.Equal(t, CodeInternal, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.Code.Status())
	assert.EqualError(t, errors.Unwrap(e), "boom")
}
