// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.

Responses are unwrapped from their envelope. A response with an error code is
returned as *core.Error, so callers can test it with errors.Is:

	_, err := c.Entity("blog.post").Item(id).Read(&post)
	if errors.Is(err, core.ErrNotFound) {
		...
	}
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken()))
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole(access.RoleAdmin)
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
//
//	use WithToken()))
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the context of requests made by the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Response is the envelope of all entity responses
type Response struct {
	ErrorCode    string              `json:"error_code"`
	ErrorMessage string              `json:"error_message"`
	ErrorData    map[string][]string `json:"error_data,omitempty"`
	Result       json.RawMessage     `json:"result,omitempty"`
}

// Err returns the error carried by the response, or nil
func (r *Response) Err() error {
	if r.ErrorCode == "" || r.ErrorCode == "0" {
		return nil
	}
	return &core.Error{
		Code:    core.ErrorCode(r.ErrorCode),
		Message: r.ErrorMessage,
		Fields:  r.ErrorData,
	}
}

// do sends a request and returns status, header and body of the response
func (c Client) do(method, path string, header map[string]string, body []byte) (int, http.Header, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}
	if body != nil && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}

	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, resBody, err
}

// Raw sends a request to path and unwraps the envelope of the response into result.
// body is marshalled to JSON unless it is a []byte. body and result can be nil.
//
// Returns the actual http status code. A response with an error code is returned as
// *core.Error.
func (c Client) Raw(method, path string, body interface{}, result interface{}) (int, error) {
	var data []byte
	if body != nil {
		var ok bool
		if data, ok = body.([]byte); !ok {
			var err error
			data, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
	}

	status, _, resBody, err := c.do(method, path, nil, data)
	if err != nil {
		return status, err
	}
	var response Response
	if err := json.Unmarshal(resBody, &response); err != nil {
		return status, fmt.Errorf("%s %s returned status %d without envelope: %s",
			method, path, status, strings.TrimSpace(string(resBody)))
	}
	if err := response.Err(); err != nil {
		return status, err
	}
	if result != nil && len(response.Result) > 0 {
		if raw, ok := result.(*[]byte); ok {
			*raw = response.Result
			return status, nil
		}
		err = json.Unmarshal(response.Result, result)
	}
	return status, err
}

// RawGet gets the resource from path.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.Raw(http.MethodGet, path, nil, result)
}

// RawPost posts body to path
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.Raw(http.MethodPost, path, body, result)
}

// RawPut puts body to path
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.Raw(http.MethodPut, path, body, result)
}

// RawPatch patches the resource at path with body
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	return c.Raw(http.MethodPatch, path, body, result)
}

// RawDelete deletes the resource at path
func (c Client) RawDelete(path string) (int, error) {
	return c.Raw(http.MethodDelete, path, nil, nil)
}

// RawGetFile gets a file from path. Responses with an envelope are errors.
func (c Client) RawGetFile(path string) (int, http.Header, []byte, error) {
	status, header, body, err := c.do(http.MethodGet, path, nil, nil)
	if err != nil {
		return status, header, nil, err
	}
	if strings.HasPrefix(header.Get("Content-Type"), "application/json") {
		var response Response
		if err := json.Unmarshal(body, &response); err == nil && response.Err() != nil {
			return status, header, nil, response.Err()
		}
	}
	if status != http.StatusOK {
		return status, header, nil, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(body)))
	}
	return status, header, body, nil
}

// Model represents the instances of one entity
type Model struct {
	client     Client
	end        core.End
	app        string
	name       string
	parameters url.Values
}

// Entity returns a new model client for the entity with the key "app.name" on the
// manage end
func (c Client) Entity(key string) Model {
	app, name := key, ""
	if i := strings.IndexByte(key, '.'); i >= 0 {
		app, name = key[:i], key[i+1:]
	}
	return Model{
		client: c,
		end:    core.EndManage,
		app:    app,
		name:   name,
	}
}

// WithEnd returns a new model client on another end
func (r Model) WithEnd(end core.End) Model {
	r.end = end
	return r
}

// WithParameter returns a new model client with a query parameter added
func (r Model) WithParameter(key string, value string) Model {
	// we want a true copy to avoid side effects
	parameters := url.Values{}
	for k, v := range r.parameters {
		parameters[k] = append([]string{}, v...)
	}
	parameters.Set(key, value)
	r.parameters = parameters
	return r
}

// WithExpandFields returns a new model client which requests expansion of the given paths
func (r Model) WithExpandFields(paths ...string) Model {
	return r.WithParameter("expand_fields", strings.Join(paths, ","))
}

// path returns the path of sub below the model, with query parameters
func (r Model) path(sub string) string {
	p := "/" + string(r.end) + "/" + r.app + "/" + r.name + "/"
	if sub != "" {
		p += sub + "/"
	}
	if len(r.parameters) > 0 {
		p += "?" + r.parameters.Encode()
	}
	return p
}

// Path returns the path of the model
func (r Model) Path() string {
	return r.path("")
}

// List lists the instances. result receives the page.
func (r Model) List(result interface{}) (int, error) {
	return r.client.RawGet(r.path(""), result)
}

// ListWithFilter lists the instances with a filter body
func (r Model) ListWithFilter(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.path("list"), body, result)
}

// Create creates a new instance
func (r Model) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.path(""), body, result)
}

// Batch runs a batch action on the given instances
func (r Model) Batch(action string, ids ...uuid.UUID) (int, error) {
	data := make([]string, len(ids))
	for i, id := range ids {
		data[i] = id.String()
	}
	return r.client.RawPost(r.path("batch"), map[string]interface{}{"action": action, "data": data}, nil)
}

// Export downloads the export in the given file format
func (r Model) Export(fileformat string) (int, http.Header, []byte, error) {
	return r.client.RawGetFile(r.WithParameter("fileformat", fileformat).path("export/file"))
}

// Item is a single instance of a model
type Item struct {
	model Model
	id    uuid.UUID
}

// Item returns an item client
func (r Model) Item(id uuid.UUID) Item {
	return Item{model: r, id: id}
}

// Path returns the path of the item
func (r Item) Path() string {
	return r.model.path(r.id.String())
}

// Read reads the item
func (r Item) Read(result interface{}) (int, error) {
	return r.model.client.RawGet(r.Path(), result)
}

// Update replaces the item
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.model.client.RawPut(r.Path(), body, result)
}

// Patch updates the fields of the item present in body
func (r Item) Patch(body interface{}, result interface{}) (int, error) {
	return r.model.client.RawPatch(r.Path(), body, result)
}

// Delete deletes the item
func (r Item) Delete() (int, error) {
	return r.model.client.RawDelete(r.Path())
}
