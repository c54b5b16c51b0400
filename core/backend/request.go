package backend

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/access"
	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/schema"
)

// parameter and body keys of entity requests
const (
	keyExpandFields     = "expand_fields"
	keyFilterConditions = "filter_conditions"
	keyOrderByFields    = "order_by_fields"
	keyDataWithTree     = "data_with_tree"
	keyPage             = "page"
	keyPageSize         = "page_size"
	keyFileFormat       = "fileformat"
	keyDelivery         = "delivery"
)

// RequestContext is the context of one request on an entity. It is created when the
// request enters the backend and discarded when the response is written.
type RequestContext struct {
	Entity    *schema.Entity
	Principal *access.Authorization
	End       core.End
	// ExpandFields are the requested expansion paths
	ExpandFields []string
	// Tree is set when tree data was requested and the entity is a tree
	Tree *schema.Tree

	request *http.Request
}

// operationFunc implements one operation. A nil result is answered without result.
type operationFunc func(ctx context.Context, rc *RequestContext) (status int, result interface{}, err error)

// envelope is the uniform response of all entity routes
type envelope struct {
	ErrorCode    string              `json:"error_code"`
	ErrorMessage string              `json:"error_message"`
	ErrorData    map[string][]string `json:"error_data,omitempty"`
	Result       interface{}         `json:"result,omitempty"`
}

// attachment is a result which is written as file instead of an envelope. render
// writes the content.
type attachment struct {
	filename    string
	contentType string
	render      func(w io.Writer) error
}

// entityHandler resolves the entity and the principal of a request, runs the operation
// and writes its result
func (b *Backend) entityHandler(op core.Operation, fn operationFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		rlog := logger.FromContext(ctx)
		rlog.Infoln("called route for", r.URL, r.Method)

		vars := mux.Vars(r)
		entityKey := core.EntityKey(vars["app"], vars["model"])
		principal := access.AuthorizationFromContext(ctx)

		status, result, err := func() (int, interface{}, error) {
			if b.authorizationEnabled && principal == nil {
				return 0, nil, core.NewError(core.CodeNotAuthorized, "not authorized")
			}
			e, err := b.Registry.Resolve(vars["app"], vars["model"])
			if err != nil {
				return 0, nil, err
			}
			if principal != nil {
				ctx, _ = logger.ContextWithLoggerIdentity(ctx, principal.Identity)
			}
			ctx, _ = logger.ContextWithLoggerEntity(ctx, e.Key())
			rc := &RequestContext{
				Entity:       e,
				Principal:    principal,
				End:          core.End(vars["end"]),
				ExpandFields: splitList(r.URL.Query().Get(keyExpandFields)),
				request:      r,
			}
			if withTree, _ := strconv.ParseBool(r.URL.Query().Get(keyDataWithTree)); withTree {
				rc.Tree = b.queries.Tree(ctx, e, true)
			}
			return fn(ctx, rc)
		}()

		code := writeResult(ctx, w, status, result, err)
		b.metrics.ObserveRequest(entityKey, string(op), code, time.Since(start))
	})
}

// writeResult writes the envelope of a result or an error and returns the error code
func writeResult(ctx context.Context, w http.ResponseWriter, status int, result interface{}, err error) string {
	if err != nil {
		cerr := core.AsError(err)
		httpStatus := cerr.Code.Status()
		if httpStatus >= http.StatusInternalServerError {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4800: %s", cerr.Code)
		} else {
			logger.FromContext(ctx).Infof("request failed: %s", cerr)
		}
		writeEnvelope(w, httpStatus, envelope{
			ErrorCode:    string(cerr.Code),
			ErrorMessage: cerr.Message,
			ErrorData:    cerr.Fields,
		})
		return string(cerr.Code)
	}

	if a, ok := result.(*attachment); ok {
		w.Header().Set("Content-Type", a.contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+a.filename+`"`)
		w.WriteHeader(http.StatusOK)
		if err := a.render(w); err != nil {
			// the status is out already
			logger.FromContext(ctx).WithError(err).Errorf("Error 4803: cannot write %s", a.filename)
			return string(core.CodeInternal)
		}
		return "0"
	}
	if status == 0 {
		status = http.StatusOK
	}
	writeEnvelope(w, status, envelope{ErrorCode: "0", Result: result})
	return "0"
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	jsonData, _ := json.MarshalWithOption(env, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// readBody decodes the JSON object in the request body. An empty body is an empty object.
func readBody(r *http.Request) (map[string]interface{}, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, core.Errorf(core.CodeInvalidRequest, err, "cannot read request body")
	}
	body := map[string]interface{}{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, core.Errorf(core.CodeInvalidRequest, err, "invalid request body: %s", err)
	}
	return body, nil
}

// pathID returns the id of the addressed instance
func pathID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return id, core.Errorf(core.CodeInvalidRequest, err, "invalid id '%s'", raw)
	}
	return id, nil
}

// splitList splits a comma separated parameter
func splitList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// stringList returns the strings of a body value, which is either a list or a comma
// separated string. Other values yield nil.
func stringList(v interface{}) []string {
	switch x := v.(type) {
	case string:
		return splitList(x)
	case []interface{}:
		var result []string
		for _, item := range x {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				result = append(result, strings.TrimSpace(s))
			}
		}
		return result
	}
	return nil
}
