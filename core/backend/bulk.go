package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/batch"
	"github.com/relabs-tech/basebone/core/export"
	"github.com/relabs-tech/basebone/core/logger"
)

// deliveryLink is the delivery parameter which requests a download link instead of the file
const deliveryLink = "link"

// Batch runs a batch action on the listed instances which are visible to the principal
// of rc. The action must be registered and permitted by the admin configuration.
func (b *Backend) Batch(ctx context.Context, rc *RequestContext, req batch.Request) error {
	e := rc.Entity
	allowed := func(action string) bool {
		config, ok := b.admin.Lookup(e.Key())
		return !ok || config.AllowsBatchAction(action)
	}
	err := b.batchActions.Run(ctx, b.store, rc.Principal, b.scoped(ctx, rc), req, allowed)
	if err != nil {
		return err
	}
	b.metrics.IncMutation(e.Key(), string(core.OperationBatch))
	return nil
}

// Export loads all instances visible to the principal of rc and returns the file which
// renders them. Unsupported formats fall back to CSV. orderFields orders the rows.
func (b *Backend) Export(ctx context.Context, rc *RequestContext, format string, orderFields []string) (*attachment, error) {
	e := rc.Entity
	f, ok := export.ParseFormat(format)
	if !ok && format != "" {
		logger.FromContext(ctx).Debugf("unsupported export format '%s', fall back to %s", format, f)
	}
	q, err := b.queries.Build(ctx, e, rc.Principal, nil, orderFields, nil)
	if err != nil {
		return nil, err
	}
	instances, err := b.store.Find(ctx, q.Unpaged())
	if err != nil {
		return nil, core.Errorf(core.CodeInternal, err, "cannot export %s", e.Title())
	}

	var names []string
	if config, ok := b.admin.Lookup(e.Key()); ok {
		names = config.ExportFields
	}
	columns := export.Columns(e, names)
	return &attachment{
		filename:    f.Filename(e),
		contentType: f.ContentType(),
		render: func(w io.Writer) error {
			return export.Render(w, f, columns, instances)
		},
	}, nil
}

// batch serves POST on batch/ with a body {"action": "...", "data": [ids]}
func (b *Backend) batch(ctx context.Context, rc *RequestContext) (int, interface{}, error) {
	body, err := readBody(rc.request)
	if err != nil {
		return 0, nil, err
	}
	req := batch.Request{}
	req.Action, _ = body["action"].(string)
	if raw, ok := body["data"]; ok && raw != nil {
		data, ok := raw.([]interface{})
		if !ok {
			return 0, nil, core.NewError(core.CodeValidation, "invalid batch request").
				AddField("data", "Expected a list of items.")
		}
		req.Data = data
	}
	return http.StatusOK, nil, b.Batch(ctx, rc, req)
}

// export serves GET on export/file/. With delivery=link the file is stored in the
// archive and the result holds its download link.
func (b *Backend) export(ctx context.Context, rc *RequestContext) (int, interface{}, error) {
	params := rc.request.URL.Query()
	a, err := b.Export(ctx, rc, params.Get(keyFileFormat), splitList(params.Get(keyOrderByFields)))
	if err != nil {
		return 0, nil, err
	}
	if params.Get(keyDelivery) != deliveryLink {
		return http.StatusOK, a, nil
	}
	if b.archive == nil {
		return 0, nil, core.NewError(core.CodeInvalidRequest, "export links are not available")
	}
	var buf bytes.Buffer
	if err := a.render(&buf); err != nil {
		return 0, nil, core.Errorf(core.CodeInternal, err, "cannot render %s", a.filename)
	}
	key := fmt.Sprintf("exports/%s/%s", uuid.New(), a.filename)
	url, err := b.archive.Store(ctx, key, a.contentType, buf.Bytes())
	if err != nil {
		return 0, nil, core.Errorf(core.CodeInternal, err, "cannot store export")
	}
	return http.StatusOK, map[string]interface{}{"url": url, "filename": a.filename}, nil
}

