package backend

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/expand"
	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/query"
	"github.com/relabs-tech/basebone/core/storage"
)

// ListRequest holds the parameters of a list request
type ListRequest struct {
	Conditions  []query.Condition
	OrderFields []string
	// Page starts with 1
	Page     int
	PageSize int
}

// Page is the result of a list request
type Page struct {
	Count    int           `json:"count"`
	PageSize int           `json:"page_size"`
	Next     *string       `json:"next"`
	Previous *string       `json:"previous"`
	Results  []interface{} `json:"results"`
}

// List returns one page of the instances visible to the principal of rc
func (b *Backend) List(ctx context.Context, rc *RequestContext, lr ListRequest) (*Page, error) {
	e := rc.Entity
	expansion, err := b.expansions.Resolve(e, rc.ExpandFields, rc.Tree)
	if err != nil {
		return nil, err
	}
	q, err := b.queries.Build(ctx, e, rc.Principal, lr.Conditions, lr.OrderFields, rc.Tree)
	if err != nil {
		return nil, err
	}

	pageSize := lr.PageSize
	if pageSize <= 0 {
		pageSize = b.config.PageSize
	}
	if pageSize > b.config.MaxPageSize {
		pageSize = b.config.MaxPageSize
	}
	page := lr.Page
	if page < 1 {
		page = 1
	}

	count, err := b.store.Count(ctx, q)
	if err != nil {
		return nil, core.Errorf(core.CodeInternal, err, "cannot count %s", e.Title())
	}
	instances, err := b.store.Find(ctx, q.WithPrefetch(expansion.Prefetch...).Page(pageSize, (page-1)*pageSize))
	if err != nil {
		return nil, core.Errorf(core.CodeInternal, err, "cannot list %s", e.Title())
	}

	result := &Page{
		Count:    count,
		PageSize: pageSize,
		Results:  make([]interface{}, 0, len(instances)),
	}
	for _, inst := range instances {
		item, err := b.serialize(ctx, b.store, rc, inst, expansion)
		if err != nil {
			return nil, err
		}
		result.Results = append(result.Results, item)
	}
	if page*pageSize < count {
		result.Next = pageLink(rc, page+1)
	}
	if page > 1 {
		result.Previous = pageLink(rc, page-1)
	}
	return result, nil
}

// Detail returns the instance with the given id if it is visible to the principal of
// rc. Without requested expansion, the detail_expand_fields of the admin configuration
// apply.
func (b *Backend) Detail(ctx context.Context, rc *RequestContext, id uuid.UUID) (map[string]interface{}, error) {
	e := rc.Entity
	var expansion expand.Result
	var err error
	if len(rc.ExpandFields) > 0 {
		expansion, err = b.expansions.Resolve(e, rc.ExpandFields, rc.Tree)
		if err != nil {
			return nil, err
		}
	} else {
		expansion = b.detailExpansion(ctx, rc)
	}

	inst, err := b.lookup(ctx, b.store, rc, id, expansion.Prefetch)
	if err != nil {
		return nil, err
	}
	return b.serialize(ctx, b.store, rc, inst, expansion)
}

// detailExpansion resolves the default expansion of detail views. Configuration which
// does not resolve is ignored.
func (b *Backend) detailExpansion(ctx context.Context, rc *RequestContext) expand.Result {
	e := rc.Entity
	if config, ok := b.admin.Lookup(e.Key()); ok && len(config.DetailExpandFields) > 0 {
		expansion, err := b.expansions.Resolve(e, config.DetailExpandFields, rc.Tree)
		if err == nil {
			return expansion
		}
		logger.FromContext(ctx).Debugf("ignore detail_expand_fields of %s: %s", e.Key(), err)
	}
	expansion, _ := b.expansions.Resolve(e, nil, rc.Tree)
	return expansion
}

// scoped returns all instances of the entity of rc which are visible to its principal
func (b *Backend) scoped(ctx context.Context, rc *RequestContext) storage.Query {
	return b.queries.Scope(ctx, storage.All(rc.Entity), rc.Entity, rc.Principal)
}

// lookup returns the instance with the given id within the scoped query. A miss is
// reported as NOT_FOUND, regardless of whether the instance exists.
func (b *Backend) lookup(ctx context.Context, r storage.Reader, rc *RequestContext, id uuid.UUID, prefetch []string) (*storage.Instance, error) {
	inst, err := storage.First(ctx, r, b.scoped(ctx, rc).ByID(id).WithPrefetch(prefetch...))
	if errors.Is(err, storage.ErrNoInstance) {
		return nil, core.NewError(core.CodeNotFound, "%s %s not found", rc.Entity.Title(), id)
	}
	if err != nil {
		return nil, core.Errorf(core.CodeInternal, err, "cannot read %s %s", rc.Entity.Title(), id)
	}
	return inst, nil
}

// serialize renders an instance. Tree children are loaded through r.
func (b *Backend) serialize(ctx context.Context, r storage.Reader, rc *RequestContext, inst *storage.Instance,
	expansion expand.Result) (map[string]interface{}, error) {

	var children expand.ChildLoader
	if tree := expansion.Shape.Tree; tree != nil {
		children = func(ctx context.Context, parent *storage.Instance, depth int) ([]*storage.Instance, error) {
			if depth > b.config.MaxTreeDepth {
				return nil, nil
			}
			q := b.scoped(ctx, rc).
				Filter(storage.Cond{Path: []string{tree.ParentField}, Op: storage.OpEq, Value: parent.ID}).
				WithPrefetch(expansion.Prefetch...)
			return r.Find(ctx, q)
		}
	}
	result, err := expand.Serialize(ctx, inst, expansion.Shape, children)
	if err != nil {
		return nil, core.Errorf(core.CodeInternal, err, "cannot serialize %s %s", rc.Entity.Title(), inst.ID)
	}
	return result, nil
}

// pageLink returns the link to another page of the current request
func pageLink(rc *RequestContext, page int) *string {
	if rc.request == nil {
		return nil
	}
	u := url.URL{Path: rc.request.URL.Path}
	values := rc.request.URL.Query()
	values.Set(keyPage, strconv.Itoa(page))
	u.RawQuery = values.Encode()
	link := u.String()
	return &link
}
