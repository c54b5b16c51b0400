// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"net/http"
	"strconv"

	"github.com/relabs-tech/basebone/core/query"
)

// list serves GET on the entity. Only expansion, tree mode, paging and ordering are
// taken from the query parameters.
func (b *Backend) list(ctx context.Context, rc *RequestContext) (int, interface{}, error) {
	params := rc.request.URL.Query()
	lr := ListRequest{
		OrderFields: splitList(params.Get(keyOrderByFields)),
		Page:        atoi(params.Get(keyPage)),
		PageSize:    atoi(params.Get(keyPageSize)),
	}
	page, err := b.List(ctx, rc, lr)
	return http.StatusOK, page, err
}

// listWithFilter serves POST on list/. The body may carry expand_fields,
// filter_conditions, order_by_fields and data_with_tree.
func (b *Backend) listWithFilter(ctx context.Context, rc *RequestContext) (int, interface{}, error) {
	body, err := readBody(rc.request)
	if err != nil {
		return 0, nil, err
	}
	params := rc.request.URL.Query()
	lr := ListRequest{
		Conditions:  query.ParseConditions(body[keyFilterConditions]),
		OrderFields: query.ParseOrder(body[keyOrderByFields]),
		Page:        atoi(params.Get(keyPage)),
		PageSize:    atoi(params.Get(keyPageSize)),
	}
	if fields, ok := body[keyExpandFields]; ok {
		rc.ExpandFields = stringList(fields)
	}
	if withTree, ok := body[keyDataWithTree].(bool); ok {
		rc.Tree = b.queries.Tree(ctx, rc.Entity, withTree)
	}
	page, err := b.List(ctx, rc, lr)
	return http.StatusOK, page, err
}

func (b *Backend) detail(ctx context.Context, rc *RequestContext) (int, interface{}, error) {
	id, err := pathID(rc.request)
	if err != nil {
		return 0, nil, err
	}
	result, err := b.Detail(ctx, rc, id)
	return http.StatusOK, result, err
}

func (b *Backend) create(ctx context.Context, rc *RequestContext) (int, interface{}, error) {
	body, err := readBody(rc.request)
	if err != nil {
		return 0, nil, err
	}
	result, err := b.Create(ctx, rc, body)
	return http.StatusCreated, result, err
}

// update serves PUT and PATCH, the latter being a partial update
func (b *Backend) update(ctx context.Context, rc *RequestContext) (int, interface{}, error) {
	id, err := pathID(rc.request)
	if err != nil {
		return 0, nil, err
	}
	body, err := readBody(rc.request)
	if err != nil {
		return 0, nil, err
	}
	partial := rc.request.Method == http.MethodPatch
	result, err := b.Update(ctx, rc, id, body, partial)
	return http.StatusOK, result, err
}

func (b *Backend) destroy(ctx context.Context, rc *RequestContext) (int, interface{}, error) {
	id, err := pathID(rc.request)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, nil, b.Destroy(ctx, rc, id)
}

// atoi returns 0 for anything but a number
func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}
