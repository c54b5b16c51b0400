// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents an operation on a registered entity, one of Create, Read, Update,
// Delete, List, Batch or Export
type Operation string

// all supported operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
	OperationBatch  Operation = "batch"
	OperationExport Operation = "export"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList,
		OperationBatch, OperationExport:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// End is the route prefix an entity is served under. The manage end is meant for
// back office clients, the client end for end-user applications. Both share the
// same pipeline.
type End string

// the supported ends
const (
	EndManage End = "manage"
	EndClient End = "client"
)

// EntityKey returns the canonical key "namespace.name" of an entity.
func EntityKey(namespace, name string) string {
	return namespace + "." + name
}

// SplitEntityKey is the inverse of EntityKey. It returns false if key is not qualified.
func SplitEntityKey(key string) (namespace, name string, ok bool) {
	i := strings.IndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
