// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"github.com/relabs-tech/basebone/core"
	"github.com/relabs-tech/basebone/core/admin"
	"github.com/relabs-tech/basebone/core/schema"
)

// defaults of the paging configuration
const (
	defaultPageSize     = 100
	defaultMaxPageSize  = 1000
	defaultMaxTreeDepth = 5
)

// Configuration holds a complete backend configuration
type Configuration struct {
	// Apps lists the active namespaces
	Apps []string `json:"apps"`
	// UserEntity is the key of the entity representing logged in users
	UserEntity string                `json:"user_entity"`
	Entities   []entityConfiguration `json:"entities"`
	// Schemas and Refs are custom JSON schemas, referenced by the schema_id of an entity
	Schemas      []string `json:"schemas"`
	Refs         []string `json:"refs"`
	PageSize     int      `json:"page_size"`
	MaxPageSize  int      `json:"max_page_size"`
	MaxTreeDepth int      `json:"max_tree_depth"`
}

// entityConfiguration describes an entity and its admin hints
type entityConfiguration struct {
	schema.EntityDefinition
	Admin *admin.Config `json:"admin,omitempty"`
}

// definition returns the schema definition of the configuration
func (c *Configuration) definition() schema.Definition {
	def := schema.Definition{
		Apps:       c.Apps,
		UserEntity: c.UserEntity,
	}
	for _, ec := range c.Entities {
		def.Entities = append(def.Entities, ec.EntityDefinition)
	}
	return def
}

// admin returns the admin hints found in the configuration, keyed by entity key
func (c *Configuration) admin() admin.Static {
	result := admin.Static{}
	for _, ec := range c.Entities {
		if ec.Admin != nil {
			result[core.EntityKey(ec.App, ec.Name)] = *ec.Admin
		}
	}
	return result
}

// withDefaults fills unset paging limits
func (c Configuration) withDefaults() Configuration {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = defaultMaxPageSize
	}
	if c.PageSize > c.MaxPageSize {
		c.PageSize = c.MaxPageSize
	}
	if c.MaxTreeDepth <= 0 {
		c.MaxTreeDepth = defaultMaxTreeDepth
	}
	return c
}
