// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package form

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"
)

// Validator validates JSON documents against custom JSON schemas. Entities refer to
// a custom schema by its $id with the schema_id of their definition.
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// NewValidatorFromFS creates a new Validator using schemas from schemaFS. Json files
// from / will be used as toplevel schemas, while json files in /refs/ will be used
// as references. A missing refs directory means no references.
func NewValidatorFromFS(schemaFS fs.FS) (*Validator, error) {

	readDir := func(dir string, optional bool) ([]string, error) {
		var strs []string
		files, err := fs.ReadDir(schemaFS, dir)
		if err != nil {
			if optional {
				return nil, nil
			}
			return nil, fmt.Errorf("cannot read dir %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			str, err := fs.ReadFile(schemaFS, path.Join(dir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("cannot read file '%s' %w", f.Name(), err)
			}
			strs = append(strs, string(str))
		}
		return strs, nil
	}

	schemasString, err := readDir(".", false)
	if err != nil {
		return nil, err
	}

	refsString, err := readDir("refs", true)
	if err != nil {
		return nil, err
	}

	return NewValidator(schemasString, refsString)
}

// NewValidator creates a new Validator using schemas for the top level JSON schemas and refs
// for refs that may be referenced in the top level schemas. Top level schemas cannot reference each
// others. If a reference is mentioned, it can only be in the list of refs
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	type schema struct {
		ID string `json:"$id"`
	}
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		s := schema{}
		err := json.Unmarshal([]byte(str), &s)
		if err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		compiled, err := compile(gojsonschema.NewStringLoader(str), refs)
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s %s", s.ID, err)
		}
		validator.schemaValidators[s.ID] = compiled
	}

	return &validator, nil
}

func compile(loader gojsonschema.JSONLoader, refs []string) (*gojsonschema.Schema, error) {
	sl := gojsonschema.NewSchemaLoader()
	for _, ref := range refs {
		if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
			return nil, fmt.Errorf("cannot add ref %s", err)
		}
	}
	return sl.Compile(loader)
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	if v == nil {
		return false
	}
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// Validate validates the document against schemaID and returns the problems keyed
// by field. An empty result means the document is valid.
func (v *Validator) Validate(document interface{}, schemaID string) (map[string][]string, error) {
	if !v.HasSchema(schemaID) {
		return nil, fmt.Errorf("there is no schema %s ", schemaID)
	}
	return problems(v.schemaValidators[schemaID], gojsonschema.NewGoLoader(document))
}

// problems validates the loader with schema and converts the result into field problems
func problems(schema *gojsonschema.Schema, loader gojsonschema.JSONLoader) (map[string][]string, error) {
	result, err := schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("cannot validate document: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	fields := map[string][]string{}
	for _, e := range result.Errors() {
		field, message := describe(e)
		fields[field] = append(fields[field], message)
	}
	return fields, nil
}

// nonFieldErrors is the key of problems which do not belong to a single field
const nonFieldErrors = "non_field_errors"

func describe(e gojsonschema.ResultError) (string, string) {
	field := e.Field()
	switch e.Type() {
	case "required":
		if property, ok := e.Details()["property"].(string); ok {
			field = property
			if context := e.Context().String("."); context != "(root)" {
				field = strings.TrimPrefix(context, "(root).") + "." + property
			}
		}
		return field, "This field is required."
	case "number_not":
		return field, "This field may not be null."
	case "string_lte":
		return field, fmt.Sprintf("Ensure this field has no more than %v characters.", e.Details()["max"])
	}
	if field == "(root)" {
		field = nonFieldErrors
	}
	return field, e.Description()
}
