// Package schema validates JSON documents against JSON schemas. Resources
// that declare a schema_id get their write payloads validated before they
// reach the store.
package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Validator holds a set of compiled JSON schemas, keyed by their $id.
//
// References must be added before the schemas that use them. Top level
// schemas cannot reference each other.
type Validator struct {
	compiled map[string]*gojsonschema.Schema
	refs     []string
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*gojsonschema.Schema)}
}

// AddRef registers a referenced schema. Refs are not validated against
// directly, they only serve $ref resolution of schemas added later.
func (v *Validator) AddRef(refJSON string) {
	v.refs = append(v.refs, refJSON)
}

// Add compiles a top level schema and registers it under its $id, which is
// returned.
func (v *Validator) Add(schemaJSON string) (string, error) {
	var header struct {
		ID string `json:"$id"`
	}
	if err := json.Unmarshal([]byte(schemaJSON), &header); err != nil {
		return "", fmt.Errorf("parse error '%v' in schema: '%s'", err, schemaJSON)
	}
	if header.ID == "" {
		return "", fmt.Errorf("schema does not contain $id: '%s'", schemaJSON)
	}

	sl := gojsonschema.NewSchemaLoader()
	for _, ref := range v.refs {
		if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
			return "", fmt.Errorf("cannot add ref for schema %s: %s", header.ID, err)
		}
	}
	compiled, err := sl.Compile(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return "", fmt.Errorf("cannot compile schema %s: %s", header.ID, err)
	}
	v.compiled[header.ID] = compiled
	return header.ID, nil
}

// MustAdd is like Add but panics on error, for startup registration.
func (v *Validator) MustAdd(schemaJSON string) string {
	id, err := v.Add(schemaJSON)
	if err != nil {
		panic(err)
	}
	return id
}

// AddFS registers all schemas from a filesystem, typically an embed.FS.
// Json files in refs/ are added as references, json files at the root as top
// level schemas.
func (v *Validator) AddFS(fsys fs.FS) error {
	readDir := func(dir string) ([]string, error) {
		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			return nil, fmt.Errorf("cannot read dir %w", err)
		}
		var strs []string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			fullPath := e.Name()
			if dir != "." {
				fullPath = dir + "/" + e.Name()
			}
			data, err := fs.ReadFile(fsys, fullPath)
			if err != nil {
				return nil, fmt.Errorf("cannot read file '%s' %w", fullPath, err)
			}
			strs = append(strs, string(data))
		}
		return strs, nil
	}

	if refs, err := readDir("refs"); err == nil {
		for _, ref := range refs {
			v.AddRef(ref)
		}
	}
	schemas, err := readDir(".")
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if _, err := v.Add(s); err != nil {
			return err
		}
	}
	return nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.compiled[schemaID]
	return ok
}

// ValidateString validates the given json against schemaID. If no error is
// returned, then the passed json is valid
func (v *Validator) ValidateString(jsonDoc, schemaID string) error {
	return v.validate(gojsonschema.NewStringLoader(jsonDoc), schemaID)
}

// ValidateStruct validates the given object against schemaID. If no error is
// returned, then the passed object is valid
func (v *Validator) ValidateStruct(object interface{}, schemaID string) error {
	return v.validate(gojsonschema.NewGoLoader(object), schemaID)
}

func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) error {
	compiled, ok := v.compiled[schemaID]
	if !ok {
		return fmt.Errorf("there is no schema %s", schemaID)
	}
	result, err := compiled.Validate(loader)
	if err != nil {
		return fmt.Errorf("cannot validate with schema %s %s", schemaID, err)
	}
	if !result.Valid() {
		msg := "the document is not valid:\n"
		for _, e := range result.Errors() {
			msg += fmt.Sprintf("- %s\n", e)
		}
		return errors.New(msg)
	}
	return nil
}
