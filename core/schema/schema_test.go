package schema_test

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/docrest/core/schema"
)

const personSchema = `{
	"$id": "person.json",
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	},
	"required": ["name"]
}`

func TestValidator(t *testing.T) {
	v := schema.NewValidator()
	id, err := v.Add(personSchema)
	require.NoError(t, err)
	assert.Equal(t, "person.json", id)
	assert.True(t, v.HasSchema("person.json"))
	assert.False(t, v.HasSchema("ghost.json"))

	assert.NoError(t, v.ValidateString(`{"name": "Jane", "age": 35}`, "person.json"))
	assert.Error(t, v.ValidateString(`{"age": 35}`, "person.json"), "missing required name")
	assert.Error(t, v.ValidateString(`{"name": "Jane", "age": -1}`, "person.json"))
	assert.Error(t, v.ValidateString(`{"name": "Jane"}`, "ghost.json"))

	assert.NoError(t, v.ValidateStruct(map[string]interface{}{"name": "Jane"}, "person.json"))
	assert.Error(t, v.ValidateStruct(map[string]interface{}{"name": 12}, "person.json"))
}

func TestValidatorRejectsSchemaWithoutID(t *testing.T) {
	v := schema.NewValidator()
	_, err := v.Add(`{"type": "object"}`)
	assert.Error(t, err)
	assert.Panics(t, func() { v.MustAdd(`{"type": "object"}`) })
}

func TestValidatorRefs(t *testing.T) {
	v := schema.NewValidator()
	v.AddRef(`{
		"$id": "address.json",
		"type": "object",
		"properties": {"city": {"type": "string"}},
		"required": ["city"]
	}`)
	_, err := v.Add(`{
		"$id": "company.json",
		"type": "object",
		"properties": {"address": {"$ref": "address.json"}}
	}`)
	require.NoError(t, err)

	assert.NoError(t, v.ValidateString(`{"address": {"city": "Berlin"}}`, "company.json"))
	assert.Error(t, v.ValidateString(`{"address": {}}`, "company.json"))
}

func TestValidatorAddFS(t *testing.T) {
	fsys := fstest.MapFS{
		"refs/address.json": &fstest.MapFile{Data: []byte(`{
			"$id": "address.json",
			"type": "object",
			"properties": {"city": {"type": "string"}}
		}`)},
		"company.json": &fstest.MapFile{Data: []byte(`{
			"$id": "company.json",
			"type": "object",
			"properties": {"address": {"$ref": "address.json"}}
		}`)},
		"notes.txt": &fstest.MapFile{Data: []byte("not a schema")},
	}

	v := schema.NewValidator()
	require.NoError(t, v.AddFS(fsys))
	assert.True(t, v.HasSchema("company.json"))
	assert.NoError(t, v.ValidateString(`{"address": {"city": "Berlin"}}`, "company.json"))
}
