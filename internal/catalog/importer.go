package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const importSchemaURL = "https://nexusvault.local/schema/app-state.json"

const importSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["categories", "items"],
  "properties": {
    "categories": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "parentId": {"type": ["string", "null"]},
          "createdAt": {"type": "number"}
        }
      }
    },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "categoryIds"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "content": {"type": "string"},
          "description": {"type": ["string", "null"]},
          "type": {"enum": ["text", "url", "image", "video", "audio", "document"]},
          "categoryIds": {"type": "array", "minItems": 1, "items": {"type": "string"}},
          "createdAt": {"type": "number"},
          "fileName": {"type": ["string", "null"]},
          "size": {"type": ["number", "null"]}
        }
      }
    },
    "selectedCategoryIds": {"type": "array", "items": {"type": "string"}}
  }
}`

var importSchema struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

func compiledImportSchema() (*jsonschema.Schema, error) {
	importSchema.once.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(importSchemaJSON))
		if err != nil {
			importSchema.err = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(importSchemaURL, doc); err != nil {
			importSchema.err = err
			return
		}
		importSchema.schema, importSchema.err = compiler.Compile(importSchemaURL)
	})
	return importSchema.schema, importSchema.err
}

// DecodeImport validates the shape of an exported state and decodes it. Any
// failure wraps ErrCorruptData.
func DecodeImport(raw []byte) (AppState, error) {
	schema, err := compiledImportSchema()
	if err != nil {
		return AppState{}, fmt.Errorf("compile import schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return AppState{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if err := schema.Validate(instance); err != nil {
		return AppState{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	var state AppState
	if err := json.Unmarshal(raw, &state); err != nil {
		return AppState{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	state = state.normalized()
	if err := CheckInvariants(state); err != nil {
		return AppState{}, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return state, nil
}
