package reasoning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The reasoning service is non-deterministic; its JSON is validated against
// these schemas before any field is trusted.

const matchResponseSchemaJSON = `{
	"type": "object",
	"required": ["groups"],
	"properties": {
		"groups": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["canonical_id", "member_ids", "confidence", "reasoning"],
				"properties": {
					"name": {"type": "string"},
					"canonical_id": {"type": "string", "minLength": 1},
					"member_ids": {
						"type": "array",
						"items": {"type": "string", "minLength": 1},
						"minItems": 2
					},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"reasoning": {"type": "string"}
				}
			}
		}
	}
}`

const refineResponseSchemaJSON = `{
	"type": "object",
	"required": ["content"],
	"properties": {
		"title": {"type": "string"},
		"content": {"type": "string", "minLength": 1},
		"audience": {"type": "string"}
	}
}`

var (
	compileOnce        sync.Once
	matchSchema        *jsonschema.Schema
	refineSchema       *jsonschema.Schema
	schemaCompileError error
)

func compileSchemas() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("match_response.json", strings.NewReader(matchResponseSchemaJSON)); err != nil {
			schemaCompileError = fmt.Errorf("failed to add match schema: %w", err)
			return
		}
		if err := compiler.AddResource("refine_response.json", strings.NewReader(refineResponseSchemaJSON)); err != nil {
			schemaCompileError = fmt.Errorf("failed to add refine schema: %w", err)
			return
		}

		var err error
		matchSchema, err = compiler.Compile("match_response.json")
		if err != nil {
			schemaCompileError = fmt.Errorf("failed to compile match schema: %w", err)
			return
		}
		refineSchema, err = compiler.Compile("refine_response.json")
		if err != nil {
			schemaCompileError = fmt.Errorf("failed to compile refine schema: %w", err)
		}
	})
	return schemaCompileError
}

// validateJSON decodes raw JSON and validates it against the schema.
func validateJSON(schema *jsonschema.Schema, raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return value, nil
}

// parseMatchResponse validates and decodes a semantic match payload.
func parseMatchResponse(raw []byte) (*matchResponse, error) {
	if err := compileSchemas(); err != nil {
		return nil, err
	}
	if _, err := validateJSON(matchSchema, raw); err != nil {
		return nil, err
	}

	var resp matchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode match response: %w", err)
	}
	return &resp, nil
}

// parseRefineResponse validates and decodes a refine payload.
func parseRefineResponse(raw []byte) (*refineResponse, error) {
	if err := compileSchemas(); err != nil {
		return nil, err
	}
	if _, err := validateJSON(refineSchema, raw); err != nil {
		return nil, err
	}

	var resp refineResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode refine response: %w", err)
	}
	return &resp, nil
}
