// Package validator provides JSON schema validation for catalog documents
// and run requests.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates catalog documents and run requests.
type Validator struct {
	catalogSchema    *jsonschema.Schema
	runRequestSchema *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err converts a failed result into an error for callers that only need a
// pass/fail signal.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Path, e.Message))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, "; "))
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("catalog.json", strings.NewReader(catalogSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add catalog schema: %w", err)
	}
	if err := compiler.AddResource("run_request.json", strings.NewReader(runRequestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add run request schema: %w", err)
	}

	catalogSchema, err := compiler.Compile("catalog.json")
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	runRequestSchema, err := compiler.Compile("run_request.json")
	if err != nil {
		return nil, fmt.Errorf("compile run request schema: %w", err)
	}

	return &Validator{
		catalogSchema:    catalogSchema,
		runRequestSchema: runRequestSchema,
	}, nil
}

// ValidateCatalog validates a decoded catalog document.
func (v *Validator) ValidateCatalog(doc map[string]any) *ValidationResult {
	return v.validate(v.catalogSchema, doc)
}

// ValidateRunRequest validates a decoded run request body.
func (v *Validator) ValidateRunRequest(req map[string]any) *ValidationResult {
	return v.validate(v.runRequestSchema, req)
}

// ValidateCatalogJSON validates a JSON-encoded catalog document.
func (v *Validator) ValidateCatalogJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.catalogSchema, data)
}

// ValidateRunRequestJSON validates a JSON-encoded run request body.
func (v *Validator) ValidateRunRequestJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.runRequestSchema, data)
}

func (v *Validator) validateJSON(schema *jsonschema.Schema, data []byte) *ValidationResult {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.validate(schema, decoded)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data any) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}
	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errs []ValidationError

	if verr.Message != "" {
		errs = append(errs, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}
	for _, cause := range verr.Causes {
		errs = append(errs, extractErrors(cause)...)
	}
	return errs
}

// Embedded JSON schemas

const catalogSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "catalog.json",
  "title": "Action Catalog",
  "description": "Schema for goalflow action catalog documents",
  "type": "object",
  "required": ["fields", "actions"],
  "properties": {
    "fields": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "properties": {
          "name": {
            "type": "string",
            "pattern": "^[a-z][a-z0-9_]*$",
            "description": "World-state field name"
          },
          "kind": {
            "enum": ["bool", "number"],
            "description": "Field value kind"
          }
        },
        "additionalProperties": false
      }
    },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "agent_id", "cost", "effects"],
        "properties": {
          "name": {
            "type": "string",
            "minLength": 1,
            "description": "Unique action name"
          },
          "agent_id": {
            "type": "string",
            "pattern": "^[a-z][a-z0-9._-]*$",
            "description": "Executor identifier"
          },
          "cost": {
            "type": "number",
            "minimum": 0,
            "description": "Static action cost"
          },
          "preconditions": {"$ref": "#/$defs/partialState"},
          "effects": {"$ref": "#/$defs/partialState"},
          "description": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "partialState": {
      "type": "object",
      "description": "Field name to required or applied value",
      "additionalProperties": {
        "type": ["boolean", "number"]
      }
    }
  }
}`

const runRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "run_request.json",
  "title": "Run Request",
  "description": "Schema for run and plan request bodies",
  "type": "object",
  "required": ["goal"],
  "properties": {
    "name": {"type": "string"},
    "start": {"$ref": "#/$defs/partialState"},
    "goal": {
      "$ref": "#/$defs/partialState",
      "minProperties": 1
    }
  },
  "additionalProperties": false,
  "$defs": {
    "partialState": {
      "type": "object",
      "additionalProperties": {
        "type": ["boolean", "number"]
      }
    }
  }
}`
