package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/jobflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// documentSchemaJSON is the JSON Schema for definition documents.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://jobflow.dev/schemas/document.json",
  "type": "object",
  "properties": {
    "flows": {
      "type": "array",
      "items": { "$ref": "#/$defs/flow" }
    },
    "jobs": {
      "type": "array",
      "items": { "$ref": "#/$defs/job" }
    }
  },
  "anyOf": [
    { "required": ["jobs"] },
    { "required": ["flows"] }
  ],
  "additionalProperties": false,
  "$defs": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "job": {
      "type": "object",
      "required": ["name", "start", "nodes"],
      "properties": {
        "name": { "$ref": "#/$defs/name" },
        "description": { "type": "string" },
        "start": { "$ref": "#/$defs/name" },
        "restartable": { "type": "boolean" },
        "parameters": { "type": "object" },
        "nodes": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/node" }
        }
      },
      "additionalProperties": false
    },
    "flow": {
      "type": "object",
      "required": ["name", "start", "nodes"],
      "properties": {
        "name": { "$ref": "#/$defs/name" },
        "start": { "$ref": "#/$defs/name" },
        "nodes": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/node" }
        }
      },
      "additionalProperties": false
    },
    "node": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "$ref": "#/$defs/name" },
        "type": {
          "type": "string",
          "enum": ["step", "decider", "split", "job", "flow"]
        },
        "action": { "type": "string" },
        "params": { "type": "object" },
        "exit_status": { "$ref": "#/$defs/expression" },
        "allow_restart": { "type": "boolean" },
        "decider": { "type": "string" },
        "config": { "type": "object" },
        "flows": {
          "type": "array",
          "items": { "$ref": "#/$defs/name" }
        },
        "job": { "type": "string" },
        "flow": { "type": "string" },
        "transitions": {
          "type": "array",
          "items": { "$ref": "#/$defs/transition" }
        }
      },
      "additionalProperties": false
    },
    "expression": {
      "type": "object",
      "required": ["expression"],
      "properties": {
        "engine": {
          "type": "string",
          "enum": ["cel", "expr", "jq"]
        },
        "expression": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    },
    "transition": {
      "type": "object",
      "required": ["on"],
      "properties": {
        "on": { "type": "string", "minLength": 1 },
        "to": { "type": "string" },
        "end": { "type": "boolean" },
        "fail": { "type": "boolean" },
        "stop": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

const documentSchemaURL = "https://jobflow.dev/schemas/document.json"

// JSONSchemaValidator checks definition documents and job parameters with
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	documentSchema *jsonschema.Schema

	// mu guards the cache and compiler for dynamic schema compilation.
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	cache    map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the document schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}

	docSchema, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}

	return &JSONSchemaValidator{
		documentSchema: docSchema,
		compiler:       newInputCompiler(),
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates a definition document against the document
// JSON Schema, then rejects duplicate job or flow names.
func (v *JSONSchemaValidator) ValidateDocument(doc *schema.Document) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "definition document is nil")
	}

	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize definition document").WithCause(err)
	}

	if err := v.documentSchema.Validate(value); err != nil {
		return toJobflowError(err)
	}

	seen := make(map[string]struct{}, len(doc.Jobs)+len(doc.Flows))
	for _, j := range doc.Jobs {
		if _, exists := seen["job:"+j.Name]; exists {
			return schema.NewErrorf(schema.ErrCodeConflict, "duplicate job name %q", j.Name)
		}
		seen["job:"+j.Name] = struct{}{}
	}
	for _, f := range doc.Flows {
		if _, exists := seen["flow:"+f.Name]; exists {
			return schema.NewErrorf(schema.ErrCodeConflict, "duplicate flow name %q", f.Name)
		}
		seen["flow:"+f.Name] = struct{}{}
	}

	return nil
}

// ValidateParams validates launch parameters against a job's parameter
// schema. Parameters are strings; the schema sees them as an object of
// strings.
func (v *JSONSchemaValidator) ValidateParams(schemaJSON []byte, params map[string]string) error {
	input := make(map[string]any, len(params))
	for k, val := range params {
		input[k] = val
	}
	return v.ValidateInput(input, schemaJSON)
}

// CheckSchema reports whether schemaJSON is a compilable JSON Schema.
func (v *JSONSchemaValidator) CheckSchema(schemaJSON []byte) error {
	if _, err := v.getOrCompile(schemaJSON); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid parameter schema").WithCause(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toJobflowError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("jobflow://param-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler configured for input/output validation.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toJobflowError converts a jsonschema.ValidationError into a JobflowError
// listing every violation with its instance location.
func toJobflowError(err error) *schema.JobflowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
