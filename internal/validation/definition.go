package validation

import (
	"github.com/rendis/jobflow/pkg/schema"
)

// DefinitionValidator runs the three-stage validation pipeline over a
// definition document:
// 1. Structural (JSON Schema)
// 2. Semantic (node fields, references, transition tables, param refs)
// 3. DAG (recursion between jobs and flows)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
	lookups    Lookups
}

// NewDefinitionValidator creates a DefinitionValidator. Zero-value lookups
// skip the corresponding existence checks.
func NewDefinitionValidator(lookups Lookups) (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{
		jsonSchema: jsv,
		lookups:    lookups,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (dv *DefinitionValidator) Validate(doc *schema.Document) *schema.ValidationResult {
	if doc == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "definition document is nil")
		return r
	}

	result := validateStructural(dv.jsonSchema, doc)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(doc, dv.lookups, dv.jsonSchema))

	// Skip DAG on semantic errors: references may be dangling.
	if result.Valid() {
		result.Merge(validateDAG(doc))
	}

	return result
}

// ValidateDocument satisfies the Validator interface.
func (dv *DefinitionValidator) ValidateDocument(doc *schema.Document) error {
	return dv.Validate(doc).ToError()
}

// ValidateParams delegates to the underlying JSONSchemaValidator.
func (dv *DefinitionValidator) ValidateParams(schemaJSON []byte, params map[string]string) error {
	return dv.jsonSchema.ValidateParams(schemaJSON, params)
}

// Schemas returns the underlying JSON Schema validator.
func (dv *DefinitionValidator) Schemas() *JSONSchemaValidator {
	return dv.jsonSchema
}

// validateStructural wraps JSONSchemaValidator.ValidateDocument, converting
// its error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDocument(doc)
	if err == nil {
		return result
	}

	jfErr, ok := schema.AsJobflowError(err)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if jfErr.Details != nil {
		if violations, ok := jfErr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", jfErr.Code, v)
			}
			return result
		}
	}
	result.AddError("/", jfErr.Code, jfErr.Message)
	return result
}

var (
	_ Validator = (*DefinitionValidator)(nil)
	_ Validator = (*JSONSchemaValidator)(nil)
)
