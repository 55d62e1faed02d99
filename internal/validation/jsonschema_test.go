package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/jobflow/pkg/schema"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestValidateDocument_Valid(t *testing.T) {
	assert.NoError(t, newJSV(t).ValidateDocument(deliveryDoc()))
}

func TestValidateDocument_Nil(t *testing.T) {
	err := newJSV(t).ValidateDocument(nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestValidateDocument_StructuralErrors(t *testing.T) {
	tests := map[string]func(d *schema.Document){
		"empty document": func(d *schema.Document) { *d = schema.Document{} },
		"job without nodes": func(d *schema.Document) {
			d.Jobs[0].Nodes = nil
		},
		"job without start": func(d *schema.Document) {
			d.Jobs[0].Start = ""
		},
		"unknown node type": func(d *schema.Document) {
			d.Jobs[0].Nodes[0].Type = "loop"
		},
		"transition without on": func(d *schema.Document) {
			d.Jobs[0].Nodes[0].Transitions[0].On = ""
		},
		"unknown engine": func(d *schema.Document) {
			d.Jobs[0].Nodes[0].ExitStatus = &schema.ExpressionDefinition{Engine: "lua", Expression: "x"}
		},
		"empty expression": func(d *schema.Document) {
			d.Jobs[0].Nodes[0].ExitStatus = &schema.ExpressionDefinition{Engine: "cel"}
		},
	}
	v := newJSV(t)
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			doc := deliveryDoc()
			mutate(doc)
			err := v.ValidateDocument(doc)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), err.Error())
		})
	}
}

func TestValidateDocument_DuplicateNames(t *testing.T) {
	v := newJSV(t)

	doc := deliveryDoc()
	doc.Jobs = append(doc.Jobs, doc.Jobs[0])
	assert.True(t, schema.IsCode(v.ValidateDocument(doc), schema.ErrCodeConflict))

	doc = deliveryDoc()
	doc.Flows = append(doc.Flows, doc.Flows[1])
	assert.True(t, schema.IsCode(v.ValidateDocument(doc), schema.ErrCodeConflict))

	// A job and a flow may share a name.
	doc = deliveryDoc()
	doc.Flows[1].Name = "deliverPackageJob"
	doc.Jobs[0].Nodes[1].Flows = []string{"deliveryFlow", "deliverPackageJob"}
	assert.NoError(t, v.ValidateDocument(doc))
}

func TestValidateDocument_ErrorDetails(t *testing.T) {
	doc := deliveryDoc()
	doc.Jobs[0].Nodes[0].Type = "loop"
	doc.Jobs[0].Start = ""

	err := newJSV(t).ValidateDocument(doc)
	jfErr, ok := schema.AsJobflowError(err)
	require.True(t, ok)
	violations, ok := jfErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
}

func TestValidateParams(t *testing.T) {
	v := newJSV(t)
	paramSchema := []byte(`{
		"type": "object",
		"required": ["item"],
		"properties": {
			"item": {"type": "string", "minLength": 1},
			"run.date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"}
		}
	}`)

	assert.NoError(t, v.ValidateParams(paramSchema, map[string]string{"item": "flowers", "run.date": "2024-01-02"}))
	assert.NoError(t, v.ValidateParams(nil, nil))

	err := v.ValidateParams(paramSchema, map[string]string{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = v.ValidateParams(paramSchema, map[string]string{"item": "flowers", "run.date": "yesterday"})
	require.Error(t, err)
	jfErr, _ := schema.AsJobflowError(err)
	assert.Contains(t, jfErr.Message, "/run.date")
}

func TestValidateInput(t *testing.T) {
	v := newJSV(t)

	err := v.ValidateInput(nil, []byte(`{}`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	assert.NoError(t, v.ValidateInput(map[string]any{"a": 1}, nil))

	err = v.ValidateInput(map[string]any{"count": "three"},
		[]byte(`{"type":"object","properties":{"count":{"type":"integer","minimum":1}}}`))
	assert.Error(t, err)

	err = v.ValidateInput(map[string]any{"a": 1}, []byte(`{"type": 12}`))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestValidateInput_MultipleErrors(t *testing.T) {
	v := newJSV(t)
	err := v.ValidateInput(map[string]any{"a": 1, "b": 2},
		[]byte(`{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"string"}}}`))
	require.Error(t, err)
	jfErr, _ := schema.AsJobflowError(err)
	assert.Contains(t, jfErr.Message, "2 errors")
}

func TestCheckSchema(t *testing.T) {
	v := newJSV(t)
	assert.NoError(t, v.CheckSchema([]byte(`{"type":"object"}`)))
	assert.Error(t, v.CheckSchema([]byte(`{"type":"objekt"}`)))
	assert.Error(t, v.CheckSchema([]byte(`not json`)))
}

func TestValidateParams_Concurrent(t *testing.T) {
	v := newJSV(t)
	paramSchema := []byte(`{"type":"object","required":["item"]}`)

	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = v.ValidateParams(paramSchema, map[string]string{"item": "x"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}
