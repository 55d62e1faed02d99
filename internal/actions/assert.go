package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/rendis/jobflow/pkg/schema"
)

// AssertActions returns the check actions. A failed check does not fault the
// step: it finishes with status FAILED (or the "on_mismatch" status) so the
// flow can route on it.
func AssertActions() []Action {
	return []Action{
		&assertEqualsAction{},
		&assertContainsAction{},
		&assertMatchesAction{},
	}
}

// normalizeJSON converts Go numeric types to float64 for consistent deep-equal comparison.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return v
	}
}

func requireKeys(action string, params map[string]any, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s requires '%s' parameter", action, k)
		}
	}
	return nil
}

func verdict(params map[string]any, pass bool, details map[string]any) *ActionOutput {
	data := map[string]any{"pass": pass}
	for k, v := range details {
		data[k] = v
	}
	out := &ActionOutput{Data: data}
	if !pass {
		out.Status = schema.StatusFailed
		if s, ok := params["on_mismatch"].(string); ok && s != "" {
			out.Status = schema.ExitStatus(s)
		}
		msg := "assertion failed"
		if m, ok := params["message"].(string); ok && m != "" {
			msg = m
		}
		data["message"] = msg
	}
	return out
}

// --- assert.equals ---

type assertEqualsAction struct{}

func (a *assertEqualsAction) Name() string { return "assert.equals" }

func (a *assertEqualsAction) Schema() ActionSchema {
	return ActionSchema{Description: "Check that two values are deeply equal"}
}

func (a *assertEqualsAction) Validate(params map[string]any) error {
	return requireKeys("assert.equals", params, "expected", "actual")
}

func (a *assertEqualsAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	pass := reflect.DeepEqual(normalizeJSON(input.Params["expected"]), normalizeJSON(input.Params["actual"]))
	return verdict(input.Params, pass, nil), nil
}

// --- assert.contains ---

type assertContainsAction struct{}

func (a *assertContainsAction) Name() string { return "assert.contains" }

func (a *assertContainsAction) Schema() ActionSchema {
	return ActionSchema{Description: "Check that a string or array contains a value"}
}

func (a *assertContainsAction) Validate(params map[string]any) error {
	return requireKeys("assert.contains", params, "haystack", "needle")
}

func (a *assertContainsAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	needle := input.Params["needle"]

	switch hs := input.Params["haystack"].(type) {
	case string:
		return verdict(input.Params, strings.Contains(hs, fmt.Sprintf("%v", needle)), nil), nil
	case []any:
		normalizedNeedle := normalizeJSON(needle)
		for _, item := range hs {
			if reflect.DeepEqual(normalizeJSON(item), normalizedNeedle) {
				return verdict(input.Params, true, nil), nil
			}
		}
		return verdict(input.Params, false, nil), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"assert.contains: haystack must be string or array, got %T", hs)
	}
}

// --- assert.matches ---

type assertMatchesAction struct{}

func (a *assertMatchesAction) Name() string { return "assert.matches" }

func (a *assertMatchesAction) Schema() ActionSchema {
	return ActionSchema{Description: "Check that a string matches a regular expression"}
}

func (a *assertMatchesAction) Validate(params map[string]any) error {
	if _, ok := params["value"].(string); !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.matches requires 'value' string parameter")
	}
	pattern, ok := params["pattern"].(string)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, "assert.matches requires 'pattern' string parameter")
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid regex pattern: %s", err)
	}
	return nil
}

func (a *assertMatchesAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	value, _ := input.Params["value"].(string)
	pattern, _ := input.Params["pattern"].(string)

	re := regexp.MustCompile(pattern)
	match := re.FindString(value)
	if !re.MatchString(value) {
		return verdict(input.Params, false, nil), nil
	}
	return verdict(input.Params, true, map[string]any{"matches": match}), nil
}
