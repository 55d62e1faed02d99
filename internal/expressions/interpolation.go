package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/jobflow/pkg/schema"
)

// Namespaces are the roots a ${{ }} reference may start with.
var Namespaces = []string{"params", "outputs", "execution", "status"}

// Interpolator resolves ${{...}} references in step params.
type Interpolator struct{}

// NewInterpolator creates an Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve returns a copy of params with every string interpolated against
// scope. Nested maps and slices are walked.
func (interp *Interpolator) Resolve(params map[string]any, scope *Scope) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out, err := interp.resolveValue(params, scope)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (interp *Interpolator) resolveValue(v any, scope *Scope) (any, error) {
	switch val := v.(type) {
	case string:
		return interp.ResolveString(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := interp.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := interp.resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString interpolates s. A string that is exactly one reference
// resolves to the referenced value with its type; otherwise references are
// stringified into the surrounding text.
func (interp *Interpolator) ResolveString(s string, scope *Scope) (any, error) {
	if !HasInterpolation(s) {
		return s, nil
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "${{") == 1 {
		expr := strings.TrimSpace(trimmed[3 : len(trimmed)-2])
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}
		return interp.resolveExpr(expr, scope)
	}

	var result strings.Builder
	result.Grow(len(s))
	err := scanReferences(s, func(text, expr string) error {
		result.WriteString(text)
		if expr == "" {
			return nil
		}
		val, err := interp.resolveExpr(expr, scope)
		if err != nil {
			return err
		}
		result.WriteString(marshalInline(val))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.String(), nil
}

// scanReferences splits s into literal text and ${{ }} expressions, calling
// fn for each pair. The last call carries the trailing text and an empty expr.
func scanReferences(s string, fn func(text, expr string) error) error {
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${{")
		if idx == -1 {
			break
		}
		text := s[i : i+idx]
		start := i + idx + 3

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(s[start:end])
		if strings.Contains(expr, "${{") {
			return schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if expr == "" {
			return schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}
		if err := fn(text, expr); err != nil {
			return err
		}
		i = end + 2
	}
	return fn(s[min(i, len(s)):], "")
}

// CheckReferences reports malformed references or unknown namespaces in s
// without resolving anything.
func CheckReferences(s string) error {
	return scanReferences(s, func(_, expr string) error {
		if expr == "" {
			return nil
		}
		ns, _, _ := strings.Cut(expr, ".")
		for _, known := range Namespaces {
			if ns == known {
				return nil
			}
		}
		return unknownNamespace(ns, expr)
	})
}

// resolveExpr resolves a single reference like "outputs.invoice.number".
func (interp *Interpolator) resolveExpr(expr string, scope *Scope) (any, error) {
	namespace, rest, _ := strings.Cut(expr, ".")

	switch namespace {
	case "params":
		if rest == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"invalid parameter reference %q: expected params.<name>", expr).
				WithDetails(map[string]any{"expression": expr})
		}
		v, ok := scope.Params[rest]
		if !ok {
			available := make([]string, 0, len(scope.Params))
			for k := range scope.Params {
				available = append(available, k)
			}
			sort.Strings(available)
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"parameter %q not set in ${{%s}}; available: [%s]", rest, expr, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": expr, "available_params": available})
		}
		return v, nil
	case "outputs":
		return interp.resolveFromMap(scope.Outputs, rest, expr, "outputs")
	case "execution":
		return interp.resolveFromMap(scope.Execution, rest, expr, "execution")
	case "status":
		if rest != "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "status has no fields: %q", expr)
		}
		return string(scope.Status), nil
	default:
		return nil, unknownNamespace(namespace, expr)
	}
}

func unknownNamespace(namespace, expr string) *schema.JobflowError {
	return schema.NewErrorf(schema.ErrCodeInterpolation,
		"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(Namespaces, ", ")).
		WithDetails(map[string]any{"expression": expr, "available_namespaces": Namespaces})
}

// resolveFromMap resolves a dot-delimited field path from a map.
func (interp *Interpolator) resolveFromMap(data map[string]any, fieldPath, expr, namespace string) (any, error) {
	if fieldPath == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid reference %q: expected %s.<field>", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Try direct key lookup first (supports keys with dots).
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}
	return interp.traversePath(data, fieldPath, expr)
}

// traversePath navigates into nested maps using a dot-delimited path.
func (interp *Interpolator) traversePath(root any, path, expr string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// marshalInline renders a resolved value inside surrounding text. Strings are
// embedded as is; maps and slices are JSON-encoded.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool, float64, int, int64:
		return fmt.Sprintf("%v", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasInterpolation checks if s contains any ${{...}} reference.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}
