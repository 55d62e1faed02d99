package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/jobflow/pkg/schema"
)

// stubAction is a minimal Action for registry tests.
type stubAction struct {
	name string
	desc string
}

func (s *stubAction) Name() string { return s.name }
func (s *stubAction) Schema() ActionSchema {
	return ActionSchema{Description: s.desc}
}
func (s *stubAction) Execute(_ context.Context, _ ActionInput) (*ActionOutput, error) {
	return &ActionOutput{Data: map[string]any{"ok": true}}, nil
}
func (s *stubAction) Validate(_ map[string]any) error { return nil }

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var jfErr *schema.JobflowError
	require.True(t, errors.As(err, &jfErr), "expected JobflowError, got %v", err)
	return jfErr.Code
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "invoice", desc: "Issue an invoice"}))
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("invoice"))
	assert.False(t, reg.Has("refund"))
}

func TestRegistry_Register_Rejects(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "dup"}))

	tests := []struct {
		name   string
		action Action
		code   string
	}{
		{"duplicate", &stubAction{name: "dup"}, schema.ErrCodeConflict},
		{"nil", nil, schema.ErrCodeValidation},
		{"empty name", &stubAction{name: ""}, schema.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.action)
			require.Error(t, err)
			assert.Equal(t, tt.code, codeOf(t, err))
		})
	}
}

func TestRegistry_Register_BatchIsAtomic(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubAction{name: "a"}, &stubAction{name: "b"}, &stubAction{name: "a"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, codeOf(t, err))
	assert.Zero(t, reg.Count())

	require.NoError(t, reg.Register(&stubAction{name: "a"}, &stubAction{name: "b"}))
	assert.Equal(t, 2, reg.Count())
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "package"}))

	got, err := reg.Get("package")
	require.NoError(t, err)
	assert.Equal(t, "package", got.Name())

	_, err = reg.Get("missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, codeOf(t, err))
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "z.action", desc: "last"}))
	require.NoError(t, reg.Register(&stubAction{name: "a.action", desc: "first"}))
	require.NoError(t, reg.Register(&stubAction{name: "m.action", desc: "middle"}))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "a.action", infos[0].Name)
	assert.Equal(t, "first", infos[0].Description)
	assert.Equal(t, "m.action", infos[1].Name)
	assert.Equal(t, "z.action", infos[2].Name)

	assert.Empty(t, NewRegistry().List())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 3)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			name := "concurrent." + string(rune('a'+i%26)) + string(rune('0'+i/26))
			_ = reg.Register(&stubAction{name: name})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = reg.Get("concurrent.a0")
		}()
		go func() {
			defer wg.Done()
			_ = reg.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, n, reg.Count())
}
