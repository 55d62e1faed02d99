package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/jobflow/pkg/schema"
)

var noop = ActionFunc(func(context.Context, ExecutionContext, Handle) error { return nil })

func fixed(status schema.ExitStatus) Decision {
	return DecisionFunc(func(context.Context, ExecutionContext) (schema.ExitStatus, error) {
		return status, nil
	})
}

func TestCompile_Linear(t *testing.T) {
	f, err := NewFlow("billingJob").
		Start(NewStep("invoiceStep", noop)).
		Add(NewStep("archiveStep", noop)).
		Next("invoiceStep", "archiveStep").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "billingJob", f.Name())
	assert.Equal(t, "invoiceStep", f.Start().Name())
	assert.Len(t, f.Nodes(), 2)
	assert.Empty(t, f.Warnings())

	res := f.Resolve("invoiceStep", schema.StatusCompleted)
	assert.True(t, res.Matched)
	assert.Equal(t, ToNode("archiveStep"), res.Target)

	res = f.Resolve("archiveStep", schema.StatusCompleted)
	assert.False(t, res.HasRules)
}

func TestCompile_LiteralBeatsWildcardRegardlessOfOrder(t *testing.T) {
	build := func(wildcardFirst bool) *Flow {
		b := NewFlow("delivery").
			Start(NewStep("drive", noop)).
			Add(NewStep("decide", noop), NewStep("cleanup", noop))
		if wildcardFirst {
			b.On("drive", "*").To("decide").On("drive", "FAILED").To("cleanup")
		} else {
			b.On("drive", "FAILED").To("cleanup").On("drive", "*").To("decide")
		}
		f, err := b.Build()
		require.NoError(t, err)
		return f
	}

	for _, wildcardFirst := range []bool{true, false} {
		f := build(wildcardFirst)
		assert.Equal(t, "cleanup", f.Resolve("drive", schema.StatusFailed).Target.Node)
		assert.Equal(t, "decide", f.Resolve("drive", schema.StatusCompleted).Target.Node)
		assert.Equal(t, "decide", f.Resolve("drive", "ANYTHING").Target.Node)
	}
}

func TestCompile_UnmatchedStatusWithRules(t *testing.T) {
	f, err := NewFlow("flowers").
		Start(NewStep("select", noop)).
		Add(NewStep("trim", noop)).
		On("select", "TRIM_REQUIRED").To("trim").
		Build()
	require.NoError(t, err)

	res := f.Resolve("select", "NO_TRIM_REQUIRED")
	assert.True(t, res.HasRules)
	assert.False(t, res.Matched)
}

func TestCompile_AmbiguousLiteral(t *testing.T) {
	_, err := NewFlow("delivery").
		Start(NewDecider("decider", fixed("PRESENT"))).
		Add(NewStep("give", noop), NewStep("leave", noop)).
		On("decider", "PRESENT").To("give").
		On("decider", "PRESENT").To("leave").
		Build()
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAmbiguousTransition))
}

func TestCompile_AmbiguousWildcard(t *testing.T) {
	_, err := NewFlow("f").
		Start(NewStep("a", noop)).
		On("a", "*").End().
		On("a", "*").Fail().
		Build()
	assert.True(t, schema.IsCode(err, schema.ErrCodeAmbiguousTransition))
}

func TestCompile_CycleDetected(t *testing.T) {
	_, err := NewFlow("loop").
		Start(NewStep("a", noop)).
		Add(NewStep("b", noop), NewStep("c", noop)).
		Next("a", "b").
		Next("b", "c").
		On("c", "RETRY").To("a").
		Build()
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
	assert.Contains(t, err.Error(), "loop")
}

func TestCompile_SelfLoop(t *testing.T) {
	_, err := NewFlow("self").
		Start(NewStep("a", noop)).
		On("a", "AGAIN").To("a").
		Build()
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}

func TestCompile_Diamond(t *testing.T) {
	f, err := NewFlow("flowers").
		Start(NewStep("select", noop)).
		Add(NewStep("trim", noop), NewStep("arrange", noop)).
		On("select", "TRIM_REQUIRED").To("trim").
		On("select", "NO_TRIM_REQUIRED").To("arrange").
		Next("trim", "arrange").
		Build()
	require.NoError(t, err)
	assert.Len(t, f.Rules(), 3)
}

func TestCompile_StructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder *FlowBuilder
		code    string
		message string
	}{
		{
			name:    "empty name",
			builder: NewFlow("").Start(NewStep("a", noop)),
			code:    schema.ErrCodeValidation,
			message: "flow name is empty",
		},
		{
			name:    "no start",
			builder: NewFlow("f").Add(NewStep("a", noop)),
			code:    schema.ErrCodeValidation,
			message: "no start node",
		},
		{
			name:    "unknown start",
			builder: NewFlow("f").Add(NewStep("a", noop)).StartAt("missing"),
			code:    schema.ErrCodeValidation,
			message: "not declared",
		},
		{
			name:    "duplicate node",
			builder: NewFlow("f").Start(NewStep("a", noop)).Add(NewStep("a", noop)),
			code:    schema.ErrCodeConflict,
			message: "duplicate node",
		},
		{
			name:    "rule to unknown node",
			builder: NewFlow("f").Start(NewStep("a", noop)).Next("a", "ghost"),
			code:    schema.ErrCodeValidation,
			message: "undeclared node \"ghost\"",
		},
		{
			name:    "rule from unknown node",
			builder: NewFlow("f").Start(NewStep("a", noop)).Next("ghost", "a"),
			code:    schema.ErrCodeValidation,
			message: "starts at undeclared node",
		},
		{
			name:    "step without action",
			builder: NewFlow("f").Start(NewStep("a", nil)),
			code:    schema.ErrCodeValidation,
			message: "no action",
		},
		{
			name:    "empty split",
			builder: NewFlow("f").Start(NewSplit("s")),
			code:    schema.ErrCodeValidation,
			message: "split has no flows",
		},
		{
			name:    "empty pattern",
			builder: NewFlow("f").Start(NewStep("a", noop)).On("a", "").End(),
			code:    schema.ErrCodeValidation,
			message: "empty status pattern",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.builder.Build()
			require.Error(t, err)
			jfErr, ok := schema.AsJobflowError(err)
			require.True(t, ok)
			assert.Equal(t, tc.code, jfErr.Code)
			assert.Contains(t, jfErr.Message, tc.message)
		})
	}
}

func TestCompile_UnreachableIsWarning(t *testing.T) {
	f, err := NewFlow("f").
		Start(NewStep("a", noop)).
		Add(NewStep("orphan", noop)).
		Build()
	require.NoError(t, err)
	require.Len(t, f.Warnings(), 1)
	assert.Contains(t, f.Warnings()[0].Message, "orphan")
}

func TestCompile_CompositeNodes(t *testing.T) {
	billing, err := NewFlow("billingFlow").Start(NewStep("invoiceStep", noop)).Build()
	require.NoError(t, err)
	delivery, err := NewFlow("deliveryFlow").Start(NewStep("driveStep", noop)).Build()
	require.NoError(t, err)
	billingJob := NewJob(billing, WithDescription("bills"), NotRestartable())

	f, err := NewFlow("deliverPackageJob").
		Start(NewStep("packageItemStep", noop)).
		Add(NewSplit("split", delivery, billing)).
		Add(NewNestedJob("nestedBilling", billingJob)).
		Add(NewFlowNode("again", delivery)).
		Next("packageItemStep", "split").
		Next("split", "nestedBilling").
		Next("nestedBilling", "again").
		Build()
	require.NoError(t, err)

	n, ok := f.Node("split")
	require.True(t, ok)
	assert.Equal(t, KindSplit, n.Kind())
	assert.Len(t, n.(*Split).Flows(), 2)

	n, _ = f.Node("nestedBilling")
	assert.Equal(t, KindJob, n.Kind())
	assert.False(t, n.(*NestedJob).Job().Restartable())
	assert.Equal(t, "bills", n.(*NestedJob).Job().Description())

	n, _ = f.Node("again")
	assert.Equal(t, KindFlow, n.Kind())
}

func TestCompile_SplitRejectsDuplicateFlow(t *testing.T) {
	sub, err := NewFlow("sub").Start(NewStep("a", noop)).Build()
	require.NoError(t, err)

	_, err = NewFlow("f").Start(NewSplit("s", sub, sub)).Build()
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestTargetTerminal(t *testing.T) {
	s, ok := End().Terminal()
	assert.True(t, ok)
	assert.Equal(t, schema.StatusCompleted, s)

	s, _ = Fail().Terminal()
	assert.Equal(t, schema.StatusFailed, s)

	s, _ = Stop().Terminal()
	assert.Equal(t, schema.StatusStopped, s)

	_, ok = ToNode("x").Terminal()
	assert.False(t, ok)
	assert.Equal(t, "x", ToNode("x").String())
	assert.Equal(t, "end", End().String())
}
