package diagram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCIILinear(t *testing.T) {
	model, err := Build(linearJob(t), nil)
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.Contains(t, output, "=== billingJob ===")
	assert.Contains(t, output, "┌") // ┌
	assert.Contains(t, output, "┘") // ┘
	assert.Contains(t, output, "Start")
	assert.Contains(t, output, "invoiceStep")
	assert.Contains(t, output, "archiveStep")
	assert.Contains(t, output, "Stop")
	assert.Contains(t, output, "Start ─→ invoiceStep\n")
	assert.Contains(t, output, "archiveStep ─→ Stop [*]")
}

func TestRenderASCIIBoxesAligned(t *testing.T) {
	model := &DiagramModel{
		Nodes: []*Node{
			{ID: "a", Label: "short", Kind: NodeKindStep, Status: &StatusOverlay{State: "COMPLETED", DurationMs: 5}},
			{ID: "b", Label: "a-much-longer-name", Kind: NodeKindStep},
		},
		Levels: [][]string{{"a", "b"}},
	}

	lines := strings.Split(strings.TrimRight(RenderASCII(model), "\n"), "\n")
	require.Len(t, lines, 5)
	for _, l := range lines {
		assert.Equal(t, utf8.RuneCountInString(lines[0]), utf8.RuneCountInString(l), l)
	}
}

func TestRenderASCIIWithStatus(t *testing.T) {
	model := &DiagramModel{
		Title: "Test",
		Nodes: []*Node{
			{ID: "s", Label: "Start", Kind: NodeKindStart},
			{ID: "a", Label: "step-a", Kind: NodeKindStep, Status: &StatusOverlay{State: "COMPLETED", Status: "COMPLETED", DurationMs: 100}},
			{ID: "b", Label: "step-b", Kind: NodeKindStep, Status: &StatusOverlay{State: "FAILED", Status: "FAILED"}},
			{ID: "c", Label: "step-c", Kind: NodeKindStep, Status: &StatusOverlay{State: "STARTED"}},
			{ID: "d", Label: "step-d", Kind: NodeKindDecider, Status: &StatusOverlay{State: "COMPLETED", Status: "NOT PRESENT"}},
			{ID: "e", Label: "step-e", Kind: NodeKindStep, Status: &StatusOverlay{State: "REPLAYED", Status: "COMPLETED"}},
			{ID: "f", Label: "step-f", Kind: NodeKindStep, Status: &StatusOverlay{State: "COMPLETED", Status: "STOPPED"}},
			{ID: EndID, Label: "End", Kind: NodeKindEnd},
		},
		Levels: [][]string{{"s"}, {"a", "b", "c"}, {"d", "e", "f"}, {EndID}},
	}

	output := RenderASCII(model)
	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "[FAIL]")
	assert.Contains(t, output, "[RUN]")
	assert.Contains(t, output, "[NOT PRESENT]")
	assert.Contains(t, output, "[REPLAY]")
	assert.Contains(t, output, "[STOP]")
	assert.Contains(t, output, "100ms")
}

func TestRenderASCIIWithSubgraphs(t *testing.T) {
	model, err := Build(deliveryJob(t), nil)
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.Contains(t, output, "--- deliverAndBill ---")
	assert.Contains(t, output, "  [deliveryFlow]")
	assert.Contains(t, output, "deliveryDecider ─→ leavePackageStep [NOT PRESENT]")
}
