package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMermaidLinear(t *testing.T) {
	model, err := Build(linearJob(t), nil)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, "graph TD")
	assert.Contains(t, output, "%% billingJob")
	assert.Contains(t, output, `invoiceStep["invoiceStep"]`)
	assert.Contains(t, output, `__start__(("Start"))`)
	assert.Contains(t, output, `__stop__((("Stop")))`)
	assert.Contains(t, output, `archiveStep -->|"*"| __stop__`)
	assert.Contains(t, output, "classDef completed")
	assert.NotContains(t, output, "class invoiceStep")
}

func TestRenderMermaidSplit(t *testing.T) {
	model, err := Build(deliveryJob(t), nil)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, `deliverAndBill[["deliverAndBill"]]`)
	assert.Contains(t, output, `subgraph deliverAndBill_deliveryFlow["deliverAndBill: deliveryFlow"]`)
	assert.Contains(t, output, `deliverAndBill__deliveryFlow__deliveryDecider{"deliveryDecider"}`)
	assert.Contains(t, output,
		`deliverAndBill__deliveryFlow__deliveryDecider -->|"NOT PRESENT"| deliverAndBill__deliveryFlow__leavePackageStep`)
}

func TestRenderMermaidStatusClasses(t *testing.T) {
	model := &DiagramModel{
		Nodes: []*Node{
			{ID: "a", Label: "a", Kind: NodeKindStep, Status: &StatusOverlay{State: "COMPLETED", Status: "COMPLETED"}},
			{ID: "b", Label: "b", Kind: NodeKindStep, Status: &StatusOverlay{State: "COMPLETED", Status: "FAILED"}},
			{ID: "c", Label: "c", Kind: NodeKindStep, Status: &StatusOverlay{State: "STARTED"}},
			{ID: "d", Label: "d", Kind: NodeKindStep, Status: &StatusOverlay{State: "COMPLETED", Status: "STOPPED"}},
			{ID: "e", Label: "e", Kind: NodeKindDecider, Status: &StatusOverlay{State: "REPLAYED", Status: "PRESENT"}},
		},
	}

	output := RenderMermaid(model)
	assert.Contains(t, output, "class a completed")
	assert.Contains(t, output, "class b failed")
	assert.Contains(t, output, "class c running")
	assert.Contains(t, output, "class d stopped")
	assert.Contains(t, output, "class e replayed")
	assert.Contains(t, output, `e{"e [PRESENT]"}`)
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "split__flow__step_1", mermaidSafeID("split/flow/step-1"))
}
