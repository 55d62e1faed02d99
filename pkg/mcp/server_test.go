package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobflowServer(t *testing.T) {
	s := NewJobflowServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"jobflow.launch", "Launch a registered job"},
		{"jobflow.restart", "Restart the last incomplete execution of a job"},
		{"jobflow.status", "Get an execution record"},
		{"jobflow.define", "Load job and flow definitions"},
		{"jobflow.query", "Query jobs, executions, or events"},
	}

	s := NewJobflowServer(ServerDeps{})
	require.Len(t, s.mcpServer.ListTools(), 6)

	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
	assert.NotNil(t, s.mcpServer.GetTool("jobflow.diagram"))
}
