package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/jobflow/internal/catalog"
	"github.com/rendis/jobflow/internal/engine"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/internal/streaming"
)

// ServerDeps holds the dependencies for creating a JobflowServer.
type ServerDeps struct {
	Launcher *engine.Launcher
	Catalog  *catalog.Catalog // optional; enables jobflow.define
	Store    store.Store
	Hub      streaming.EventHub // optional; enables completion notifications
	Logger   *slog.Logger
}

// JobflowServer wraps an MCP server with jobflow tool handlers.
type JobflowServer struct {
	launcher  *engine.Launcher
	catalog   *catalog.Catalog
	store     store.Store
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  ClientNotifier
	mcpServer *server.MCPServer
}

// NewJobflowServer creates a new JobflowServer with all tools registered.
func NewJobflowServer(deps ServerDeps) *JobflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &JobflowServer{
		launcher: deps.Launcher,
		catalog:  deps.Catalog,
		store:    deps.Store,
		hub:      deps.Hub,
		logger:   logger.With("component", "mcp"),
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"jobflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Jobflow runs batch jobs made of steps, deciders, splits and nested jobs. Use jobflow.launch to run a job, jobflow.restart to resume its last failed execution, jobflow.status to read an execution record, jobflow.query to list jobs/executions/events, jobflow.define to load new job definitions and jobflow.diagram to render a job graph."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *JobflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *JobflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// SetNotifier replaces the notifier used for async completion messages.
func (s *JobflowServer) SetNotifier(n ClientNotifier) {
	s.notifier = n
}

func (s *JobflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: launchTool(), Handler: s.handleLaunch},
		{Tool: restartTool(), Handler: s.handleRestart},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func launchTool() mcp.Tool {
	return mcp.NewTool("jobflow.launch",
		mcp.WithDescription("Launch a registered job"),
		mcp.WithString("job", mcp.Required(), mcp.Description("Name of the job to launch")),
		mcp.WithObject("params", mcp.Description("Job parameters (string values)")),
		mcp.WithBoolean("async", mcp.Description("Queue the launch and return the execution ID immediately")),
		mcp.WithString("client_id", mcp.Description("Caller ID; async completions are pushed to its session")),
	)
}

func restartTool() mcp.Tool {
	return mcp.NewTool("jobflow.restart",
		mcp.WithDescription("Restart the last incomplete execution of a job"),
		mcp.WithString("job", mcp.Required(), mcp.Description("Name of the job to restart")),
		mcp.WithBoolean("async", mcp.Description("Queue the restart and return the execution ID immediately")),
		mcp.WithString("client_id", mcp.Description("Caller ID; async completions are pushed to its session")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("jobflow.status",
		mcp.WithDescription("Get an execution record"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to read")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("jobflow.define",
		mcp.WithDescription("Load job and flow definitions"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("A definition document ({jobs, flows}) or a single job definition")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("jobflow.query",
		mcp.WithDescription("Query jobs, executions, events, or registered actions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("jobs", "executions", "events", "actions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (job, status, since, limit, offset, execution_id)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("jobflow.diagram",
		mcp.WithDescription("Generate a diagram of a job. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("job", mcp.Description("Job name")),
		mcp.WithString("execution_id", mcp.Description("Execution to overlay on its job graph")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
