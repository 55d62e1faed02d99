package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/jobflow/internal/catalog"
	"github.com/rendis/jobflow/internal/diagram"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/internal/streaming"
	"github.com/rendis/jobflow/pkg/schema"
)

// handleLaunch runs a job by name.
func (s *JobflowServer) handleLaunch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobName, err := req.RequireString("job")
	if err != nil {
		return mcp.NewToolResultError("job is required"), nil
	}
	params, err := stringParams(mcp.ParseStringMap(req, "params", nil))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	clientID := req.GetString("client_id", "")
	if clientID != "" {
		s.captureSession(ctx, clientID)
	}

	if req.GetBool("async", false) {
		return s.async(ctx, jobName, clientID, func() (string, error) {
			return s.launcher.LaunchAsync(ctx, jobName, params)
		})
	}

	rec, runErr := s.launcher.Launch(context.WithoutCancel(ctx), jobName, params)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("launch failed: %v", runErr)), nil
	}
	return marshalResult(rec)
}

// handleRestart resumes the newest incomplete execution of a job.
func (s *JobflowServer) handleRestart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobName, err := req.RequireString("job")
	if err != nil {
		return mcp.NewToolResultError("job is required"), nil
	}
	clientID := req.GetString("client_id", "")
	if clientID != "" {
		s.captureSession(ctx, clientID)
	}

	if req.GetBool("async", false) {
		return s.async(ctx, jobName, clientID, func() (string, error) {
			return s.launcher.RestartAsync(ctx, jobName)
		})
	}

	rec, runErr := s.launcher.Restart(context.WithoutCancel(ctx), jobName)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("restart failed: %v", runErr)), nil
	}
	return marshalResult(rec)
}

// async queues a launch and, when the caller identified itself, pushes the
// final status to its session once the execution ends.
func (s *JobflowServer) async(ctx context.Context, jobName, clientID string, queue func() (string, error)) (*mcp.CallToolResult, error) {
	var (
		events <-chan streaming.StreamEvent
		cancel func()
	)
	if clientID != "" && s.hub != nil {
		// Subscribe before queueing so a fast execution cannot finish unseen.
		ch, unsub, subErr := s.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: streaming.TerminalEvents})
		if subErr == nil {
			events, cancel = ch, unsub
		}
	}

	id, err := queue()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return mcp.NewToolResultError(fmt.Sprintf("launch failed: %v", err)), nil
	}
	if events != nil {
		go s.notifyOnEnd(context.WithoutCancel(ctx), clientID, id, jobName, events, cancel)
	}
	return marshalResult(map[string]any{
		"execution_id": id,
		"job":          jobName,
		"queued":       true,
	})
}

func (s *JobflowServer) notifyOnEnd(ctx context.Context, clientID, executionID, jobName string, events <-chan streaming.StreamEvent, cancel func()) {
	defer cancel()
	for ev := range events {
		if ev.ExecutionID != executionID {
			continue
		}
		payload := map[string]any{
			"execution_id": executionID,
			"job":          jobName,
			"event_type":   ev.EventType,
		}
		if rec, err := s.store.GetExecution(ctx, executionID); err == nil {
			payload["status"] = rec.Status
			payload["final_status"] = rec.FinalStatus
		}
		if err := s.notifier.Notify(ctx, clientID, payload); err != nil {
			s.logger.Warn("completion notification failed", "client_id", clientID, "execution_id", executionID, "error", err)
		}
		return
	}
}

// handleStatus returns an execution record.
func (s *JobflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	rec, getErr := s.store.GetExecution(ctx, executionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}
	return marshalResult(rec)
}

// handleDefine loads a definition document into the catalog and registers
// its jobs with the launcher.
func (s *JobflowServer) handleDefine(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.catalog == nil {
		return mcp.NewToolResultError("definitions cannot be loaded: no catalog configured"), nil
	}
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	data, err := json.Marshal(defRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	jobs, err := s.catalog.LoadBytes(data, catalog.FormatJSON)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition rejected: %v", err)), nil
	}
	if err := s.launcher.Register(jobs...); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("register failed: %v", err)), nil
	}

	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	s.logger.Info("jobs defined", "jobs", names)
	return marshalResult(map[string]any{"jobs": names})
}

// handleQuery lists jobs, executions, or events based on filters.
func (s *JobflowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "jobs":
		return s.queryJobs()
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "actions":
		if s.catalog == nil {
			return mcp.NewToolResultError("action listing is not available"), nil
		}
		return marshalResult(map[string]any{"actions": s.catalog.Actions()})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

type jobInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Start       string   `json:"start"`
	Nodes       []string `json:"nodes"`
	Restartable bool     `json:"restartable"`
}

func (s *JobflowServer) queryJobs() (*mcp.CallToolResult, error) {
	jobs := s.launcher.Jobs()
	out := make([]jobInfo, 0, len(jobs))
	for _, j := range jobs {
		nodes := j.Flow().Nodes()
		names := make([]string, 0, len(nodes))
		for _, n := range nodes {
			names = append(names, n.Name())
		}
		out = append(out, jobInfo{
			Name:        j.Name(),
			Description: j.Description(),
			Start:       j.Flow().Start().Name(),
			Nodes:       names,
			Restartable: j.Restartable(),
		})
	}
	return marshalResult(map[string]any{"jobs": out})
}

func (s *JobflowServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if name, ok := filter["job"].(string); ok {
		ef.JobName = name
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		if !es.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown execution status: %s", status)), nil
		}
		ef.Status = &es
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}
	if top, ok := filter["top_level"].(bool); ok {
		ef.TopLevel = top
	}

	recs, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": recs})
}

func (s *JobflowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	executionID, _ := filter["execution_id"].(string)
	if executionID == "" {
		return mcp.NewToolResultError("event query requires 'execution_id' in filter"), nil
	}
	since := int64(extractInt(filter, "since_sequence", 0))

	events, err := s.store.GetEvents(ctx, executionID, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if eventType, ok := filter["event_type"].(string); ok && eventType != "" {
		kept := events[:0]
		for _, ev := range events {
			if ev.Type == eventType {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	return marshalResult(map[string]any{"events": events})
}

// handleDiagram renders a job graph, with the status of an execution when
// execution_id is given.
func (s *JobflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	jobName := req.GetString("job", "")
	executionID := req.GetString("execution_id", "")
	if jobName == "" && executionID == "" {
		return mcp.NewToolResultError("at least one of job or execution_id is required"), nil
	}

	var rec *store.ExecutionRecord
	if executionID != "" {
		r, getErr := s.store.GetExecution(ctx, executionID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution not found: %v", getErr)), nil
		}
		rec = r
		jobName = r.JobName
	}

	j, ok := s.launcher.Job(jobName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job %q not found", jobName)), nil
	}

	model, buildErr := diagram.Build(j, rec)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model, diagram.ImagePNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// --- Internal helpers ---

// stringParams converts tool arguments to job parameters. Numbers and
// booleans are formatted; nested values are rejected.
func stringParams(raw map[string]any) (map[string]string, error) {
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			params[k] = val
		case float64:
			params[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			params[k] = strconv.FormatBool(val)
		case nil:
			params[k] = ""
		default:
			return nil, fmt.Errorf("parameter %q must be a scalar, got %T", k, v)
		}
	}
	return params, nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the client ID to its current MCP session for notifications.
func (s *JobflowServer) captureSession(ctx context.Context, clientID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(clientID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
