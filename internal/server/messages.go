package server

import (
	"github.com/rendis/jobflow/internal/engine"
	"github.com/rendis/jobflow/internal/store"
)

type (
	// ErrorResponse is the body of every failed request.
	ErrorResponse struct {
		Error   string         `json:"error"`
		Code    string         `json:"code,omitempty"`
		Status  int            `json:"status,omitempty"`
		Details map[string]any `json:"details,omitempty"`
	}

	// HealthResponse reports liveness and the async launch pool.
	HealthResponse struct {
		Status string             `json:"status"`
		Jobs   int                `json:"jobs"`
		Pool   engine.PoolMetrics `json:"pool"`
	}

	// JobSummary describes a launchable job.
	JobSummary struct {
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		Restartable bool     `json:"restartable"`
		Start       string   `json:"start"`
		Nodes       []string `json:"nodes"`
		HasSchema   bool     `json:"has_parameter_schema"`
	}

	// JobsListResponse lists the registered jobs.
	JobsListResponse struct {
		Jobs  []JobSummary `json:"jobs"`
		Count int          `json:"count"`
	}

	// LaunchRequest starts a job. Async launches return immediately with the
	// execution ID.
	LaunchRequest struct {
		Parameters map[string]string `json:"parameters"`
		Async      bool              `json:"async"`
	}

	// RestartRequest restarts the newest incomplete execution of a job.
	RestartRequest struct {
		Async bool `json:"async"`
	}

	// LaunchedResponse is returned by async launches and restarts.
	LaunchedResponse struct {
		ExecutionID string `json:"execution_id"`
		Job         string `json:"job"`
	}

	// ExecutionsListResponse is a page of execution records.
	ExecutionsListResponse struct {
		Executions []*store.ExecutionRecord `json:"executions"`
		Count      int                      `json:"count"`
	}

	// EventsResponse lists stored events of an execution.
	EventsResponse struct {
		Events []*store.Event `json:"events"`
		Count  int            `json:"count"`
	}
)
