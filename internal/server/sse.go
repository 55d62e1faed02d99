package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rendis/jobflow/internal/logging"
	"github.com/rendis/jobflow/internal/streaming"
	"github.com/rendis/jobflow/pkg/schema"
)

// followEvents replays stored events after since, then streams live ones
// from the hub until the execution ends or the client goes away.
func (s *Server) followEvents(c *gin.Context, executionID string, since int64) {
	if s.deps.Hub == nil {
		writeError(c, schema.NewError(schema.ErrCodeValidation, "live event streaming is not enabled"))
		return
	}
	ctx := c.Request.Context()
	w := c.Writer

	// Subscribe before reading the backlog so nothing falls in between.
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, streaming.EventFilter{ExecutionID: executionID})
	if err != nil {
		writeError(c, err)
		return
	}
	defer cancel()

	backlog, err := s.deps.Store.GetEvents(ctx, executionID, since)
	if err != nil {
		writeError(c, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := since
	for _, ev := range backlog {
		writeSSE(w, ev.Type, ev)
		last = max(last, ev.Sequence)
		if streaming.IsTerminal(ev.Type) {
			w.Flush()
			return
		}
	}
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Sequence > 0 && ev.Sequence <= last {
				continue
			}
			last = max(last, ev.Sequence)
			if err := writeSSE(w, ev.EventType, ev); err != nil {
				logging.LogWith(ctx, s.deps.Logger).WarnContext(ctx, "sse write failed", logging.Err(err))
				return
			}
			w.Flush()
			if streaming.IsTerminal(ev.EventType) {
				return
			}
		}
	}
}

func writeSSE(w gin.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
