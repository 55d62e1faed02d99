package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

const defaultPageSize = 50

func (s *Server) listExecutions(c *gin.Context) {
	filter := store.ExecutionFilter{
		JobName:  c.Query("job"),
		TopLevel: c.Query("top_level") == "true",
		Limit:    queryInt(c, "limit", defaultPageSize),
		Offset:   queryInt(c, "offset", 0),
	}
	if v := c.Query("status"); v != "" {
		st := schema.ExecutionStatus(strings.ToUpper(v))
		if !st.Valid() {
			badRequest(c, "unknown execution status "+v)
			return
		}
		filter.Status = &st
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "since must be RFC3339: "+err.Error())
			return
		}
		filter.Since = &t
	}

	recs, err := s.deps.Store.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []*store.ExecutionRecord{}
	}
	c.JSON(http.StatusOK, ExecutionsListResponse{Executions: recs, Count: len(recs)})
}

func (s *Server) getExecution(c *gin.Context) {
	rec, err := s.deps.Store.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// executionEvents lists the stored events of an execution after the "since"
// sequence. With follow=true the response becomes a Server-Sent Events
// stream that stays open until the execution ends.
func (s *Server) executionEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.deps.Store.GetExecution(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	since := int64(queryInt(c, "since", 0))

	if c.Query("follow") == "true" {
		s.followEvents(c, id, since)
		return
	}

	events, err := s.deps.Store.GetEvents(ctx, id, since)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	c.JSON(http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}
