package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rendis/jobflow/internal/diagram"
	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

func summarize(j *job.Job) JobSummary {
	nodes := j.Flow().Nodes()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name())
	}
	return JobSummary{
		Name:        j.Name(),
		Description: j.Description(),
		Restartable: j.Restartable(),
		Start:       j.Flow().Start().Name(),
		Nodes:       names,
		HasSchema:   len(j.ParameterSchema()) > 0,
	}
}

func (s *Server) listJobs(c *gin.Context) {
	jobs := s.deps.Launcher.Jobs()
	out := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, summarize(j))
	}
	c.JSON(http.StatusOK, JobsListResponse{Jobs: out, Count: len(out)})
}

func (s *Server) lookupJob(c *gin.Context) (*job.Job, bool) {
	name := c.Param("name")
	j, ok := s.deps.Launcher.Job(name)
	if !ok {
		writeError(c, schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", name))
		return nil, false
	}
	return j, true
}

func (s *Server) getJob(c *gin.Context) {
	j, ok := s.lookupJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarize(j))
}

func (s *Server) launchJob(c *gin.Context) {
	name := c.Param("name")
	var req LaunchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON: "+err.Error())
			return
		}
	}
	ctx := c.Request.Context()

	if req.Async {
		id, err := s.deps.Launcher.LaunchAsync(ctx, name, req.Parameters)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, LaunchedResponse{ExecutionID: id, Job: name})
		return
	}

	// A run outlives its request; a dropped client must not abort it.
	rec, err := s.deps.Launcher.Launch(context.WithoutCancel(ctx), name, req.Parameters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) restartJob(c *gin.Context) {
	name := c.Param("name")
	var req RestartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON: "+err.Error())
			return
		}
	}
	ctx := c.Request.Context()

	if req.Async {
		id, err := s.deps.Launcher.RestartAsync(ctx, name)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, LaunchedResponse{ExecutionID: id, Job: name})
		return
	}

	rec, err := s.deps.Launcher.Restart(context.WithoutCancel(ctx), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) jobDiagram(c *gin.Context) {
	j, ok := s.lookupJob(c)
	if !ok {
		return
	}
	s.renderDiagram(c, j, nil)
}

func (s *Server) executionDiagram(c *gin.Context) {
	rec, err := s.deps.Store.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	j, ok := s.deps.Launcher.Job(rec.JobName)
	if !ok {
		writeError(c, schema.NewErrorf(schema.ErrCodeNotFound, "job %q of execution %s is no longer registered", rec.JobName, rec.ID))
		return
	}
	s.renderDiagram(c, j, rec)
}

// renderDiagram writes j in the format named by the "format" query param:
// mermaid (default), ascii, png or svg.
func (s *Server) renderDiagram(c *gin.Context, j *job.Job, rec *store.ExecutionRecord) {
	model, err := diagram.Build(j, rec)
	if err != nil {
		writeError(c, err)
		return
	}

	switch format := c.DefaultQuery("format", "mermaid"); format {
	case "mermaid":
		c.String(http.StatusOK, diagram.RenderMermaid(model))
	case "ascii":
		c.String(http.StatusOK, diagram.RenderASCII(model))
	case string(diagram.ImagePNG), string(diagram.ImageSVG):
		img, err := diagram.RenderImage(c.Request.Context(), model, diagram.ImageFormat(format))
		if err != nil {
			writeError(c, err)
			return
		}
		contentType := "image/png"
		if format == string(diagram.ImageSVG) {
			contentType = "image/svg+xml"
		}
		c.Data(http.StatusOK, contentType, img)
	default:
		badRequest(c, "unsupported diagram format "+format)
	}
}
