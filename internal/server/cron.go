package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billfold/billfold/internal/scheduler"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
)

type taskResultPayload struct {
	Task    string   `json:"task"`
	Claimed bool     `json:"claimed"`
	Error   string   `json:"error,omitempty"`
	Lines   []string `json:"lines,omitempty"`
}

func renderResults(results []scheduler.TaskResult) []taskResultPayload {
	out := make([]taskResultPayload, 0, len(results))
	for _, res := range results {
		payload := taskResultPayload{
			Task:    res.Task,
			Claimed: res.Claimed,
			Lines:   res.Lines,
		}
		if res.Err != nil {
			payload.Error = res.Err.Error()
		}
		out = append(out, payload)
	}
	return out
}

// handleRunAll triggers one full pass, mirroring the cron entry point.
// Per-task failures are reported in the body, never as an HTTP error; the
// caller invoked the pipeline successfully either way.
func (s *Server) handleRunAll(c *gin.Context) {
	err := s.scheduler.RunOnce(c.Request.Context())
	resp := gin.H{"status": "completed"}
	if err != nil {
		resp["status"] = "completed_with_errors"
		resp["error"] = err.Error()
		s.log.Warn("cron pass finished with errors", zap.Error(err))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRunTenant(c *gin.Context) {
	org, err := s.tenantSvc.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, tenantdomain.ErrOrganizationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results, runErr := s.scheduler.RunPipeline(c.Request.Context(), org)
	resp := gin.H{
		"status":  "completed",
		"results": renderResults(results),
	}
	if runErr != nil {
		resp["status"] = "completed_with_errors"
		resp["error"] = runErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRunTask(c *gin.Context) {
	results, err := s.scheduler.RunTask(c.Request.Context(), c.Param("key"))
	if errors.Is(err, scheduler.ErrUnknownTask) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"status":  "completed",
		"results": renderResults(results),
	}
	if err != nil {
		resp["status"] = "completed_with_errors"
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
