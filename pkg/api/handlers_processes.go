package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coordmutex/pkg/api/middleware"
	"coordmutex/pkg/mutex"
)

// ProcessResponse is the API representation of a process.
type ProcessResponse struct {
	ID          mutex.ID `json:"id"`
	Coordinator bool     `json:"coordinator"`
	Alive       bool     `json:"alive"`
	Holding     bool     `json:"holding"`
	UsageActive bool     `json:"usage_active"`
}

func (s *Server) toResponse(p *mutex.Process) ProcessResponse {
	return ProcessResponse{
		ID:          p.ID(),
		Coordinator: p.IsCoordinator(),
		Alive:       p.Alive(),
		Holding:     s.registry.IsHoldingResource(p),
		UsageActive: p.UsageActive(),
	}
}

// lookup resolves the :id parameter, answering 404 when it is unknown.
func (s *Server) lookup(c *gin.Context) (*mutex.Process, bool) {
	id := middleware.ProcessID(c)
	p, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "process not found", "id": id})
		return nil, false
	}
	return p, true
}

// listProcesses handles GET /api/v1/processes
func (s *Server) listProcesses(c *gin.Context) {
	procs := s.registry.Processes()
	out := make([]ProcessResponse, 0, len(procs))
	for _, p := range procs {
		out = append(out, s.toResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"processes": out,
		"count":     len(out),
	})
}

// getProcess handles GET /api/v1/processes/:id
func (s *Server) getProcess(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.toResponse(p))
}

// createProcess handles POST /api/v1/processes
func (s *Server) createProcess(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "process control is disabled"})
		return
	}
	p, err := s.controller.Spawn(c.Request.Context())
	if err != nil {
		s.log.Error("spawn failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create process: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, s.toResponse(p))
}

// destroyProcess handles DELETE /api/v1/processes/:id
func (s *Server) destroyProcess(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := p.Destroy(c.Request.Context()); err != nil {
		s.log.Warn("destroy finished with errors", zap.Stringer("process", p), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "process destroyed",
		"id":      p.ID(),
	})
}

// requestResource handles POST /api/v1/processes/:id/request
func (s *Server) requestResource(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := p.RequestResource(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, s.toResponse(p))
}

// releaseResource handles POST /api/v1/processes/:id/release
func (s *Server) releaseResource(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	if !s.registry.IsHoldingResource(p) {
		c.JSON(http.StatusConflict, gin.H{"error": "process does not hold the resource", "id": p.ID()})
		return
	}
	if err := p.ReleaseResource(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.toResponse(p))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mutex.ErrProcessClosed):
		return http.StatusGone
	case errors.Is(err, mutex.ErrNoCoordinator):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
