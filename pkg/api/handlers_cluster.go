package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coordmutex/pkg/simulation"
	"coordmutex/pkg/storage"
)

// getCoordinator handles GET /api/v1/cluster/coordinator
func (s *Server) getCoordinator(c *gin.Context) {
	coord := s.registry.Coordinator()
	if coord == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no coordinator"})
		return
	}
	snap, err := coord.Snapshot()
	if err != nil {
		// Demoted between the two reads.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// killCoordinator handles DELETE /api/v1/cluster/coordinator
func (s *Server) killCoordinator(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "process control is disabled"})
		return
	}
	p, err := s.controller.KillCoordinator(c.Request.Context())
	if errors.Is(err, simulation.ErrNoProcess) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no coordinator"})
		return
	}
	if err != nil {
		s.log.Warn("coordinator kill finished with errors", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "coordinator destroyed",
		"id":      p.ID(),
	})
}

// listNodes handles GET /api/v1/cluster/nodes
func (s *Server) listNodes(c *gin.Context) {
	if s.cluster == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "cluster mirror is disabled"})
		return
	}
	ctx := c.Request.Context()
	nodes, err := s.cluster.Nodes(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get nodes: " + err.Error()})
		return
	}
	leader, err := s.cluster.Leader(ctx)
	if err != nil {
		s.log.Warn("leader lookup failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes":  nodes,
		"count":  len(nodes),
		"leader": leader,
	})
}

// listUsage handles GET /api/v1/usage?limit=N
func (s *Server) listUsage(c *gin.Context) {
	if s.usage == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "usage log is not readable"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000", "field": "limit"})
			return
		}
		limit = n
	}

	records, err := s.usage.Recent(c.Request.Context(), limit)
	if errors.Is(err, storage.ErrReadUnsupported) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "usage log is not readable"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read usage: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}
