package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/machine/status
func (s *Server) getMachineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

// GET /api/v1/machine/telemetry
func (s *Server) getTelemetry(c *gin.Context) {
	samples := s.series.Samples()
	resp := gin.H{"samples": samples}
	if latest, ok := s.series.Latest(); ok {
		resp["latest"] = latest
	}
	c.JSON(http.StatusOK, resp)
}
