package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/types"
	"github.com/ferralab/prepcore/internal/workflow"
)

// GET /api/v1/queue
func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.engine.Jobs()})
}

// POST /api/v1/queue
func (s *Server) enqueueJob(c *gin.Context) {
	var req struct {
		Slot   string `json:"slot" binding:"required"`
		Recipe string `json:"recipe"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("QUEUE_400", "Invalid request body", err.Error()))
		return
	}

	id, err := s.engine.Enqueue(req.Slot, req.Recipe)
	if err != nil {
		var pre *workflow.PreconditionError
		if errors.As(err, &pre) {
			c.JSON(http.StatusConflict, types.NewErrorResponse("QUEUE_409", "Enqueue rejected", err.Error()))
			return
		}
		s.logger.Error("Enqueue failed", zap.String("slot", req.Slot), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("QUEUE_500", "Enqueue failed", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

// GET /api/v1/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	id, ok := s.parseJobID(c)
	if !ok {
		return
	}

	job, err := s.engine.Job(id)
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("JOB_404", "Job not found", nil))
		return
	}
	c.JSON(http.StatusOK, job)
}

// POST /api/v1/jobs/:id/cancel
func (s *Server) cancelJob(c *gin.Context) {
	id, ok := s.parseJobID(c)
	if !ok {
		return
	}

	if err := s.engine.Cancel(id); err != nil {
		if errors.Is(err, workflow.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("JOB_404", "Job not found", nil))
			return
		}
		c.JSON(http.StatusConflict, types.NewErrorResponse("JOB_409", "Cancel rejected", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation requested"})
}

// POST /api/v1/jobs/:id/acknowledge
func (s *Server) acknowledgeJob(c *gin.Context) {
	id, ok := s.parseJobID(c)
	if !ok {
		return
	}

	if err := s.engine.Acknowledge(id); err != nil {
		if errors.Is(err, workflow.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("JOB_404", "Job not found", nil))
			return
		}
		c.JSON(http.StatusConflict, types.NewErrorResponse("JOB_409", "Acknowledge rejected", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job acknowledged"})
}

func (s *Server) parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("JOB_400", "Invalid job id", err.Error()))
		return uuid.Nil, false
	}
	return id, true
}
