package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ferralab/prepcore/internal/types"
	"github.com/ferralab/prepcore/internal/workflow"
)

// GET /api/v1/slots
func (s *Server) listSlots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"slots": s.engine.Slots()})
}

// PUT /api/v1/slots/:id/specimen
func (s *Server) setSlotSpecimen(c *gin.Context) {
	var req struct {
		Specimen string `json:"specimen"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SLOT_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.engine.LoadSpecimen(c.Param("id"), req.Specimen); err != nil {
		var pre *workflow.PreconditionError
		if errors.As(err, &pre) {
			c.JSON(http.StatusConflict, types.NewErrorResponse("SLOT_409", "Slot update rejected", err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SLOT_500", "Slot update failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Slot updated"})
}
