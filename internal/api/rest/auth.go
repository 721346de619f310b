package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ferralab/prepcore/internal/types"
)

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	if !s.authService.Enabled() {
		c.JSON(http.StatusOK, gin.H{"token": "", "auth_disabled": true})
		return
	}

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	token, err := s.authService.Login(req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
