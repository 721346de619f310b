package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ferralab/prepcore/internal/types"
)

// GET /api/v1/recipes
func (s *Server) listRecipes(c *gin.Context) {
	names, err := s.recipes.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("RECIPE_500", "Failed to list recipes", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipes": names})
}

// GET /api/v1/recipes/:name
func (s *Server) getRecipe(c *gin.Context) {
	name := c.Param("name")

	rec, err := s.recipes.Load(name)
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("RECIPE_404", "Recipe not found or invalid", err.Error()))
		return
	}
	c.JSON(http.StatusOK, rec)
}
