package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ParseBlockHeightMiddleware validates the :blockheight path parameter and
// stores it in the gin context.
func ParseBlockHeightMiddleware(c *gin.Context) {
	heightStr := c.Param("blockheight")
	if heightStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": CodeBadRequest})
		c.Abort()
		return
	}

	height, err := strconv.ParseUint(heightStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": CodeBadRequest})
		c.Abort()
		return
	}

	c.Set("blockheight", uint32(height))
	c.Next()
}
