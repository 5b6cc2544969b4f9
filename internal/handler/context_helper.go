package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/roster-import-api/internal/middleware"
	"github.com/noah-isme/roster-import-api/internal/models"
)

func authFromContext(c *gin.Context) *models.AuthSession {
	return middleware.AuthFromContext(c)
}
