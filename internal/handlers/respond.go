package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"provably-fair-backend/internal/apperrors"
	"provably-fair-backend/internal/logger"
)

// respondError writes err as {"error": code, "details": message}. Internal
// failures are logged and their details withheld.
func respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	details := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int64("user_id", c.GetInt64("user_id")),
			zap.Error(err))
		details = apperrors.Message(err)
	}
	c.JSON(status, gin.H{
		"error":   code,
		"details": details,
	})
}

func respondInvalid(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   apperrors.CodeValidation,
		"details": err.Error(),
	})
}

func respondOK(c *gin.Context, key string, value any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		key:       value,
	})
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 || limit > max {
		return def
	}
	return limit
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondInvalid(c, apperrors.Validation("invalid round id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}
