package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

// 统一响应辅助, 所有 handler 共用。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func failure(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func badRequest(c *gin.Context, message string) {
	failure(c, http.StatusBadRequest, "bad_request", message)
}

func notFound(c *gin.Context, message string) {
	failure(c, http.StatusNotFound, "not_found", message)
}

func unavailable(c *gin.Context, message string) {
	failure(c, http.StatusServiceUnavailable, "unavailable", message)
}

func serverError(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("internal error", logger.Any(logger.FieldError, err))
	failure(c, http.StatusInternalServerError, "internal_error", "服务器内部错误")
}

// writeError 按哨兵错误映射 HTTP 状态。
func writeError(c *gin.Context, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		notFound(c, err.Error())
	case apperrors.Is(err, apperrors.ErrInvalidInput):
		badRequest(c, err.Error())
	case apperrors.Is(err, apperrors.ErrNotConfigured), apperrors.Is(err, apperrors.ErrClosed):
		unavailable(c, err.Error())
	case apperrors.Is(err, apperrors.ErrTimeout):
		failure(c, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		serverError(c, err)
	}
}
