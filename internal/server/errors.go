package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/apperror"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/validation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest = "request.invalid"
	codeInternal       = "internal"
	msgInvalidRequest  = "Invalid request body"
	msgInternal        = "Internal server error"
)

func errorBody(message, code string) gin.H {
	return gin.H{"error": message, "code": code}
}

// statusFor maps an error kind onto the HTTP status clients see.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation, apperror.KindConflict:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindAuthorization:
		return http.StatusForbidden
	case apperror.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		h.logger.Error("unclassified handler error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(msgInternal, codeInternal))
		return
	}
	c.JSON(statusFor(appErr.Kind()), errorBody(appErr.Message(), appErr.Code()))
}

func (h *httpHandler) writeBindError(c *gin.Context, err error) {
	body := errorBody(msgInvalidRequest, codeInvalidRequest)
	body["details"] = validation.ToDetails(err)
	c.JSON(http.StatusBadRequest, body)
}
