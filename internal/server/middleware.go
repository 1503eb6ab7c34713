package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	apiKeyHeader      = "apikey"
	accessTokenQuery  = "access_token"
	streamRoutePath   = "/api/notifications/stream"
	codeUnauthorized  = "auth.unauthorized"
	codeForbidden     = "auth.forbidden"
	msgUnauthorized   = "Unauthorized"
	msgAdminsOnlyUser = "Only admins can manage users"
)

var errInvalidAuthorization = errors.New("authorization header missing or invalid")

// authorizeRequest requires a valid session token. EventSource cannot send
// headers, so the stream route also accepts the token as a query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := auth.BearerToken(c.Request)
	if !ok && c.FullPath() == streamRoutePath {
		token = strings.TrimSpace(c.Query(accessTokenQuery))
		ok = token != ""
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(errInvalidAuthorization.Error(), codeUnauthorized))
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(msgUnauthorized, codeUnauthorized))
		return
	}
	// Tokens outlive deleted users; the profile row is removed with the identity.
	exists, err := h.users.HasProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	if !exists {
		h.logger.Info("session for removed user rejected", zap.String("user_id", claims.UserID))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(msgUnauthorized, codeUnauthorized))
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(userEmailContextKey, claims.UserEmail)
	c.Next()
}

// requireElevated admits the service key, or a session whose user holds the
// admin role.
func (h *httpHandler) requireElevated(c *gin.Context) {
	if h.hasServiceKey(c.Request) {
		c.Next()
		return
	}
	token, ok := auth.BearerToken(c.Request)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(msgUnauthorized, codeUnauthorized))
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logger.Warn("elevated credential rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(msgUnauthorized, codeUnauthorized))
		return
	}
	admin, err := h.users.IsAdmin(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, err)
		c.Abort()
		return
	}
	if !admin {
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody(msgAdminsOnlyUser, codeForbidden))
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func (h *httpHandler) hasServiceKey(request *http.Request) bool {
	candidates := []string{strings.TrimSpace(request.Header.Get(apiKeyHeader))}
	if bearer, ok := auth.BearerToken(request); ok {
		candidates = append(candidates, bearer)
	}
	for _, candidate := range candidates {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), h.serviceKey) == 1 {
			return true
		}
	}
	return false
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.ObserveHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
