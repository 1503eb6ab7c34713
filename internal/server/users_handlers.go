package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createUserPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type updateUserPayload struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

type loginPayload struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponsePayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	TokenType   string        `json:"token_type"`
	User        users.Summary `json:"user"`
}

type setupAdminPayload struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username" binding:"required,max=64"`
}

func (h *httpHandler) handleCreateUser(c *gin.Context) {
	var request createUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, err)
		return
	}
	uid, err := h.users.Create(c.Request.Context(), users.CreateInput{
		Email:    request.Email,
		Password: request.Password,
		Username: request.Username,
		Role:     request.Role,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "userId": uid})
}

func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	var request updateUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, err)
		return
	}
	err := h.users.Update(c.Request.Context(), c.Param("userId"), users.UpdateInput{
		Username: request.Username,
		Role:     request.Role,
		Password: request.Password,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("userId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	summaries, err := h.users.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": summaries})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, err)
		return
	}
	summary, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	token, expiresIn, err := h.tokens.Issue(c.Request.Context(), auth.Subject{
		UserID: summary.UserID,
		Email:  summary.Email,
		Role:   string(summary.Role),
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(msgInternal, "auth.token_issue_failed"))
		return
	}
	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        summary,
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	summary, err := h.users.Describe(c.Request.Context(), c.GetString(userIDContextKey), c.GetString(userEmailContextKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": summary})
}

func (h *httpHandler) handleSetupStatus(c *gin.Context) {
	exists, err := h.users.AdminExists(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"adminExists": exists})
}

func (h *httpHandler) handleSetupAdmin(c *gin.Context) {
	var request setupAdminPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, err)
		return
	}
	uid, err := h.users.SetupFirstAdmin(c.Request.Context(), users.SetupInput{
		Email:    request.Email,
		Password: request.Password,
		Username: request.Username,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "userId": uid})
}
