package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoginIssuesSessionAcceptedByProtectedRoutes(t *testing.T) {
	server := newTestServer(t)
	uid := server.createUser(t, "alice@example.com", "alice", "admin")

	recorder := server.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "alice@example.com", "password": "secret1"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var login struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
		User        struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
	}
	decodeBody(t, recorder, &login)
	if login.AccessToken == "" || login.TokenType != "Bearer" || login.ExpiresIn <= 0 {
		t.Fatalf("unexpected login response %+v", login)
	}
	if login.User.ID != uid || login.User.Role != "admin" {
		t.Fatalf("unexpected login user %+v", login.User)
	}

	recorder = server.do(t, http.MethodGet, "/api/auth/me", nil, bearer(login.AccessToken))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected /me to succeed, got %d", recorder.Code)
	}
	var me struct {
		User struct {
			ID       string `json:"id"`
			Email    string `json:"email"`
			Username string `json:"username"`
		} `json:"user"`
	}
	decodeBody(t, recorder, &me)
	if me.User.ID != uid || me.User.Username != "alice" || me.User.Email != "alice@example.com" {
		t.Fatalf("unexpected /me response %+v", me.User)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server := newTestServer(t)
	server.createUser(t, "alice@example.com", "alice", "member")

	recorder := server.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "alice@example.com", "password": "nope"}, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "not-an-email"}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payload, got %d", recorder.Code)
	}
	var body errorResponse
	decodeBody(t, recorder, &body)
	if body.Details["email"] != "must be a valid email" || body.Details["password"] != "is required" {
		t.Fatalf("unexpected validation details %+v", body.Details)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/tasks", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{validateErr: auth.ErrExpiredSessionToken},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/tasks", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{validateErr: errors.New("signature mismatch")},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected a single warn entry, got %v", entries)
	}
}

func TestCORSAllowsListedOriginsOnly(t *testing.T) {
	server := newTestServer(t)

	preflight := server.do(t, http.MethodOptions, "/api/users/create", nil, map[string]string{
		"Origin":                         testAllowedOrigin,
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "apikey, content-type",
	})
	if preflight.Code != http.StatusNoContent {
		t.Fatalf("expected preflight status %d, got %d", http.StatusNoContent, preflight.Code)
	}
	if preflight.Header().Get("Access-Control-Allow-Origin") != testAllowedOrigin {
		t.Fatalf("unexpected allow origin %q", preflight.Header().Get("Access-Control-Allow-Origin"))
	}
	if preflight.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}

	rejected := server.do(t, http.MethodGet, "/api/health", nil, map[string]string{"Origin": "https://evil.example.com"})
	if rejected.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unlisted origin, got %d", rejected.Code)
	}

	originless := server.do(t, http.MethodGet, "/api/health", nil, nil)
	if originless.Code != http.StatusOK {
		t.Fatalf("expected requests without origin to pass, got %d", originless.Code)
	}
}

type stubSessionValidator struct {
	validateErr error
}

func (s stubSessionValidator) ValidateToken(string) (auth.SessionClaims, error) {
	return auth.SessionClaims{}, s.validateErr
}

func TestSessionOfDeletedUserIsRejected(t *testing.T) {
	server := newTestServer(t)
	uid := server.createUser(t, "gone@example.com", "gone", "member")
	session := bearer(server.sessionFor(t, uid))

	recorder := server.do(t, http.MethodGet, "/api/tasks", nil, session)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected session to work before delete, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodDelete, "/api/users/"+uid, nil, map[string]string{"apikey": testServiceKey})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(t, http.MethodGet, "/api/tasks", nil, session)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a deleted user's session, got %d", recorder.Code)
	}
}
