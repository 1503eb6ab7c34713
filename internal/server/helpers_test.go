package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/database"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/tasks"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testServiceKey    = "service-role-key"
	testSigningSecret = "test-signing-secret"
	testAllowedOrigin = "http://localhost:5173"
)

type testServer struct {
	handler       http.Handler
	db            *gorm.DB
	users         *users.Service
	tasks         *tasks.Service
	notifications *tasks.NotificationService
	issuer        *auth.TokenIssuer
	realtime      *RealtimeDispatcher
	logs          *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	db, err := database.Open(database.Options{
		URL:           filepath.Join(t.TempDir(), "server.db"),
		LocalIdentity: true,
	}, logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	identities, err := identity.NewLocalStore(identity.LocalStoreConfig{Database: db, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to create identity store: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Identities: identities, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	notificationService, err := tasks.NewNotificationService(tasks.NotificationServiceConfig{
		Database:  db,
		Publisher: realtime,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to create notification service: %v", err)
	}
	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:      db,
		Directory:     userService,
		Notifications: notificationService,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("failed to create tasks service: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
	})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Users:          userService,
		Tasks:          taskService,
		Notifications:  notificationService,
		Sessions:       validator,
		Tokens:         issuer,
		ServiceKey:     testServiceKey,
		AllowedOrigins: []string{testAllowedOrigin},
		Realtime:       realtime,
		Database:       db,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testServer{
		handler:       handler,
		db:            db,
		users:         userService,
		tasks:         taskService,
		notifications: notificationService,
		issuer:        issuer,
		realtime:      realtime,
		logs:          logs,
	}
}

func (s *testServer) createUser(t *testing.T, email, username, role string) string {
	t.Helper()
	uid, err := s.users.Create(context.Background(), users.CreateInput{
		Email:    email,
		Password: "secret1",
		Username: username,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("failed to create %s: %v", username, err)
	}
	return uid
}

func (s *testServer) sessionFor(t *testing.T, uid string) string {
	t.Helper()
	token, _, err := s.issuer.Issue(context.Background(), auth.Subject{UserID: uid})
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type errorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
}
