package server

import (
	"net/http"
	"strings"
	"testing"
)

func TestCreateUserRequiresElevatedCredential(t *testing.T) {
	server := newTestServer(t)
	payload := map[string]string{"email": "a@example.com", "password": "pw123456", "username": "alice", "role": "member"}

	recorder := server.do(t, http.MethodPost, "/api/users/create", payload, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credential, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPost, "/api/users/create", payload, map[string]string{"apikey": "wrong-key"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", recorder.Code)
	}

	memberID := server.createUser(t, "member@example.com", "member", "member")
	recorder = server.do(t, http.MethodPost, "/api/users/create", payload, bearer(server.sessionFor(t, memberID)))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member session, got %d", recorder.Code)
	}
}

func TestCreateUserWithServiceKeyAndAdminSession(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodPost, "/api/users/create",
		map[string]string{"email": "a@example.com", "password": "pw123456", "username": "alice", "role": "member"},
		map[string]string{"apikey": testServiceKey})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		Success bool   `json:"success"`
		UserID  string `json:"userId"`
	}
	decodeBody(t, recorder, &created)
	if !created.Success || created.UserID == "" {
		t.Fatalf("unexpected response %+v", created)
	}

	adminID := server.createUser(t, "admin@example.com", "boss", "admin")
	recorder = server.do(t, http.MethodPost, "/api/users/create",
		map[string]string{"email": "b@example.com", "password": "pw123456", "username": "bob", "role": "member"},
		bearer(server.sessionFor(t, adminID)))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected admin session to create users, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestCreateUserReportsConflictsAndValidation(t *testing.T) {
	server := newTestServer(t)
	server.createUser(t, "a@example.com", "alice", "member")
	headers := bearer(testServiceKey)

	recorder := server.do(t, http.MethodPost, "/api/users/create",
		map[string]string{"email": "b@example.com", "password": "pw123456", "username": "alice", "role": "admin"}, headers)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate username, got %d", recorder.Code)
	}
	var body errorResponse
	decodeBody(t, recorder, &body)
	if body.Error != "Username already exists" || body.Code != "users.create.username_taken" {
		t.Fatalf("unexpected error body %+v", body)
	}

	recorder = server.do(t, http.MethodPost, "/api/users/create",
		map[string]string{"email": "c@example.com", "username": "carol", "role": "member"}, headers)
	decodeBody(t, recorder, &body)
	if recorder.Code != http.StatusBadRequest || body.Error != "Missing required fields" {
		t.Fatalf("expected missing fields error, got %d %+v", recorder.Code, body)
	}

	recorder = server.do(t, http.MethodPost, "/api/users/create",
		map[string]string{"email": "c@example.com", "password": "pw123456", "username": "carol", "role": "owner"}, headers)
	decodeBody(t, recorder, &body)
	if recorder.Code != http.StatusBadRequest || body.Error != "Invalid role" {
		t.Fatalf("expected invalid role error, got %d %+v", recorder.Code, body)
	}
}

func TestUpdateAndDeleteUser(t *testing.T) {
	server := newTestServer(t)
	uid := server.createUser(t, "a@example.com", "alice", "member")
	server.createUser(t, "b@example.com", "bob", "member")
	headers := map[string]string{"apikey": testServiceKey}

	recorder := server.do(t, http.MethodPut, "/api/users/"+uid, map[string]string{"username": "bob"}, headers)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for taken username, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodPut, "/api/users/"+uid, map[string]string{"username": "alicia", "role": "admin"}, headers)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	isAdmin, err := server.users.IsAdmin(t.Context(), uid)
	if err != nil || !isAdmin {
		t.Fatalf("expected role update to apply (%v)", err)
	}

	recorder = server.do(t, http.MethodDelete, "/api/users/"+uid, nil, headers)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d: %s", recorder.Code, recorder.Body.String())
	}
	recorder = server.do(t, http.MethodDelete, "/api/users/"+uid, nil, headers)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted user, got %d", recorder.Code)
	}
}

func TestListUsersRequiresSession(t *testing.T) {
	server := newTestServer(t)
	uid := server.createUser(t, "a@example.com", "alice", "member")

	recorder := server.do(t, http.MethodGet, "/api/users", nil, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodGet, "/api/users", nil, bearer(server.sessionFor(t, uid)))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Role     string `json:"role"`
		} `json:"users"`
	}
	decodeBody(t, recorder, &body)
	if len(body.Users) != 1 || body.Users[0].ID != uid || body.Users[0].Role != "member" {
		t.Fatalf("unexpected users %+v", body.Users)
	}
}

func TestSetupFlow(t *testing.T) {
	server := newTestServer(t)

	var status struct {
		AdminExists bool `json:"adminExists"`
	}
	decodeBody(t, server.do(t, http.MethodGet, "/api/setup/status", nil, nil), &status)
	if status.AdminExists {
		t.Fatalf("expected no admin on a fresh store")
	}

	recorder := server.do(t, http.MethodPost, "/api/setup/admin",
		map[string]string{"email": "root@example.com", "password": "123456", "username": "root"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected setup to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}

	decodeBody(t, server.do(t, http.MethodGet, "/api/setup/status", nil, nil), &status)
	if !status.AdminExists {
		t.Fatalf("expected admin to exist after setup")
	}

	recorder = server.do(t, http.MethodPost, "/api/setup/admin",
		map[string]string{"email": "late@example.com", "password": "123456", "username": "late"}, nil)
	var body errorResponse
	decodeBody(t, recorder, &body)
	if recorder.Code != http.StatusBadRequest || !strings.Contains(body.Error, "admin already exists") {
		t.Fatalf("expected conflict after setup, got %d %+v", recorder.Code, body)
	}
}

func TestHealthAndDatabaseCheck(t *testing.T) {
	server := newTestServer(t)

	recorder := server.do(t, http.MethodGet, "/api/health", nil, nil)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(t, http.MethodGet, "/api/database-check", nil, nil)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "connected") {
		t.Fatalf("unexpected database check response %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(t, http.MethodGet, "/metrics", nil, nil)
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "taskflow_http_request_duration_seconds") {
		t.Fatalf("expected metrics exposition, got %d", recorder.Code)
	}
}
