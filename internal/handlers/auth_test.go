package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func postJSON(r *gin.Engine, path, body string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthHandlers_SignUp(t *testing.T) {
	tests := []struct {
		name     string
		auth     *mockAuth
		body     string
		wantCode int
		wantID   int
	}{
		{name: "created", auth: &mockAuth{signUpID: 42}, body: `{"username":"u","password":"p"}`, wantCode: http.StatusOK, wantID: 42},
		{name: "repo error", auth: &mockAuth{signUpErr: errors.New("duplicate")}, body: `{"username":"u","password":"p"}`, wantCode: http.StatusBadRequest},
		{name: "missing password", auth: &mockAuth{}, body: `{"username":"u"}`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&service.Service{Authorization: tt.auth})
			w := postJSON(r, "/auth/sign-up", tt.body, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var m map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &m)
			if int(m["id"].(float64)) != tt.wantID {
				t.Fatalf("expected id=%d, got %v", tt.wantID, m["id"])
			}
			if tt.auth.lastSignUpUsername != "u" {
				t.Fatalf("sign-up called with %q", tt.auth.lastSignUpUsername)
			}
		})
	}
}

func TestAuthHandlers_SignIn(t *testing.T) {
	tests := []struct {
		name     string
		auth     *mockAuth
		body     string
		wantCode int
	}{
		{
			name:     "token with operator and lifetime",
			auth:     &mockAuth{genTokenToken: "tok123", operator: "alice", tokenTTL: 90 * time.Minute},
			body:     `{"username":"alice","password":"p"}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "bad credentials",
			auth:     &mockAuth{genTokenErr: service.ErrInvalidPassword},
			body:     `{"username":"alice","password":"nope"}`,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "token not readable",
			auth:     &mockAuth{genTokenToken: "tok123", parseErr: service.ErrInvalidToken},
			body:     `{"username":"alice","password":"p"}`,
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "invalid body",
			auth:     &mockAuth{},
			body:     `{"username":1}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&service.Service{Authorization: tt.auth})
			w := postJSON(r, "/auth/sign-in", tt.body, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var got signInResponse
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			want := signInResponse{Token: "tok123", TokenType: "Bearer", ExpiresIn: 5400, Operator: "alice"}
			if got != want {
				t.Fatalf("want %+v, got %+v", want, got)
			}
		})
	}
}

// memUsers keeps users in memory for a real AuthService.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (m *memUsers) Create(_ context.Context, username, hash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return 0, errors.New("username taken")
	}
	id := len(m.users) + 1
	m.users[username] = &models.User{ID: id, Username: username, PasswordHash: hash}
	return id, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[username], nil
}

func TestAuthFlow_TokenCarriesOperatorAndTTL(t *testing.T) {
	const key = "handler-test-key"
	ttl := 45 * time.Minute
	auth := service.NewAuthService(&memUsers{users: map[string]*models.User{}}, key, ttl)
	auto := &mockAutomation{approveRes: models.Decision{ReservoirID: "gagok", Action: models.ActionPumpOn}}
	r := newTestRouter(&service.Service{Authorization: auth, Automation: auto})

	if w := postJSON(r, "/auth/sign-up", `{"username":"alice","password":"s3cret"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("sign-up status=%d, body=%s", w.Code, w.Body.String())
	}
	if w := postJSON(r, "/auth/sign-up", `{"username":"alice","password":"other"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate sign-up: want 400, got %d", w.Code)
	}
	if w := postJSON(r, "/auth/sign-in", `{"username":"alice","password":"wrong"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: want 401, got %d", w.Code)
	}

	w := postJSON(r, "/auth/sign-in", `{"username":"alice","password":"s3cret"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sign-in status=%d, body=%s", w.Code, w.Body.String())
	}
	var resp signInResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Operator != "alice" || resp.ExpiresIn != int64(ttl/time.Second) {
		t.Fatalf("unexpected sign-in response: %+v", resp)
	}

	claims := &service.Claims{}
	if _, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Username != "alice" || claims.UserID != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != ttl {
		t.Fatalf("token lifetime: want %v, got %v", ttl, got)
	}

	// the operator claim attributes manual actions
	w = postJSON(r, "/api/v1/automation/approve/gagok", "", authHeader(resp.Token))
	if w.Code != http.StatusOK {
		t.Fatalf("approve status=%d, body=%s", w.Code, w.Body.String())
	}
	if auto.lastApproveBy != "alice" {
		t.Fatalf("approve attributed to %q, want alice", auto.lastApproveBy)
	}
}
