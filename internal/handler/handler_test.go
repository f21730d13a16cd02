package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kwite/internal/app/chat"
	"kwite/internal/app/identity"
	"kwite/internal/app/store"
	"kwite/internal/configs"
	"kwite/internal/pkg/errs"
)

type envelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type testServer struct {
	router http.Handler
	nextIP int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemory()
	t.Cleanup(st.Close)

	deps := &AppDeps{
		Store:    st,
		Identity: identity.NewController(st, identity.NewMemoryVerifier()),
		Engine:   chat.NewEngine(st),
		Config: &configs.AppConfig{
			Environment:    "development",
			Port:           8080,
			AllowedOrigins: []string{},
			JWTSecret:      "test-secret",
		},
	}

	return &testServer{router: Router(deps)}
}

// do issues a request from a fresh client IP so the per-IP rate limiter never
// interferes with test ordering.
func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	s.nextIP++
	req.RemoteAddr = fmt.Sprintf("10.0.0.%d:1234", s.nextIP)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())

	return rec.Code, env
}

func (s *testServer) register(t *testing.T, handle, secret string) (token string) {
	t.Helper()

	status, env := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"handle": handle,
		"secret": secret,
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, env.Code)

	token, ok := env.Data["token"].(string)
	require.True(t, ok, "missing token in %v", env.Data)
	return token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", env.Data["status"])
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	t.Run("admin bootstrap", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"handle": "admin",
			"secret": "secret1",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "admin", env.Data["access"])
	})

	t.Run("regular registration starts pending", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"handle": "alice",
			"secret": "secret1",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "pending", env.Data["access"])
		assert.NotEmpty(t, env.Data["token"])
	})

	t.Run("duplicate handle conflicts", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"handle": "ALICE",
			"secret": "secret2",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, errs.ErrHandleTaken, env.Code)
	})

	t.Run("login with folded handle", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"handle": " Alice ",
			"secret": "secret1",
		})
		require.Equal(t, http.StatusOK, status)
		assert.NotEmpty(t, env.Data["token"])
	})

	t.Run("wrong secret", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"handle": "alice",
			"secret": "wrong",
		})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, errs.ErrInvalidCredentials, env.Code)
	})

	t.Run("unknown json field rejected", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"handle": "bob",
			"secret": "secret1",
			"bonus":  "field",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, errs.ErrInvalidJSONFormat, env.Code)
	})
}

func TestProfileRequiresSession(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/user/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errs.ErrUnauthorized, env.Code)

	token := s.register(t, "alice", "secret1")
	status, env = s.do(t, http.MethodGet, "/api/user/profile", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", env.Data["access"])
}

func TestApprovalFlow(t *testing.T) {
	s := newTestServer(t)

	adminToken := s.register(t, "admin", "secret1")
	aliceToken := s.register(t, "alice", "secret1")

	t.Run("non-admin rejected", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/admin/approve", aliceToken, map[string]string{
			"handle": "admin",
		})
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, errs.ErrNotAdmin, env.Code)
	})

	t.Run("admin approves", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/admin/approve", adminToken, map[string]string{
			"handle": "Alice",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "alice", env.Data["handle"])
	})

	t.Run("approval visible to the account", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/user/profile", aliceToken, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "approved", env.Data["access"])
	})

	t.Run("unknown target", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/admin/approve", adminToken, map[string]string{
			"handle": "ghost",
		})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, errs.ErrUserNotFound, env.Code)
	})
}

func TestDirectoryViews(t *testing.T) {
	s := newTestServer(t)

	adminToken := s.register(t, "admin", "secret1")
	aliceToken := s.register(t, "alice", "secret1")
	s.register(t, "bob", "secret1")

	s.do(t, http.MethodPost, "/api/admin/approve", adminToken, map[string]string{"handle": "alice"})

	t.Run("admin sees partitions", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/directory", adminToken, nil)
		require.Equal(t, http.StatusOK, status)

		pending, ok := env.Data["pending"].([]any)
		require.True(t, ok)
		active, ok := env.Data["active"].([]any)
		require.True(t, ok)

		assert.Len(t, pending, 1)
		assert.Len(t, active, 1)
	})

	t.Run("non-admin sees only the admin", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/directory", aliceToken, nil)
		require.Equal(t, http.StatusOK, status)

		admin, ok := env.Data["admin"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "admin", admin["handle"])
		assert.NotContains(t, admin, "authId")
	})
}

func TestConversationEndpoints(t *testing.T) {
	s := newTestServer(t)

	adminToken := s.register(t, "admin", "secret1")
	aliceToken := s.register(t, "alice", "secret1")
	s.do(t, http.MethodPost, "/api/admin/approve", adminToken, map[string]string{"handle": "alice"})

	t.Run("send", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/chat/send", adminToken, map[string]any{
			"receiver": "alice",
			"body":     "welcome aboard",
		})
		require.Equal(t, http.StatusOK, status)

		msg, ok := env.Data["message"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "admin", msg["sender"])
		assert.Equal(t, false, msg["read"])
	})

	t.Run("empty body rejected", func(t *testing.T) {
		_, env := s.do(t, http.MethodPost, "/api/chat/send", adminToken, map[string]any{
			"receiver": "alice",
			"body":     "   ",
		})
		assert.Equal(t, errs.ErrEmptyMessageBody, env.Code)
	})

	t.Run("fetch conversation", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/chat/conversation?with=ADMIN", aliceToken, nil)
		require.Equal(t, http.StatusOK, status)

		msgs, ok := env.Data["messages"].([]any)
		require.True(t, ok)
		assert.Len(t, msgs, 1)
		assert.Equal(t, "admin", env.Data["with"])
	})

	t.Run("missing counterpart parameter", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/chat/conversation", aliceToken, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, errs.ErrInvalidParams, env.Code)
	})
}
