package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"userdesk/internal/auth"
	"userdesk/internal/repository/jsonfile"
	"userdesk/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := jsonfile.NewUserRepository(filepath.Join(t.TempDir(), "users.json"), logger)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	tokens := auth.NewIssuer(testSecret, time.Hour)
	users := service.NewUserService(repo, tokens, service.Options{BcryptCost: bcrypt.MinCost})

	router := gin.New()
	NewHandler(users, tokens, logger).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func registerAndLogin(t *testing.T, router *gin.Engine, email string) string {
	t.Helper()
	w, _ := doJSON(t, router, http.MethodPost, "/register", "", gin.H{"name": "Alice", "email": email, "password": "s3cret"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", w.Code, w.Body)
	}
	w, body := doJSON(t, router, http.MethodPost, "/login", "", gin.H{"email": email, "password": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", w.Code, w.Body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected token")
	}
	return token
}

func TestRegisterAndLogin(t *testing.T) {
	router := newTestRouter(t)

	w, body := doJSON(t, router, http.MethodPost, "/register", "", gin.H{"name": "Alice", "email": "alice@example.com", "password": "s3cret"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	if body["message"] != "User registered successfully" {
		t.Errorf("message = %v", body["message"])
	}
	user, _ := body["user"].(map[string]any)
	if user["email"] != "alice@example.com" || user["id"] == nil {
		t.Errorf("unexpected user %v", user)
	}
	if _, leaked := user["password"]; leaked {
		t.Error("password hash must not be returned")
	}

	w, body = doJSON(t, router, http.MethodPost, "/register", "", gin.H{"name": "Other", "email": "alice@example.com", "password": "x"})
	if w.Code != http.StatusBadRequest || body["message"] != "Email already exists" {
		t.Errorf("duplicate register: %d %v", w.Code, body)
	}

	w, body = doJSON(t, router, http.MethodPost, "/login", "", gin.H{"email": "alice@example.com", "password": "s3cret"})
	if w.Code != http.StatusOK || body["token"] == "" || body["message"] != "Login successful" {
		t.Errorf("login: %d %v", w.Code, body)
	}
	if body["expires_in"] != float64(3600) {
		t.Errorf("expires_in = %v, want 3600", body["expires_in"])
	}
}

func TestAuthenticateExposesClaims(t *testing.T) {
	tokens := auth.NewIssuer(testSecret, time.Hour)
	token, err := tokens.Issue(1700000000000, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}

	var fromRequest, fromGin *auth.Claims
	router := gin.New()
	router.GET("/me", authenticate(tokens), func(c *gin.Context) {
		fromRequest, _ = auth.ClaimsFromContext(c.Request.Context())
		if v, ok := c.Get(ClaimsKey); ok {
			fromGin, _ = v.(*auth.Claims)
		}
		c.Status(http.StatusNoContent)
	})

	w, _ := doJSON(t, router, http.MethodGet, "/me", token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	for name, claims := range map[string]*auth.Claims{"request context": fromRequest, "gin context": fromGin} {
		if claims == nil {
			t.Errorf("%s: no claims", name)
			continue
		}
		if claims.ID != 1700000000000 || claims.Email != "alice@example.com" {
			t.Errorf("%s: got {%d %s}", name, claims.ID, claims.Email)
		}
	}

	fromRequest, fromGin = nil, nil
	w, _ = doJSON(t, router, http.MethodGet, "/me", token+"x", nil)
	if w.Code != http.StatusForbidden || fromRequest != nil || fromGin != nil {
		t.Errorf("rejected token reached the handler: %d", w.Code)
	}
}

func TestRegisterAndLoginFailures(t *testing.T) {
	router := newTestRouter(t)
	registerAndLogin(t, router, "alice@example.com")

	tests := []struct {
		name    string
		path    string
		body    any
		rawBody string
		code    int
		message string
	}{
		{"register missing fields", "/register", gin.H{"email": "a@b.co"}, "", http.StatusBadRequest, "Name, Email, and Password are required"},
		{"register empty body", "/register", nil, "", http.StatusBadRequest, "Name, Email, and Password are required"},
		{"register bad email", "/register", gin.H{"name": "A", "email": "nope", "password": "x"}, "", http.StatusBadRequest, "Invalid email format"},
		{"register malformed json", "/register", nil, "{", http.StatusBadRequest, "Invalid request body"},
		{"login missing password", "/login", gin.H{"email": "alice@example.com"}, "", http.StatusBadRequest, "Email and Password are required"},
		{"login unknown email", "/login", gin.H{"email": "bob@example.com", "password": "s3cret"}, "", http.StatusNotFound, "User not found"},
		{"login wrong password", "/login", gin.H{"email": "alice@example.com", "password": "wrong"}, "", http.StatusUnauthorized, "Invalid password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				w    *httptest.ResponseRecorder
				body map[string]any
			)
			if tt.rawBody != "" {
				req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.rawBody))
				req.Header.Set("Content-Type", "application/json")
				w = httptest.NewRecorder()
				router.ServeHTTP(w, req)
				_ = json.Unmarshal(w.Body.Bytes(), &body)
			} else {
				w, body = doJSON(t, router, http.MethodPost, tt.path, "", tt.body)
			}
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.code, w.Body)
			}
			if body["message"] != tt.message {
				t.Errorf("message = %v, want %q", body["message"], tt.message)
			}
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	expiredIssuer := auth.NewIssuer(testSecret, time.Nanosecond)
	expired, err := expiredIssuer.Issue(1, "a@b.co")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/users"},
		{http.MethodPost, "/users"},
		{http.MethodGet, "/users/1"},
		{http.MethodPut, "/users/1"},
		{http.MethodDelete, "/users/1"},
	}
	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			w, body := doJSON(t, router, r.method, r.path, "", nil)
			if w.Code != http.StatusUnauthorized || body["message"] != "Token is required" {
				t.Errorf("no token: %d %v", w.Code, body)
			}

			w, _ = doJSON(t, router, r.method, r.path, "malformed.token.value", nil)
			if w.Code != http.StatusForbidden {
				t.Errorf("malformed token: %d", w.Code)
			}

			w, _ = doJSON(t, router, r.method, r.path, expired, nil)
			if w.Code != http.StatusForbidden {
				t.Errorf("expired token: %d", w.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("non bearer scheme: %d", w.Code)
	}
}

func TestUserCRUD(t *testing.T) {
	router := newTestRouter(t)
	token := registerAndLogin(t, router, "admin@example.com")

	w, body := doJSON(t, router, http.MethodPost, "/users", token, gin.H{"name": "Bob"})
	if w.Code != http.StatusBadRequest || body["message"] != "Name and Email are required" {
		t.Fatalf("create without email: %d %v", w.Code, body)
	}

	w, body = doJSON(t, router, http.MethodPost, "/users", token, gin.H{"name": "Bob", "email": "bob@example.com", "team": "core"})
	if w.Code != http.StatusCreated || body["message"] != "User created successfully" {
		t.Fatalf("create: %d %v", w.Code, body)
	}
	created := body["user"].(map[string]any)
	id := int64(created["id"].(float64))
	if created["team"] != "core" {
		t.Errorf("extra field lost: %v", created)
	}

	path := fmt.Sprintf("/users/%d", id)
	w, body = doJSON(t, router, http.MethodGet, path, token, nil)
	if w.Code != http.StatusOK || body["name"] != "Bob" || body["email"] != "bob@example.com" {
		t.Fatalf("get: %d %v", w.Code, body)
	}

	w, body = doJSON(t, router, http.MethodPut, path, token, gin.H{"name": "X"})
	if w.Code != http.StatusOK || body["message"] != "User updated successfully" {
		t.Fatalf("update: %d %v", w.Code, body)
	}
	w, body = doJSON(t, router, http.MethodGet, path, token, nil)
	if body["name"] != "X" || body["email"] != "bob@example.com" || body["team"] != "core" {
		t.Errorf("merge lost fields: %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if rec.Code != http.StatusOK || len(list) != 2 {
		t.Fatalf("list: %d %d", rec.Code, len(list))
	}
	for _, u := range list {
		if _, leaked := u["password"]; leaked {
			t.Error("list must not expose password hashes")
		}
	}

	w, body = doJSON(t, router, http.MethodDelete, path, token, nil)
	if w.Code != http.StatusOK || body["message"] != "User deleted successfully" {
		t.Fatalf("delete: %d %v", w.Code, body)
	}
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		w, body = doJSON(t, router, method, path, token, gin.H{"name": "Y"})
		if w.Code != http.StatusNotFound || body["message"] != "User not found" {
			t.Errorf("%s after delete: %d %v", method, w.Code, body)
		}
	}

	w, _ = doJSON(t, router, http.MethodGet, "/users/abc", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("non numeric id: %d", w.Code)
	}
}

func TestCORSPreflightAndRequestID(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/users", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("X-Request-ID") != "abc-123" {
		t.Errorf("health: %d request id %q", w.Code, w.Header().Get("X-Request-ID"))
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":              "",
		"Bearer":        "",
		"Bearer abc":    "abc",
		"bearer abc":    "abc",
		"Basic abc":     "",
		"  Bearer  abc": "abc",
	}
	for header, want := range tests {
		if got := bearerToken(header); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
