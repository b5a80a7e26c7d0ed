package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/roster/internal/database"
	"github.com/dukerupert/roster/internal/email"
	"github.com/dukerupert/roster/internal/middleware"
	"github.com/dukerupert/roster/internal/qrtoken"
)

func setupServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	signer, err := qrtoken.NewSigner(strings.Repeat("k", 32), 0)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(db, Config{AuthBurst: 2}, email.NewClient("", ""), signer, logger)
	return srv, srv.Router()
}

func sessionCookie(t *testing.T, srv *Server, addr string, admin bool) *http.Cookie {
	t.Helper()
	u, err := srv.UserStore().Create(addr, "Test", "User")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if admin {
		if err := srv.UserStore().SetAdmin(u.ID, true); err != nil {
			t.Fatalf("set admin: %v", err)
		}
	}
	sess, err := srv.SessionStore().Create(u.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &http.Cookie{Name: middleware.SessionCookieName, Value: sess.Token}
}

func serve(h http.Handler, method, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, h := setupServer(t)
	rec := serve(h, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMetricsIsPublic(t *testing.T) {
	_, h := setupServer(t)
	rec := serve(h, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "roster_") {
		t.Error("metrics output has no roster collectors")
	}
}

func TestRouteAccess(t *testing.T) {
	srv, h := setupServer(t)
	member := sessionCookie(t, srv, "member@example.com", false)
	admin := sessionCookie(t, srv, "admin@example.com", true)

	tests := []struct {
		name   string
		method string
		path   string
		cookie *http.Cookie
		want   int
	}{
		{"anonymous profile", "GET", "/api/me", nil, http.StatusUnauthorized},
		{"member profile", "GET", "/api/me", member, http.StatusOK},
		{"member purchasable", "GET", "/api/memberships", member, http.StatusOK},
		{"member admin list", "GET", "/api/admin/members", member, http.StatusForbidden},
		{"admin member list", "GET", "/api/admin/members", admin, http.StatusOK},
		{"admin meetings", "GET", "/api/admin/meetings", admin, http.StatusOK},
		{"admin backup status", "GET", "/api/admin/backup", admin, http.StatusOK},
		{"member websocket", "GET", "/ws", member, http.StatusForbidden},
		{"vapid unconfigured", "GET", "/api/push/vapid-key", member, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.method, tt.path, tt.cookie)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAuthEndpointsAreRateLimited(t *testing.T) {
	_, h := setupServer(t)

	var last int
	for range 3 {
		req := httptest.NewRequest("POST", "/login", strings.NewReader(`{"email":"x@example.com"}`))
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third login = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestOriginHosts(t *testing.T) {
	got := originHosts([]string{"https://admin.example.org", "localhost:5173", "http://127.0.0.1:8080"})
	want := []string{"admin.example.org", "localhost:5173", "127.0.0.1:8080"}
	if len(got) != len(want) {
		t.Fatalf("originHosts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("originHosts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
