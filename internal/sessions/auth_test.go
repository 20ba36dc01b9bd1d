package sessions

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestAuth(t *testing.T, mgr *Manager) *TokenAuth {
	t.Helper()
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	usersFile := filepath.Join(t.TempDir(), "users.json")
	if err := SaveUsers(usersFile, map[string]string{"alice": hash}); err != nil {
		t.Fatal(err)
	}
	auth, err := NewTokenAuth([]byte("0123456789abcdef0123456789abcdef"), usersFile, mgr, 600, 100)
	if err != nil {
		t.Fatal(err)
	}
	return auth
}

func TestCheckCredentials(t *testing.T) {
	auth := newTestAuth(t, newTestManager(time.Hour, time.Hour))

	if !auth.CheckCredentials("alice", "secret") {
		t.Error("valid credentials rejected")
	}
	if auth.CheckCredentials("alice", "wrong") {
		t.Error("wrong password accepted")
	}
	if auth.CheckCredentials("mallory", "secret") {
		t.Error("unknown user accepted")
	}
}

func TestLoadUsersMissingFile(t *testing.T) {
	users, err := LoadUsers(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("got %d users", len(users))
	}
}

func TestLoadUsersBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	os.WriteFile(path, []byte("not json"), 0600)
	if _, err := LoadUsers(path); err == nil {
		t.Error("malformed users file accepted")
	}
}

func TestRequireActiveSession(t *testing.T) {
	mgr := newTestManager(time.Hour, time.Hour)
	auth := newTestAuth(t, mgr)

	handler := auth.RequireActiveSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFrom(r)
		w.Write([]byte(user))
	}))

	// No cookie at all.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous request: status = %d", rec.Code)
	}

	// Acquire a cookie the way the login handler would.
	mgr.AttemptLogin("alice", "ip", "sid-1")
	loginRec := httptest.NewRecorder()
	if err := auth.SetLogin(loginRec, httptest.NewRequest("POST", "/login", nil), "alice", "sid-1"); err != nil {
		t.Fatal(err)
	}
	cookies := loginRec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie set")
	}

	req := httptest.NewRequest("GET", "/api/x", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Errorf("authenticated request: status = %d, body = %q", rec.Code, rec.Body.String())
	}

	// The same cookie turns into a conflict once a new login replaces the
	// session id.
	mgr.Logout("alice")
	mgr.AttemptLogin("alice", "ip", "sid-2")
	rec = httptest.NewRecorder()
	req2 := httptest.NewRequest("GET", "/api/x", nil)
	for _, c := range cookies {
		req2.AddCookie(c)
	}
	handler.ServeHTTP(rec, req2)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("stale session id: status = %d", rec.Code)
	}
}

func TestAllowLoginRateLimit(t *testing.T) {
	mgr := newTestManager(time.Hour, time.Hour)
	hash, _ := HashPassword("x")
	usersFile := filepath.Join(t.TempDir(), "users.json")
	SaveUsers(usersFile, map[string]string{"u": hash})
	auth, err := NewTokenAuth([]byte("0123456789abcdef0123456789abcdef"), usersFile, mgr, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	if !auth.AllowLogin("9.9.9.9:1234") || !auth.AllowLogin("9.9.9.9:1234") {
		t.Fatal("burst should admit the first attempts")
	}
	if auth.AllowLogin("9.9.9.9:1234") {
		t.Error("attempt over burst admitted")
	}
	if !auth.AllowLogin("8.8.8.8:1234") {
		t.Error("limiter leaked across IPs")
	}
}
