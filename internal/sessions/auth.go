package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	gsessions "github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	cookieName   = "docchat_session"
	keyUser      = "user"
	keySessionID = "session_id"
)

type ctxKey int

const userKey ctxKey = 0

// TokenAuth verifies credentials against a bcrypt users file and carries
// identity in a signed cookie session. Login attempts are rate limited
// per client IP.
type TokenAuth struct {
	store *gsessions.CookieStore
	mgr   *Manager
	log   *slog.Logger

	usersMu sync.RWMutex
	users   map[string]string // username -> bcrypt hash

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
	rateLim  rate.Limit
	burst    int
}

// NewTokenAuth builds a TokenAuth. usersFile is a JSON object mapping
// usernames to bcrypt hashes; loginRatePerMin/burst bound login attempts
// per IP.
func NewTokenAuth(secret []byte, usersFile string, mgr *Manager, loginRatePerMin float64, burst int) (*TokenAuth, error) {
	users, err := LoadUsers(usersFile)
	if err != nil {
		return nil, err
	}
	store := gsessions.NewCookieStore(secret)
	store.Options = &gsessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if burst <= 0 {
		burst = 5
	}
	if loginRatePerMin <= 0 {
		loginRatePerMin = 10
	}
	return &TokenAuth{
		store:    store,
		mgr:      mgr,
		log:      slog.With("component", "auth"),
		users:    users,
		limiters: make(map[string]*rate.Limiter),
		rateLim:  rate.Limit(loginRatePerMin / 60),
		burst:    burst,
	}, nil
}

// LoadUsers reads the username -> bcrypt hash map. A missing file yields
// an empty map so a fresh install can boot before useradd runs.
func LoadUsers(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var users map[string]string
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return users, nil
}

// SaveUsers writes the users map back to path with restricted permissions.
func SaveUsers(path string, users map[string]string) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	return nil
}

// HashPassword produces a bcrypt hash for storage in the users file.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckCredentials verifies username/password against the users file.
func (a *TokenAuth) CheckCredentials(username, password string) bool {
	a.usersMu.RLock()
	hash, ok := a.users[username]
	a.usersMu.RUnlock()
	if !ok {
		// Burn a comparison anyway so presence is not observable by timing.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AllowLogin rate limits login attempts per client IP.
func (a *TokenAuth) AllowLogin(remoteAddr string) bool {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	a.limMu.Lock()
	lim, ok := a.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(a.rateLim, a.burst)
		a.limiters[ip] = lim
	}
	a.limMu.Unlock()
	return lim.Allow()
}

// SetLogin records username and sessionID in the cookie session.
func (a *TokenAuth) SetLogin(w http.ResponseWriter, r *http.Request, username, sessionID string) error {
	sess, _ := a.store.Get(r, cookieName)
	sess.Values[keyUser] = username
	sess.Values[keySessionID] = sessionID
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("save cookie session: %w", err)
	}
	return nil
}

// ClearLogin drops the cookie session.
func (a *TokenAuth) ClearLogin(w http.ResponseWriter, r *http.Request) {
	sess, _ := a.store.Get(r, cookieName)
	sess.Options.MaxAge = -1
	_ = sess.Save(r, w)
}

// CurrentUser extracts the identity carried by the cookie.
func (a *TokenAuth) CurrentUser(r *http.Request) (username, sessionID string, ok bool) {
	sess, err := a.store.Get(r, cookieName)
	if err != nil {
		return "", "", false
	}
	username, uok := sess.Values[keyUser].(string)
	sessionID, sok := sess.Values[keySessionID].(string)
	if !uok || username == "" {
		return "", "", false
	}
	if !sok {
		sessionID = ""
	}
	return username, sessionID, true
}

// UserFrom returns the username stored in the request context by the
// middleware.
func UserFrom(r *http.Request) (string, bool) {
	u, ok := r.Context().Value(userKey).(string)
	return u, ok
}

// RequireUser admits requests carrying any logged-in cookie identity.
func (a *TokenAuth) RequireUser(next http.Handler) http.Handler {
	return a.middleware(next, false)
}

// RequireActiveSession additionally checks the identity against the live
// session manager: the session must exist, its id must match the cookie
// and it must not be idle-expired. Success stamps HTTP activity.
func (a *TokenAuth) RequireActiveSession(next http.Handler) http.Handler {
	return a.middleware(next, true)
}

func (a *TokenAuth) middleware(next http.Handler, strict bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, sessionID, ok := a.CurrentUser(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if strict {
			liveID, exists := a.mgr.SessionID(username)
			if !exists {
				a.ClearLogin(w, r)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if liveID != sessionID {
				a.log.Warn("session conflict", "user", username)
				http.Error(w, "session conflict", http.StatusUnauthorized)
				return
			}
			if !a.mgr.Verify(username, sessionID) {
				a.mgr.Logout(username)
				a.ClearLogin(w, r)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			a.mgr.SetHTTPActivity(username)
		}
		ctx := contextWithUser(r.Context(), username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AddUser inserts or replaces a user in the in-memory map. Persisting is
// the caller's job via SaveUsers.
func (a *TokenAuth) AddUser(username, hash string) {
	a.usersMu.Lock()
	a.users[username] = hash
	a.usersMu.Unlock()
}
