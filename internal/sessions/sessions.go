// Package sessions tracks logged-in users: their WebSocket attachment,
// working files with download tokens, working directory and collaborative
// editing state. One mutex guards the whole map; every public method locks
// on entry.
package sessions

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventSink is the write side of a client connection. The session manager
// only pushes JSON events and closes; it never reads.
type EventSink interface {
	Send(v interface{}) error
	Close(code int, reason string) error
}

// FileEntry is one tokenized working file of a session.
type FileEntry struct {
	Token        string    `json:"token"`
	RelPath      string    `json:"rel_path"`
	FileName     string    `json:"file_name"`
	DocType      string    `json:"document_type"`
	OpenedByLLM  bool      `json:"opened_by_llm"`
	ExpiresAt    time.Time `json:"expires_at"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DirEntry is the session's working directory: one directory token plus a
// token per contained file. Updates replace the whole entry.
type DirEntry struct {
	Token     string      `json:"token"`
	DirPath   string      `json:"dir_path"`
	Files     []FileEntry `json:"files"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// EditingFile records a collaborative edit in progress.
type EditingFile struct {
	FileKey  string `json:"file_key"`
	UserID   string `json:"user_id"`
	FilePath string `json:"file_path"`
	DocType  string `json:"document_type"`
}

// UserSession is the per-user record. All fields are guarded by the
// manager's mutex.
type UserSession struct {
	Username         string
	SessionID        string
	IP               string
	LoginAt          time.Time
	LastHTTPActivity time.Time
	LastWSActivity   time.Time

	sink        EventSink
	wsConnected bool

	WorkingFiles     []FileEntry
	WorkingDirectory *DirEntry
	Editing          *EditingFile
}

// DownloadableFile is the resolution of a download token.
type DownloadableFile struct {
	Token        string
	RelPath      string
	FileName     string
	DocType      string
	AbsolutePath string
	ExpiresAt    time.Time
}

// Manager owns every UserSession.
type Manager struct {
	mu       sync.Mutex
	users    map[string]*UserSession
	roots    map[string]string
	idle     time.Duration
	validity time.Duration
	log      *slog.Logger
}

// NewManager creates a Manager. roots maps document type names to absolute
// root directories, idle is the overall idle timeout and validity the
// download-link lifetime.
func NewManager(roots map[string]string, idle, validity time.Duration) *Manager {
	return &Manager{
		users:    make(map[string]*UserSession),
		roots:    roots,
		idle:     idle,
		validity: validity,
		log:      slog.With("component", "sessions"),
	}
}

// newToken returns a fresh 32-hex capability token.
func newToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// fileFormat is the lowercase extension pushed to the front-end; files
// without one are treated as plain text.
func fileFormat(name string) string {
	base := filepath.Base(name)
	if i := strings.LastIndex(base, "."); i >= 0 && i < len(base)-1 {
		return strings.ToLower(base[i+1:])
	}
	return "txt"
}

// AttemptLogin enforces exclusive login: it fails while another live
// session for username exists, otherwise it installs a fresh session.
func (m *Manager) AttemptLogin(username, ip, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.users[username]; ok {
		if time.Since(s.LastHTTPActivity) < m.idle {
			m.log.Info("login rejected, session active", "user", username, "ip", ip)
			return false
		}
	}
	now := time.Now()
	m.users[username] = &UserSession{
		Username:         username,
		SessionID:        sessionID,
		IP:               ip,
		LoginAt:          now,
		LastHTTPActivity: now,
		LastWSActivity:   now,
	}
	m.log.Info("login", "user", username, "ip", ip)
	return true
}

// Logout drops the session, closing any attached connection normally.
func (m *Manager) Logout(username string) {
	m.mu.Lock()
	s, ok := m.users[username]
	delete(m.users, username)
	m.mu.Unlock()

	if ok && s.sink != nil {
		// Best effort; the client may already be gone.
		_ = s.sink.Close(1000, "logout")
	}
	if ok {
		m.log.Info("logout", "user", username)
	}
}

// ConnectWebSocket attaches sink to the session identified by sessionID.
// A stale or unknown sessionID closes the sink with policy violation.
// Verification happens under the lock so an idle sweep cannot race the
// attach.
func (m *Manager) ConnectWebSocket(sink EventSink, username, sessionID string) bool {
	m.mu.Lock()
	s, ok := m.users[username]
	if !ok || s.SessionID != sessionID {
		m.mu.Unlock()
		_ = sink.Close(1008, "Invalid session")
		return false
	}
	s.sink = sink
	s.wsConnected = true
	s.LastWSActivity = time.Now()
	m.mu.Unlock()
	m.log.Info("websocket attached", "user", username)
	return true
}

// DisconnectWebSocket detaches sink if it is still the session's current one.
func (m *Manager) DisconnectWebSocket(username string, sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.users[username]; ok && s.sink == sink {
		s.sink = nil
		s.wsConnected = false
	}
}

// SetHTTPActivity stamps the idle clock for username.
func (m *Manager) SetHTTPActivity(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.users[username]; ok {
		s.LastHTTPActivity = time.Now()
	}
}

// Verify reports whether username holds a live session with sessionID.
func (m *Manager) Verify(username, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.users[username]
	if !ok || s.SessionID != sessionID {
		return false
	}
	return time.Since(s.LastHTTPActivity) < m.idle
}

// SessionID returns the live session id for username.
func (m *Manager) SessionID(username string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.users[username]; ok {
		return s.SessionID, true
	}
	return "", false
}

// UpdateOpenedFile appends a tokenized working file and pushes a
// file_open_request event to the attached connection. Returns nil when the
// user has no session.
func (m *Manager) UpdateOpenedFile(username, relPath string, openedByLLM bool, docType string) *FileEntry {
	m.mu.Lock()
	s, ok := m.users[username]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	now := time.Now()
	entry := FileEntry{
		Token:        newToken(),
		RelPath:      relPath,
		FileName:     filepath.Base(relPath),
		DocType:      docType,
		OpenedByLLM:  openedByLLM,
		ExpiresAt:    now.Add(m.validity),
		RegisteredAt: now,
	}
	s.WorkingFiles = append(s.WorkingFiles, entry)
	sink := s.sink
	m.mu.Unlock()

	if sink != nil {
		ev := map[string]interface{}{
			"type": "file_open_request",
			"payload": map[string]interface{}{
				"filename":       entry.RelPath,
				"download_token": entry.Token,
				"format":         fileFormat(entry.RelPath),
			},
		}
		if err := sink.Send(ev); err != nil {
			m.log.Warn("push file_open_request failed", "user", username, "error", err)
		}
	}
	return &entry
}

// UpdateOpenedDir replaces the session's working directory with dirPath and
// the given files, each freshly tokenized, and pushes a directory_update
// event listing them.
func (m *Manager) UpdateOpenedDir(username, dirPath, docType string, files []string) *DirEntry {
	m.mu.Lock()
	s, ok := m.users[username]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	now := time.Now()
	expires := now.Add(m.validity)
	entries := make([]FileEntry, 0, len(files))
	for _, rel := range files {
		entries = append(entries, FileEntry{
			Token:        newToken(),
			RelPath:      rel,
			FileName:     filepath.Base(rel),
			DocType:      docType,
			ExpiresAt:    expires,
			RegisteredAt: now,
		})
	}
	dir := &DirEntry{
		Token:     newToken(),
		DirPath:   dirPath,
		Files:     entries,
		ExpiresAt: expires,
	}
	s.WorkingDirectory = dir
	sink := s.sink
	m.mu.Unlock()

	if sink != nil {
		fileList := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			fileList = append(fileList, map[string]interface{}{
				"filename":       e.FileName,
				"file_path":      e.RelPath,
				"download_token": e.Token,
				"format":         fileFormat(e.FileName),
			})
		}
		ev := map[string]interface{}{
			"type": "directory_update",
			"payload": map[string]interface{}{
				"directory":       dirPath,
				"directory_token": dir.Token,
				"files":           fileList,
			},
		}
		if err := sink.Send(ev); err != nil {
			m.log.Warn("push directory_update failed", "user", username, "error", err)
		}
	}
	return dir
}

// ClearWorkingDirectory drops the session's working directory.
func (m *Manager) ClearWorkingDirectory(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.users[username]; ok {
		s.WorkingDirectory = nil
	}
}

// WorkingDirPath returns the session's current working directory path.
func (m *Manager) WorkingDirPath(username string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.users[username]; ok && s.WorkingDirectory != nil {
		return s.WorkingDirectory.DirPath, true
	}
	return "", false
}

// RegisterEditingFile joins username into a collaborative edit of filePath.
// Sessions already editing the same path share the file key; the user id
// is fresh per call so collaborators stay distinguishable.
func (m *Manager) RegisterEditingFile(username, filePath, docType string) (userID, fileKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.users {
		if s.Editing != nil && s.Editing.FilePath == filePath {
			fileKey = s.Editing.FileKey
			break
		}
	}
	if fileKey == "" {
		fileKey = newToken()
	}
	userID = newToken()

	if s, ok := m.users[username]; ok {
		s.Editing = &EditingFile{
			FileKey:  fileKey,
			UserID:   userID,
			FilePath: filePath,
			DocType:  docType,
		}
	}
	return userID, fileKey
}

// GetEditingFile resolves fileKey to the path being edited.
func (m *Manager) GetEditingFile(fileKey string) (filePath, docType string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.users {
		if s.Editing != nil && s.Editing.FileKey == fileKey {
			return s.Editing.FilePath, s.Editing.DocType, true
		}
	}
	return "", "", false
}

// RemoveEditingFile clears the edit state on every session holding fileKey.
func (m *Manager) RemoveEditingFile(fileKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.users {
		if s.Editing != nil && s.Editing.FileKey == fileKey {
			s.Editing = nil
		}
	}
}

// GetDownloadableFileInfo resolves a download token across every session's
// working files and working directory. Expired entries do not resolve.
func (m *Manager) GetDownloadableFileInfo(token string) (*DownloadableFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, s := range m.users {
		for _, e := range s.WorkingFiles {
			if e.Token == token {
				return m.resolveLocked(e, now)
			}
		}
		if s.WorkingDirectory != nil {
			for _, e := range s.WorkingDirectory.Files {
				if e.Token == token {
					return m.resolveLocked(e, now)
				}
			}
		}
	}
	return nil, false
}

func (m *Manager) resolveLocked(e FileEntry, now time.Time) (*DownloadableFile, bool) {
	if !now.Before(e.ExpiresAt) {
		return nil, false
	}
	root, ok := m.roots[e.DocType]
	if !ok {
		return nil, false
	}
	return &DownloadableFile{
		Token:        e.Token,
		RelPath:      e.RelPath,
		FileName:     e.FileName,
		DocType:      e.DocType,
		AbsolutePath: filepath.Join(root, filepath.FromSlash(e.RelPath)),
		ExpiresAt:    e.ExpiresAt,
	}, true
}

// CleanupExpiredOpenedFiles drops expired working files and working
// directories across all sessions.
func (m *Manager) CleanupExpiredOpenedFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, s := range m.users {
		kept := s.WorkingFiles[:0]
		for _, e := range s.WorkingFiles {
			if now.Before(e.ExpiresAt) {
				kept = append(kept, e)
			}
		}
		if dropped := len(s.WorkingFiles) - len(kept); dropped > 0 {
			m.log.Debug("expired working files dropped", "user", s.Username, "count", dropped)
		}
		s.WorkingFiles = kept
		if s.WorkingDirectory != nil && !now.Before(s.WorkingDirectory.ExpiresAt) {
			s.WorkingDirectory = nil
		}
	}
}

// ProcessInactiveSessions evicts every session idle past the timeout,
// closing attached connections with going-away.
func (m *Manager) ProcessInactiveSessions() {
	m.mu.Lock()
	var evicted []*UserSession
	for name, s := range m.users {
		if time.Since(s.LastHTTPActivity) >= m.idle {
			delete(m.users, name)
			evicted = append(evicted, s)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		if s.sink != nil {
			_ = s.sink.Close(1001, "session timeout")
		}
		m.log.Info("session evicted for inactivity", "user", s.Username)
	}
}

// SessionState is the diagnostic view of one session.
type SessionState struct {
	Username         string    `json:"username"`
	SessionID        string    `json:"session_id"`
	IP               string    `json:"ip"`
	LoginAt          time.Time `json:"login_at"`
	LastHTTPActivity time.Time `json:"last_http_activity"`
	WSConnected      bool      `json:"ws_connected"`
	WorkingFiles     int       `json:"working_files"`
	WorkingDirectory string    `json:"working_directory,omitempty"`
	EditingFile      string    `json:"editing_file,omitempty"`
}

// Snapshot returns a diagnostic copy of every session.
func (m *Manager) Snapshot() []SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]SessionState, 0, len(m.users))
	for _, s := range m.users {
		st := SessionState{
			Username:         s.Username,
			SessionID:        s.SessionID,
			IP:               s.IP,
			LoginAt:          s.LoginAt,
			LastHTTPActivity: s.LastHTTPActivity,
			WSConnected:      s.wsConnected,
			WorkingFiles:     len(s.WorkingFiles),
		}
		if s.WorkingDirectory != nil {
			st.WorkingDirectory = s.WorkingDirectory.DirPath
		}
		if s.Editing != nil {
			st.EditingFile = s.Editing.FilePath
		}
		states = append(states, st)
	}
	return states
}
