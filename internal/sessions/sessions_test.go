package sessions

import (
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu     sync.Mutex
	events []interface{}
	closed bool
	code   int
	reason string
}

func (f *fakeSink) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, v)
	return nil
}

func (f *fakeSink) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}

func newTestManager(idle, validity time.Duration) *Manager {
	return NewManager(map[string]string{
		"项目文件": "/data/projects",
		"规范文件": "/data/specs",
	}, idle, validity)
}

func TestAttemptLoginExclusive(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)

	if !m.AttemptLogin("alice", "1.2.3.4", "sid-1") {
		t.Fatal("first login rejected")
	}
	if m.AttemptLogin("alice", "5.6.7.8", "sid-2") {
		t.Error("second login should be rejected while session is active")
	}
	if !m.AttemptLogin("bob", "5.6.7.8", "sid-3") {
		t.Error("unrelated user blocked")
	}
}

func TestAttemptLoginAfterIdleExpiry(t *testing.T) {
	m := newTestManager(10*time.Millisecond, time.Hour)
	if !m.AttemptLogin("alice", "ip", "sid-1") {
		t.Fatal("first login rejected")
	}
	time.Sleep(20 * time.Millisecond)
	if !m.AttemptLogin("alice", "ip", "sid-2") {
		t.Error("login after idle expiry should replace the stale session")
	}
	if id, _ := m.SessionID("alice"); id != "sid-2" {
		t.Errorf("session id = %q, want sid-2", id)
	}
}

func TestConnectWebSocketValidatesSessionID(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)
	m.AttemptLogin("alice", "ip", "sid-1")

	bad := &fakeSink{}
	if m.ConnectWebSocket(bad, "alice", "wrong") {
		t.Error("attach with wrong session id accepted")
	}
	if !bad.closed || bad.code != 1008 {
		t.Errorf("bad attach close = (%v, %d), want (true, 1008)", bad.closed, bad.code)
	}

	good := &fakeSink{}
	if !m.ConnectWebSocket(good, "alice", "sid-1") {
		t.Error("valid attach rejected")
	}
}

func TestUpdateOpenedFilePushesEvent(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)
	m.AttemptLogin("alice", "ip", "sid-1")
	sink := &fakeSink{}
	m.ConnectWebSocket(sink, "alice", "sid-1")

	entry := m.UpdateOpenedFile("alice", "2024/p/送审/报告.docx", true, "项目文件")
	if entry == nil {
		t.Fatal("no entry returned")
	}
	if len(entry.Token) != 32 {
		t.Errorf("token length = %d, want 32 hex chars", len(entry.Token))
	}
	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want file_open_request", len(sink.events))
	}
	ev := sink.events[0].(map[string]interface{})
	if ev["type"] != "file_open_request" {
		t.Fatalf("unexpected event: %v", ev)
	}
	payload, ok := ev["payload"].(map[string]interface{})
	if !ok {
		t.Fatalf("event has no payload object: %v", ev)
	}
	if payload["download_token"] != entry.Token {
		t.Errorf("download_token = %v, want %s", payload["download_token"], entry.Token)
	}
	if payload["filename"] != "2024/p/送审/报告.docx" {
		t.Errorf("filename = %v", payload["filename"])
	}
	if payload["format"] != "docx" {
		t.Errorf("format = %v, want docx", payload["format"])
	}
}

func TestUpdateOpenedDirPushesEvent(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)
	m.AttemptLogin("alice", "ip", "sid-1")
	sink := &fakeSink{}
	m.ConnectWebSocket(sink, "alice", "sid-1")

	dir := m.UpdateOpenedDir("alice", "2024/城东变电站", "项目文件", []string{"2024/城东变电站/送审/说明.PDF"})
	if dir == nil {
		t.Fatal("no dir entry returned")
	}
	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want directory_update", len(sink.events))
	}
	ev := sink.events[0].(map[string]interface{})
	if ev["type"] != "directory_update" {
		t.Fatalf("unexpected event: %v", ev)
	}
	payload, ok := ev["payload"].(map[string]interface{})
	if !ok {
		t.Fatalf("event has no payload object: %v", ev)
	}
	if payload["directory"] != "2024/城东变电站" || payload["directory_token"] != dir.Token {
		t.Errorf("directory fields = %v / %v", payload["directory"], payload["directory_token"])
	}
	files, ok := payload["files"].([]map[string]interface{})
	if !ok || len(files) != 1 {
		t.Fatalf("files payload = %v", payload["files"])
	}
	f := files[0]
	if f["filename"] != "说明.PDF" || f["file_path"] != "2024/城东变电站/送审/说明.PDF" {
		t.Errorf("file identity = %v / %v", f["filename"], f["file_path"])
	}
	if f["download_token"] != dir.Files[0].Token {
		t.Errorf("download_token = %v, want %s", f["download_token"], dir.Files[0].Token)
	}
	if f["format"] != "pdf" {
		t.Errorf("format = %v, want pdf", f["format"])
	}
}

func TestUpdateOpenedDirReplaces(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)
	m.AttemptLogin("alice", "ip", "sid-1")

	first := m.UpdateOpenedDir("alice", "2024/老项目", "项目文件", []string{"2024/老项目/送审/a.docx"})
	second := m.UpdateOpenedDir("alice", "2024/新项目", "项目文件", []string{"2024/新项目/送审/b.docx"})
	if second == nil {
		t.Fatal("no dir entry")
	}
	if dir, _ := m.WorkingDirPath("alice"); dir != "2024/新项目" {
		t.Errorf("working dir = %q", dir)
	}
	// Tokens of the replaced directory no longer resolve.
	if _, ok := m.GetDownloadableFileInfo(first.Files[0].Token); ok {
		t.Error("token from replaced working directory still resolves")
	}
	if _, ok := m.GetDownloadableFileInfo(second.Files[0].Token); !ok {
		t.Error("current working directory token does not resolve")
	}
}

func TestGetDownloadableFileInfo(t *testing.T) {
	m := newTestManager(time.Hour, 50*time.Millisecond)
	m.AttemptLogin("alice", "ip", "sid-1")

	entry := m.UpdateOpenedFile("alice", "电气/GB 50217-2018.pdf", false, "规范文件")
	info, ok := m.GetDownloadableFileInfo(entry.Token)
	if !ok {
		t.Fatal("fresh token did not resolve")
	}
	if info.AbsolutePath != "/data/specs/电气/GB 50217-2018.pdf" {
		t.Errorf("absolute path = %q", info.AbsolutePath)
	}
	if info.FileName != "GB 50217-2018.pdf" {
		t.Errorf("file name = %q", info.FileName)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := m.GetDownloadableFileInfo(entry.Token); ok {
		t.Error("expired token still resolves")
	}
}

func TestCleanupExpiredOpenedFiles(t *testing.T) {
	m := newTestManager(time.Hour, 10*time.Millisecond)
	m.AttemptLogin("alice", "ip", "sid-1")
	m.UpdateOpenedFile("alice", "a.pdf", false, "规范文件")
	m.UpdateOpenedDir("alice", "d", "项目文件", []string{"d/x.docx"})

	time.Sleep(20 * time.Millisecond)
	m.CleanupExpiredOpenedFiles()

	states := m.Snapshot()
	if len(states) != 1 {
		t.Fatalf("got %d sessions", len(states))
	}
	if states[0].WorkingFiles != 0 || states[0].WorkingDirectory != "" {
		t.Errorf("expired entries survived cleanup: %+v", states[0])
	}
}

func TestProcessInactiveSessions(t *testing.T) {
	m := newTestManager(10*time.Millisecond, time.Hour)
	m.AttemptLogin("alice", "ip", "sid-1")
	sink := &fakeSink{}
	m.ConnectWebSocket(sink, "alice", "sid-1")

	time.Sleep(20 * time.Millisecond)
	m.ProcessInactiveSessions()

	if len(m.Snapshot()) != 0 {
		t.Error("idle session not evicted")
	}
	if !sink.closed || sink.code != 1001 {
		t.Errorf("close = (%v, %d), want (true, 1001)", sink.closed, sink.code)
	}
}

func TestRegisterEditingFileSharesKey(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)
	m.AttemptLogin("alice", "ip", "sid-1")
	m.AttemptLogin("bob", "ip", "sid-2")

	uid1, key1 := m.RegisterEditingFile("alice", "2024/p/送审/报告.docx", "项目文件")
	uid2, key2 := m.RegisterEditingFile("bob", "2024/p/送审/报告.docx", "项目文件")
	if key1 != key2 {
		t.Error("collaborators on the same file got different keys")
	}
	if uid1 == uid2 {
		t.Error("collaborators share a user id")
	}

	path, docType, ok := m.GetEditingFile(key1)
	if !ok || path != "2024/p/送审/报告.docx" || docType != "项目文件" {
		t.Errorf("GetEditingFile = (%q, %q, %v)", path, docType, ok)
	}

	m.RemoveEditingFile(key1)
	if _, _, ok := m.GetEditingFile(key1); ok {
		t.Error("key still resolves after removal")
	}
}

func TestLogoutClosesAttachedConnection(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)
	m.AttemptLogin("alice", "ip", "sid-1")
	sink := &fakeSink{}
	m.ConnectWebSocket(sink, "alice", "sid-1")

	m.Logout("alice")
	if !sink.closed || sink.code != 1000 {
		t.Errorf("close = (%v, %d), want (true, 1000)", sink.closed, sink.code)
	}
	if _, ok := m.SessionID("alice"); ok {
		t.Error("session survived logout")
	}
}
