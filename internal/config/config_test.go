package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("default port = %d, want 8888", cfg.Server.Port)
	}
	if cfg.Index.CooldownSec != 2 {
		t.Errorf("default cooldown = %d, want 2", cfg.Index.CooldownSec)
	}
	if !cfg.Index.RescanOnBoot {
		t.Error("rescan_on_boot should default to true")
	}
}

func TestLoadJSON5AndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{
		// comments are allowed
		server: { host: "127.0.0.1", port: 9000 },
		index: { cooldown_sec: 5, spec_dirs: ["电气", 42] },
	}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DOCCHAT_OPENAI_API_KEY", "sk-test")
	t.Setenv("DOCCHAT_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("env should win over file: port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("api key not picked up from env")
	}
	if got := []string(cfg.Index.SpecDirs); len(got) != 2 || got[1] != "42" {
		t.Errorf("flexible slice = %v", got)
	}
}

func TestSaveOmitsSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	cfg := Default()
	cfg.OpenAI.APIKey = "sk-secret"
	cfg.Auth.SessionSecret = "hush"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, leak := range []string{"sk-secret", "hush"} {
		if strings.Contains(string(data), leak) {
			t.Errorf("secret %q leaked into saved config", leak)
		}
	}
}

func TestSearchableExts(t *testing.T) {
	cases := []struct {
		ext        string
		searchable bool
		indexable  bool
	}{
		{"pdf", true, true},
		{"md", true, true},
		{"png", false, true},
		{"exe", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.ext, func(t *testing.T) {
			if got := IsSearchableDocExt(tc.ext); got != tc.searchable {
				t.Errorf("IsSearchableDocExt(%q) = %v, want %v", tc.ext, got, tc.searchable)
			}
			if got := IsIndexableSpecExt(tc.ext); got != tc.indexable {
				t.Errorf("IsIndexableSpecExt(%q) = %v, want %v", tc.ext, got, tc.indexable)
			}
		})
	}
}
