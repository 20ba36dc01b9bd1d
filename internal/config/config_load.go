package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8888,
		},
		Auth: AuthConfig{
			UsersFile:            "users.json",
			CleanupIntervalSec:   60,
			InactivityTimeoutSec: 3600,
			DownloadValiditySec:  3600,
			LoginRatePerMin:      30,
			LoginBurst:           10,
		},
		Roots: RootsConfig{
			Projects:     "data/projects",
			Specs:        "data/specs",
			Management:   "data/management",
			Conversation: "data/conversations",
			Templates:    "data/templates",
		},
		Index: IndexConfig{
			StorePath:    "data/index.db",
			CooldownSec:  2,
			RescanOnBoot: true,
			ScanCron:     "30 2 * * *",
			SpecDirs:     FlexibleStringSlice{"电气", "二次", "水工", "机务", "通信"},
		},
		Chat: ChatConfig{
			ContextWindow: 64000,
			MaxToolDepth:  5,
		},
		OpenAI: OpenAIConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o",
		},
		KB: KBConfig{
			TopK: 5,
		},
		Viewer: ViewerConfig{
			HTTPTimeoutSec: 30,
		},
		Editor: EditorConfig{
			JWTEnable: true,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Secrets are env-only.
	envStr("DOCCHAT_SESSION_SECRET", &c.Auth.SessionSecret)
	envStr("DOCCHAT_OPENAI_API_KEY", &c.OpenAI.APIKey)
	envStr("DOCCHAT_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	envStr("DOCCHAT_KB_API_KEY", &c.KB.APIKey)
	envStr("DOCCHAT_ONLYOFFICE_JWT_SECRET", &c.Editor.JWTSecret)
	envStr("DOCCHAT_UPSTREAM_API_KEY", &c.Upstream.APIKey)

	envStr("DOCCHAT_HOST", &c.Server.Host)
	envInt("DOCCHAT_PORT", &c.Server.Port)

	envStr("DOCCHAT_PROJECTS_ROOT", &c.Roots.Projects)
	envStr("DOCCHAT_SPECS_ROOT", &c.Roots.Specs)
	envStr("DOCCHAT_MANAGEMENT_ROOT", &c.Roots.Management)
	envStr("DOCCHAT_CONVERSATION_ROOT", &c.Roots.Conversation)
	envStr("DOCCHAT_TEMPLATES_ROOT", &c.Roots.Templates)

	envStr("DOCCHAT_INDEX_STORE", &c.Index.StorePath)
	envInt("DOCCHAT_INDEX_COOLDOWN_SEC", &c.Index.CooldownSec)

	envStr("DOCCHAT_OPENAI_API_BASE", &c.OpenAI.APIBase)
	envStr("DOCCHAT_OPENAI_MODEL", &c.OpenAI.Model)
	envStr("DOCCHAT_EMBEDDING_URL", &c.Embedding.URL)
	envStr("DOCCHAT_EMBEDDING_MODEL", &c.Embedding.Model)
	envStr("DOCCHAT_KB_URL", &c.KB.URL)
	envStr("DOCCHAT_VIEWER_BASE_URL", &c.Viewer.BaseURL)
	envStr("DOCCHAT_UPSTREAM_AGENT_URL", &c.Upstream.AgentURL)

	envStr("DOCCHAT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("DOCCHAT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("DOCCHAT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("DOCCHAT_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	envBool("DOCCHAT_DEBUG_SESSION_STATES", &c.Debug.SessionStates)
}

// Save writes the config to a JSON file. Secret fields are json:"-"
// and never persist.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
