package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the docchat server.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Roots     RootsConfig     `json:"roots"`
	Index     IndexConfig     `json:"index"`
	Chat      ChatConfig      `json:"chat"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Embedding EmbeddingConfig `json:"embedding"`
	KB        KBConfig        `json:"kb,omitempty"`
	Viewer    ViewerConfig    `json:"viewer,omitempty"`
	Editor    EditorConfig    `json:"editor,omitempty"`
	Upstream  UpstreamConfig  `json:"upstream,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
	mu        sync.RWMutex
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// AuthConfig configures login, cookie sessions and idle eviction.
// SessionSecret is NEVER read from the config file — env DOCCHAT_SESSION_SECRET only.
type AuthConfig struct {
	UsersFile              string  `json:"users_file"`            // JSON map username -> bcrypt hash
	SessionSecret          string  `json:"-"`                     // from env DOCCHAT_SESSION_SECRET only
	CleanupIntervalSec     int     `json:"cleanup_interval_sec"`  // idle sweep cadence
	InactivityTimeoutSec   int     `json:"inactivity_timeout_sec"`
	DownloadValiditySec    int     `json:"download_validity_sec"` // lifetime of file tokens
	LoginRatePerMin        float64 `json:"login_rate_per_min"`
	LoginBurst             int     `json:"login_burst"`
}

// RootsConfig holds the three watched document trees plus auxiliary dirs.
type RootsConfig struct {
	Projects     string `json:"projects"`
	Specs        string `json:"specs"`
	Management   string `json:"management"`
	Conversation string `json:"conversation"` // chat history dumps
	Templates    string `json:"templates"`    // review-doc templates
}

// IndexConfig configures the document index service.
type IndexConfig struct {
	StorePath    string              `json:"store_path"`
	CooldownSec  int                 `json:"cooldown_sec"` // watcher debounce quiet period
	RescanOnBoot bool                `json:"rescan_on_boot"`
	ScanCron     string              `json:"scan_cron"` // nightly full-scan schedule
	SpecDirs     FlexibleStringSlice `json:"spec_dirs"` // allowed spec categories
	AllowedExts  FlexibleStringSlice `json:"allowed_exts,omitempty"`
}

// ChatConfig configures the tool-calling chat loop.
type ChatConfig struct {
	SystemPrompt  string `json:"system_prompt"`
	ContextWindow int    `json:"context_window"` // char budget for tool file reads
	MaxToolDepth  int    `json:"max_tool_depth"`
}

// OpenAIConfig configures the OpenAI-compatible upstream.
// APIKey from env DOCCHAT_OPENAI_API_KEY only.
type OpenAIConfig struct {
	APIBase string `json:"api_base"`
	APIKey  string `json:"-"`
	Model   string `json:"model"`
}

// EmbeddingConfig configures the embedding service used for ranking.
type EmbeddingConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"-"` // env DOCCHAT_EMBEDDING_API_KEY
	Model  string `json:"model"`
}

// KBConfig configures the external knowledge-base service.
type KBConfig struct {
	URL          string `json:"url"`
	APIKey       string `json:"-"` // env DOCCHAT_KB_API_KEY
	TopK         int    `json:"top_k"`
	RerankEnable bool   `json:"rerank_enable"`
	RerankModel  string `json:"rerank_model,omitempty"`
}

// ViewerConfig configures the kkFileView preview proxy.
type ViewerConfig struct {
	BaseURL        string `json:"base_url"`
	HTTPTimeoutSec int    `json:"http_timeout_sec"`
}

// EditorConfig configures the OnlyOffice editor bridge.
// JWTSecret from env DOCCHAT_ONLYOFFICE_JWT_SECRET only.
type EditorConfig struct {
	JWTSecret     string `json:"-"`
	JWTEnable     bool   `json:"jwt_enable"`
	APIScriptURL  string `json:"api_script_url"`  // documentserver api.js
	PublicBaseURL string `json:"public_base_url"` // how the editor container reaches us
}

// UpstreamConfig configures the legacy Dify-style SSE bridge.
type UpstreamConfig struct {
	AgentURL string `json:"agent_url,omitempty"`
	APIKey   string `json:"-"` // env DOCCHAT_UPSTREAM_API_KEY
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// DebugConfig gates diagnostics surfaces that must stay off in production.
type DebugConfig struct {
	SessionStates bool `json:"session_states,omitempty"`
}

// SearchableDocExts are the extensions a spec entry is considered readable text for.
var SearchableDocExts = []string{"pdf", "md", "docx", "txt", "ofd", "ceb"}

// IndexableSpecExts additionally admits image assets referenced by spec markdown.
var IndexableSpecExts = append(append([]string{}, SearchableDocExts...), "jpeg", "jpg", "png")

// IsSearchableDocExt reports whether ext (lowercase, no dot) is a readable doc type.
func IsSearchableDocExt(ext string) bool {
	for _, e := range SearchableDocExts {
		if e == ext {
			return true
		}
	}
	return false
}

// IsIndexableSpecExt reports whether ext may be recorded in the spec index at all.
func IsIndexableSpecExt(ext string) bool {
	for _, e := range IndexableSpecExts {
		if e == ext {
			return true
		}
	}
	return false
}
