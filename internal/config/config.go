package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level gtalk config.
	WorkspaceDirName = ".gtalk"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10

	// DefaultUserAgent is a Windows desktop Chrome string, used on every platform so the
	// fingerprint stays consistent between runs.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up.
	ExplicitDir string
}

// Config captures all tunable settings for gtalk.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Browser    BrowserConfig    `yaml:"browser"`
	Query      QueryConfig      `yaml:"query"`
	Log        LogConfig        `yaml:"log"`
	Transcript TranscriptConfig `yaml:"transcript"`
	MCP        MCPConfig        `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// BrowserConfig configures how Chrome is launched for Rod.
type BrowserConfig struct {
	// Optional Chrome binary. When empty Rod looks up a local install and downloads one as a last resort.
	Bin string `yaml:"bin"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Stealth injects the go-rod/stealth evasion script into new pages (default: true).
	Stealth *bool `yaml:"stealth"`
	// UserAgent is sent both as a launch flag and as a network override.
	UserAgent string `yaml:"user_agent"`
	// Locale pins --lang and the Accept-Language header.
	Locale string `yaml:"locale"`
	// Viewport width for new sessions (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
	// Navigation timeout (e.g., "30s").
	NavigationTimeout string `yaml:"navigation_timeout"`
	// WarmupURL is visited once after launch to establish cookies.
	WarmupURL string `yaml:"warmup_url"`
	// WarmupDelay is the settle time after the warm-up visit. Empty means the platform default.
	WarmupDelay string `yaml:"warmup_delay"`
	// ExtraFlags are appended to the launch command line (e.g., ["proxy-server=socks5://127.0.0.1:9050"]).
	ExtraFlags []string `yaml:"extra_flags"`
}

// QueryConfig tunes the retry loop around one query.
type QueryConfig struct {
	SearchHost string `yaml:"search_host"`
	// MaxRetries bounds additional attempts; total attempts are MaxRetries+1.
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the linear backoff base. Empty means the platform default.
	RetryDelay string `yaml:"retry_delay"`
	// SettleDelay is the fixed wait after navigation. Empty means the platform default.
	SettleDelay   string `yaml:"settle_delay"`
	ContentWait   string `yaml:"content_wait"`
	PostWaitDelay string `yaml:"post_wait_delay"`
	MemoryWords   int    `yaml:"memory_words"`
	// CrashMarkers are lower-case substrings that identify a dead browser in driver errors.
	CrashMarkers []string `yaml:"crash_markers"`
}

type LogConfig struct {
	// Level is one of debug | info | warn | error.
	Level string `yaml:"level"`
	// File receives log output. Empty means stderr.
	File string `yaml:"file"`
}

// TranscriptConfig controls the JSONL query recorder.
type TranscriptConfig struct {
	Enable   bool   `yaml:"enable"`
	Dir      string `yaml:"dir"`
	MaxFiles int    `yaml:"max_files"`
}

type MCPConfig struct {
	// When set, `gtalk serve` hosts SSE on this port instead of stdio.
	SSEPort int `yaml:"sse_port"`
}

// DefaultCrashMarkers match the error text Rod and Chrome produce once the browser process is gone.
var DefaultCrashMarkers = []string{
	"chrome not reachable",
	"use of closed network connection",
	"connection refused",
	"connection reset",
	"websocket: close",
	"target closed",
	"browser has disconnected",
}

// DefaultConfig provides reasonable defaults for interactive use.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "gtalk",
			Version: "0.3.0",
		},
		Browser: BrowserConfig{
			UserAgent:         DefaultUserAgent,
			Locale:            "en-US",
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			NavigationTimeout: "30s",
			WarmupURL:         "https://www.google.com",
		},
		Query: QueryConfig{
			SearchHost:    "www.google.com",
			MaxRetries:    2,
			ContentWait:   "10s",
			PostWaitDelay: "2s",
			MemoryWords:   100,
			CrashMarkers:  append([]string(nil), DefaultCrashMarkers...),
		},
		Log: LogConfig{
			Level: "warn",
		},
		Transcript: TranscriptConfig{
			Enable:   false,
			Dir:      "data/transcripts",
			MaxFiles: 3,
		},
	}
}

// Load reads YAML config from disk and overlays defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .gtalk/config.yaml file.
// Returns the workspace root directory (parent of .gtalk/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .gtalk/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .gtalk/ directory with a commented config template at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "data")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# gtalk project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   headless: false
#   bin: /usr/bin/chromium

# query:
#   max_retries: 3
#   retry_delay: "5s"

# log:
#   level: debug
#   file: ".gtalk/data/gtalk.log"

# transcript:
#   enable: true
#   dir: ".gtalk/data/transcripts"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, transcripts) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Log.File = resolve(cfg.Log.File)
	cfg.Transcript.Dir = resolve(cfg.Transcript.Dir)
	return cfg
}

// Validate ensures required fields exist so queries run deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Query.SearchHost == "" {
		return errors.New("query.search_host is required")
	}
	if c.Query.MaxRetries < 0 {
		return fmt.Errorf("query.max_retries must be >= 0, got %d", c.Query.MaxRetries)
	}
	if c.Query.MemoryWords < 1 {
		return fmt.Errorf("query.memory_words must be >= 1, got %d", c.Query.MemoryWords)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

func isWindows() bool { return runtime.GOOS == "windows" }

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// platformRetryDelay is also the warm-up settle delay; Windows hosts need longer.
func platformRetryDelay() time.Duration {
	if isWindows() {
		return 3 * time.Second
	}
	return 2 * time.Second
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// IsStealth returns whether the stealth evasion script is injected (default: true).
func (b BrowserConfig) IsStealth() bool {
	if b.Stealth == nil {
		return true
	}
	return *b.Stealth
}

// GetUserAgent returns the configured user agent or the fixed desktop default.
func (b BrowserConfig) GetUserAgent() string {
	if b.UserAgent == "" {
		return DefaultUserAgent
	}
	return b.UserAgent
}

// GetLocale returns the pinned locale (default: en-US).
func (b BrowserConfig) GetLocale() string {
	if b.Locale == "" {
		return "en-US"
	}
	return b.Locale
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// GetNavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) GetNavigationTimeout() time.Duration {
	return parseDurationOr(b.NavigationTimeout, 30*time.Second)
}

// GetWarmupDelay returns the settle time after the warm-up navigation.
func (b BrowserConfig) GetWarmupDelay() time.Duration {
	return parseDurationOr(b.WarmupDelay, platformRetryDelay())
}

// GetRetryDelay returns the linear backoff base.
func (q QueryConfig) GetRetryDelay() time.Duration {
	return parseDurationOr(q.RetryDelay, platformRetryDelay())
}

// GetSettleDelay returns the wait after each navigation.
func (q QueryConfig) GetSettleDelay() time.Duration {
	fallback := 3 * time.Second
	if isWindows() {
		fallback = 4 * time.Second
	}
	return parseDurationOr(q.SettleDelay, fallback)
}

// GetContentWait returns how long to wait for an answer container selector.
func (q QueryConfig) GetContentWait() time.Duration {
	return parseDurationOr(q.ContentWait, 10*time.Second)
}

// GetPostWaitDelay returns the extra settle after the content wait.
func (q QueryConfig) GetPostWaitDelay() time.Duration {
	return parseDurationOr(q.PostWaitDelay, 2*time.Second)
}

// GetCrashMarkers returns lower-cased crash markers, falling back to the defaults.
func (q QueryConfig) GetCrashMarkers() []string {
	if len(q.CrashMarkers) == 0 {
		return append([]string(nil), DefaultCrashMarkers...)
	}
	out := make([]string, 0, len(q.CrashMarkers))
	for _, m := range q.CrashMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// GetMaxFiles returns how many transcript files to keep (default: 3).
func (t TranscriptConfig) GetMaxFiles() int {
	if t.MaxFiles <= 0 {
		return 3
	}
	return t.MaxFiles
}
