package app

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	DefaultServerURL = "ws://127.0.0.1:8080/join"
	DefaultAddr      = ":8080"
	DefaultJoinPath  = "/join"
)

// ServerConfig defines how the relay should run.
type ServerConfig struct {
	Addr           string
	Path           string
	DBPath         string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	Dev            bool
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Username  string
	LogPath   string
	Dev       bool
}

// ServerConfigFromEnv fills a ServerConfig from ROSTERCHAT_* variables,
// falling back to defaults. Flags are applied on top by the caller.
func ServerConfigFromEnv() ServerConfig {
	cfg := ServerConfig{
		Addr:           envOrDefault("ROSTERCHAT_ADDR", DefaultAddr),
		Path:           NormalizeJoinPath(os.Getenv("ROSTERCHAT_PATH")),
		DBPath:         DefaultDBPath(),
		AllowedOrigins: splitList(os.Getenv("ROSTERCHAT_ALLOWED_ORIGINS")),
		Dev:            isDevelopment(),
	}
	if v, err := strconv.ParseFloat(os.Getenv("ROSTERCHAT_RATE_LIMIT"), 64); err == nil && v > 0 {
		cfg.RateLimit = v
	}
	if v, err := strconv.Atoi(os.Getenv("ROSTERCHAT_RATE_BURST")); err == nil && v > 0 {
		cfg.RateBurst = v
	}
	return cfg
}

// ClientConfigFromEnv fills a ClientConfig from ROSTERCHAT_* variables.
func ClientConfigFromEnv() ClientConfig {
	return ClientConfig{
		ServerURL: envOrDefault("ROSTERCHAT_SERVER", DefaultServerURL),
		Username:  os.Getenv("ROSTERCHAT_USER"),
		LogPath:   envOrDefault("ROSTERCHAT_LOG_PATH", DefaultLogPath()),
		Dev:       isDevelopment(),
	}
}

// DefaultDBPath returns a per-user data path for the presence database.
func DefaultDBPath() string {
	if env := os.Getenv("ROSTERCHAT_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "rosterchat.db")
}

// DefaultLogPath is where the TUI client writes its log; the terminal itself
// belongs to the UI.
func DefaultLogPath() string {
	return filepath.Join(dataDir(), "client.log")
}

func dataDir() string {
	if env := os.Getenv("ROSTERCHAT_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "rosterchat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Rosterchat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Rosterchat")
		}
		return filepath.Join(home, ".local", "share", "rosterchat")
	}
	return filepath.Join(".", ".rosterchat")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultJoinPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

func isDevelopment() bool {
	return strings.EqualFold(os.Getenv("ROSTERCHAT_ENV"), "development")
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
