package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice chat client.
type Config struct {
	ServerURL       string
	ReconnectDelay  time.Duration
	ShutdownTimeout time.Duration

	CaptureSampleRate int
	CaptureChunkMS    int

	// RecorderCommand and PlayerCommand override autodetection of the
	// external capture/playback binaries. Empty means probe PATH.
	RecorderCommand string
	PlayerCommand   string

	PrefsDBPath string

	DebugBindAddr    string
	MetricsNamespace string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		ServerURL:         envOrDefault("VOICECHAT_SERVER_URL", "http://localhost:8000"),
		ReconnectDelay:    3 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		CaptureSampleRate: 16000,
		CaptureChunkMS:    250,
		RecorderCommand:   trimmedEnv("VOICECHAT_RECORDER_CMD"),
		PlayerCommand:     trimmedEnv("VOICECHAT_PLAYER_CMD"),
		PrefsDBPath:       trimmedEnv("VOICECHAT_PREFS_DB"),
		DebugBindAddr:     envOrDefault("VOICECHAT_DEBUG_ADDR", "127.0.0.1:8090"),
		MetricsNamespace:  envOrDefault("VOICECHAT_METRICS_NAMESPACE", "voicechat"),
	}

	var err error
	cfg.ReconnectDelay, err = durationFromEnv("VOICECHAT_RECONNECT_DELAY", cfg.ReconnectDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("VOICECHAT_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRate, err = intFromEnv("VOICECHAT_CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureChunkMS, err = intFromEnv("VOICECHAT_CAPTURE_CHUNK_MS", cfg.CaptureChunkMS)
	if err != nil {
		return Config{}, err
	}

	if cfg.PrefsDBPath == "" {
		cfg.PrefsDBPath = defaultPrefsDBPath()
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return Config{}, fmt.Errorf("VOICECHAT_SERVER_URL parse error: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Config{}, fmt.Errorf("VOICECHAT_SERVER_URL must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return Config{}, fmt.Errorf("VOICECHAT_SERVER_URL missing host")
	}
	if cfg.ReconnectDelay < 100*time.Millisecond {
		return Config{}, fmt.Errorf("VOICECHAT_RECONNECT_DELAY must be at least 100ms")
	}
	if cfg.CaptureSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICECHAT_CAPTURE_SAMPLE_RATE must be positive")
	}
	if cfg.CaptureChunkMS < 10 {
		return Config{}, fmt.Errorf("VOICECHAT_CAPTURE_CHUNK_MS must be at least 10")
	}

	return cfg, nil
}

// WebSocketURL derives the chat websocket endpoint from the server URL,
// switching scheme the way the browser client picks ws/wss from the page.
func (c Config) WebSocketURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/chat"
	return u.String()
}

func defaultPrefsDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "voicechat-prefs.db"
	}
	return filepath.Join(dir, "voicechat", "prefs.db")
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
