package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all connlog configuration.
type Config struct {
	Proxy     ProxyConfig
	Retention RetentionConfig
	Alerts    AlertConfig
	Server    ServerConfig
	Log       LogConfig
	Sim       SimConfig
}

// ProxyConfig holds the form values handed to the session controller.
// Ports stay strings here; the controller validates them.
type ProxyConfig struct {
	ServerHost    string
	ServerPort    string
	LocalPort     string
	SessionKey    string
	AutoProxy     bool
	ReverseGeo    bool
	DirectDomains string
}

// RetentionConfig holds log store caps.
type RetentionConfig struct {
	MaxLogs        int
	MaxLogsPerConn int
}

// AlertConfig holds the error-burst alert rule.
type AlertConfig struct {
	ErrorThreshold int // 0 disables the rule
	Window         time.Duration
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr          string
	StatsInterval time.Duration
}

// LogConfig holds diagnostic logging settings.
type LogConfig struct {
	Level string // "debug", "info", "warn", "error"
	JSON  bool
}

// SimConfig holds settings for the built-in engine simulator.
type SimConfig struct {
	Interval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		Proxy: ProxyConfig{
			ServerHost:    os.Getenv("CONNLOG_SERVER_HOST"),
			ServerPort:    getenv("CONNLOG_SERVER_PORT", "1081"),
			LocalPort:     getenv("CONNLOG_LOCAL_PORT", "7890"),
			SessionKey:    os.Getenv("CONNLOG_SESSION_KEY"),
			AutoProxy:     getenvBool("CONNLOG_AUTO_PROXY", false),
			ReverseGeo:    getenvBool("CONNLOG_REVERSE_GEO", false),
			DirectDomains: os.Getenv("CONNLOG_DIRECT_DOMAINS"),
		},
		Retention: RetentionConfig{
			MaxLogs:        getenvInt("CONNLOG_MAX_LOGS", 2000),
			MaxLogsPerConn: getenvInt("CONNLOG_MAX_LOGS_PER_CONN", 400),
		},
		Alerts: AlertConfig{
			ErrorThreshold: getenvInt("CONNLOG_ALERT_ERROR_THRESHOLD", 10),
			Window:         getenvDuration("CONNLOG_ALERT_WINDOW", time.Minute),
		},
		Server: ServerConfig{
			Addr:          getenv("CONNLOG_HTTP_ADDR", ":8080"),
			StatsInterval: getenvDuration("CONNLOG_STATS_INTERVAL", 10*time.Second),
		},
		Log: LogConfig{
			Level: getenv("CONNLOG_LOG_LEVEL", "info"),
			JSON:  getenvBool("CONNLOG_LOG_JSON", false),
		},
		Sim: SimConfig{
			Interval: getenvDuration("CONNLOG_SIM_INTERVAL", 200*time.Millisecond),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
