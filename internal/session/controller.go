// Package session owns the proxy session lifecycle: it validates start
// requests, drives the engine, and attaches or detaches log ingestion.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"connlog/internal/alerting"
	"connlog/internal/engine"
	"connlog/internal/ingestion"
	"connlog/internal/storage"

	"golang.org/x/crypto/blake2b"
)

// SessionKeyLength is the only accepted length for a non-empty session key
const SessionKeyLength = 32

// Validation errors. None of them reach the engine.
var (
	ErrEmptyHost      = errors.New("server host is empty")
	ErrSessionKeySize = errors.New("session key must be 32 characters")
	ErrInvalidPort    = errors.New("invalid port number")
)

// Status texts shown to the user
const (
	StatusStopped        = "Proxy stopped"
	StatusStartFailed    = "Failed to start"
	StatusStopFailed     = "Failed to stop"
	StatusRestartFailed  = "Failed to restart (stop failed)"
	StatusAlreadyRunning = "Proxy already running"
)

// Form holds the raw user input for a session
type Form struct {
	ServerHost    string `json:"server_host"`
	ServerPort    string `json:"server_port"`
	LocalPort     string `json:"local_port"`
	SessionKey    string `json:"session_key"`
	AutoProxy     bool   `json:"auto_proxy"`
	ReverseGeo    bool   `json:"reverse_geo"`
	DirectDomains string `json:"direct_domains"`
}

// Validate checks the form and converts it to an engine start config
func (f Form) Validate() (engine.StartConfig, error) {
	host := strings.TrimSpace(f.ServerHost)
	if host == "" {
		return engine.StartConfig{}, ErrEmptyHost
	}
	if f.SessionKey != "" && utf8.RuneCountInString(f.SessionKey) != SessionKeyLength {
		return engine.StartConfig{}, ErrSessionKeySize
	}
	serverPort, err := parsePort(f.ServerPort)
	if err != nil {
		return engine.StartConfig{}, err
	}
	localPort, err := parsePort(f.LocalPort)
	if err != nil {
		return engine.StartConfig{}, err
	}
	return engine.StartConfig{
		ServerHost:    host,
		ServerPort:    serverPort,
		LocalPort:     localPort,
		SessionKey:    f.SessionKey,
		AutoProxy:     f.AutoProxy,
		ReverseGeo:    f.ReverseGeo,
		DirectDomains: f.DirectDomains,
	}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return uint16(n), nil
}

// StatusText maps a validation error to the text shown to the user
func StatusText(err error) string {
	switch {
	case errors.Is(err, ErrEmptyHost):
		return "Please enter server host"
	case errors.Is(err, ErrSessionKeySize):
		return "Session key must be 32 characters (or empty for default)"
	case errors.Is(err, ErrInvalidPort):
		return "Invalid port number"
	case err != nil:
		return err.Error()
	}
	return ""
}

// ModeDescription names the routing mode implied by the two engine toggles
func ModeDescription(autoProxy, reverseGeo bool) string {
	switch {
	case autoProxy && reverseGeo:
		return "reverse-geo"
	case autoProxy:
		return "auto-proxy"
	default:
		return "all-proxy"
	}
}

// Controller runs one proxy session at a time
type Controller struct {
	engine   engine.Engine
	store    *storage.MemoryStore
	ingestor *ingestion.Ingestor
	alerts   *alerting.AlertManager

	opMu sync.Mutex // serializes Start, Stop, Restart

	mu      sync.RWMutex
	running bool
	status  string
}

// Option configures a Controller
type Option func(*Controller)

// WithAlertManager resets am whenever the log store is cleared
func WithAlertManager(am *alerting.AlertManager) Option {
	return func(c *Controller) { c.alerts = am }
}

// NewController wires a controller to an engine and an ingestor writing into store
func NewController(eng engine.Engine, store *storage.MemoryStore, ing *ingestion.Ingestor, opts ...Option) *Controller {
	c := &Controller{
		engine:   eng,
		store:    store,
		ingestor: ing,
		status:   StatusStopped,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start validates form, starts the engine and attaches ingestion.
// The running flag only changes when the engine reports success.
func (c *Controller) Start(ctx context.Context, form Form) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.Running() {
		c.setStatus(StatusAlreadyRunning)
		return false
	}
	return c.startLocked(ctx, form)
}

func (c *Controller) startLocked(ctx context.Context, form Form) bool {
	cfg, err := form.Validate()
	if err != nil {
		slog.Warn("rejected session config", "error", err)
		c.setStatus(StatusText(err))
		return false
	}

	if !c.engine.Start(ctx, cfg) {
		slog.Error("engine start failed", "server_host", cfg.ServerHost, "server_port", cfg.ServerPort)
		c.setStatus(StatusStartFailed)
		return false
	}
	if err := c.ingestor.Attach(c.engine); err != nil {
		// a previous session's subscription is still live; keep it
		slog.Warn("ingestor attach", "error", err)
	}

	mode := ModeDescription(cfg.AutoProxy, cfg.ReverseGeo)
	c.mu.Lock()
	c.running = true
	c.status = fmt.Sprintf("Running on 127.0.0.1:%d (%s)", cfg.LocalPort, mode)
	c.mu.Unlock()

	slog.Info("session started",
		"server_host", cfg.ServerHost,
		"server_port", cfg.ServerPort,
		"local_port", cfg.LocalPort,
		"mode", mode,
		"session_key", KeyFingerprint(cfg.SessionKey),
	)
	return true
}

// Stop stops the engine and detaches ingestion. Retained logs are kept.
func (c *Controller) Stop(ctx context.Context) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.stopLocked(ctx) {
		c.setStatus(StatusStopFailed)
		return false
	}
	c.setStatus(StatusStopped)
	return true
}

func (c *Controller) stopLocked(ctx context.Context) bool {
	if !c.engine.Stop(ctx) {
		slog.Error("engine stop failed")
		return false
	}
	c.ingestor.Detach()

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	slog.Info("session stopped", "logs_retained", c.store.Count())
	return true
}

// Restart stops and starts a running session with form, as done when the
// host app returns to the foreground. It does nothing when stopped.
func (c *Controller) Restart(ctx context.Context, form Form) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.Running() {
		return false
	}
	if !c.stopLocked(ctx) {
		c.setStatus(StatusRestartFailed)
		return false
	}
	c.setStatus(StatusStopped)
	return c.startLocked(ctx, form)
}

// Clear empties the log store regardless of session state
func (c *Controller) Clear() {
	c.store.Clear()
	if c.alerts != nil {
		c.alerts.Reset()
	}
	slog.Debug("logs cleared")
}

// Running reports whether a session is active
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Status returns the latest user-facing status text
func (c *Controller) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) setStatus(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// AutoDirectList asks the engine for its auto-direct set. Failures and
// malformed payloads yield empty lists.
func (c *Controller) AutoDirectList(ctx context.Context) engine.AutoDirectList {
	payload, err := c.engine.AutoDirectList(ctx)
	if err != nil {
		slog.Warn("auto-direct list query failed", "error", err)
		payload = ""
	}
	return engine.DecodeAutoDirectList(payload)
}

// AutoDirectFailures asks the engine for failed direct hosts. Failures and
// malformed payloads yield an empty list.
func (c *Controller) AutoDirectFailures(ctx context.Context) []engine.AutoDirectFailure {
	payload, err := c.engine.AutoDirectFailures(ctx)
	if err != nil {
		slog.Warn("auto-direct failures query failed", "error", err)
		payload = ""
	}
	return engine.DecodeAutoDirectFailures(payload)
}

// KeyFingerprint identifies a session key in logs without revealing it
func KeyFingerprint(key string) string {
	if key == "" {
		return "default"
	}
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
