package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"connlog/internal/config"
	"connlog/internal/engine"
	"connlog/internal/ingestion"
	"connlog/internal/session"
	"connlog/internal/storage"
	"connlog/internal/view"
	"connlog/pkg/models"
)

type server struct {
	ctrl      *session.Controller
	inspector *view.Inspector
	ingestor  *ingestion.Ingestor
	store     *storage.MemoryStore
	defaults  session.Form
}

func newServer(ctrl *session.Controller, in *view.Inspector, ing *ingestion.Ingestor, store *storage.MemoryStore, proxy config.ProxyConfig) *server {
	return &server{
		ctrl:      ctrl,
		inspector: in,
		ingestor:  ing,
		store:     store,
		defaults: session.Form{
			ServerHost:    proxy.ServerHost,
			ServerPort:    proxy.ServerPort,
			LocalPort:     proxy.LocalPort,
			SessionKey:    proxy.SessionKey,
			AutoProxy:     proxy.AutoProxy,
			ReverseGeo:    proxy.ReverseGeo,
			DirectDomains: proxy.DirectDomains,
		},
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/restart", s.handleRestart)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/groups", s.handleGroups)
	mux.HandleFunc("/autodirect", s.handleAutoDirect)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/", handleRoot)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

// formPatch holds the fields a client posted; nil means not sent
type formPatch struct {
	ServerHost    *string `json:"server_host"`
	ServerPort    *string `json:"server_port"`
	LocalPort     *string `json:"local_port"`
	SessionKey    *string `json:"session_key"`
	AutoProxy     *bool   `json:"auto_proxy"`
	ReverseGeo    *bool   `json:"reverse_geo"`
	DirectDomains *string `json:"direct_domains"`
}

func (p formPatch) apply(form session.Form) session.Form {
	setString(&form.ServerHost, p.ServerHost)
	setString(&form.ServerPort, p.ServerPort)
	setString(&form.LocalPort, p.LocalPort)
	setString(&form.SessionKey, p.SessionKey)
	setString(&form.DirectDomains, p.DirectDomains)
	if p.AutoProxy != nil {
		form.AutoProxy = *p.AutoProxy
	}
	if p.ReverseGeo != nil {
		form.ReverseGeo = *p.ReverseGeo
	}
	return form
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// readForm decodes an optional JSON form over the configured defaults.
// Every field the client sent wins, including false and "".
func (s *server) readForm(r *http.Request) (session.Form, error) {
	var patch formPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		return s.defaults, err
	}
	return patch.apply(s.defaults), nil
}

func (s *server) sessionResponse(w http.ResponseWriter, ok bool) {
	writeJSON(w, map[string]any{
		"ok":      ok,
		"running": s.ctrl.Running(),
		"status":  s.ctrl.Status(),
	})
}

// handleStart starts a session from the posted form
func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	form, err := s.readForm(r)
	if err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	s.sessionResponse(w, s.ctrl.Start(r.Context(), form))
}

// handleStop stops the running session, keeping its logs
func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sessionResponse(w, s.ctrl.Stop(r.Context()))
}

// handleRestart restarts a running session with the posted form
func (s *server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	form, err := s.readForm(r)
	if err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	s.sessionResponse(w, s.ctrl.Restart(r.Context(), form))
}

// handleClear empties the log store
func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.Clear()
	writeJSON(w, map[string]string{"status": "cleared"})
}

// parseLevels reads a comma separated level list; ok is false when absent
func parseLevels(raw string) (set models.LevelSet, ok bool, err error) {
	if raw == "" {
		return 0, false, nil
	}
	for _, name := range strings.Split(raw, ",") {
		l, valid := models.ParseLevel(name)
		if !valid {
			return 0, true, fmt.Errorf("unknown level %q", strings.TrimSpace(name))
		}
		set = set.Add(l)
	}
	return set, true, nil
}

// handleLogs returns filtered records, oldest first
func (s *server) handleLogs(w http.ResponseWriter, r *http.Request) {
	levels, ok, err := parseLevels(r.URL.Query().Get("levels"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		levels = s.inspector.Levels()
	}
	logs := view.Filter(s.store, levels)

	writeJSON(w, map[string]any{
		"count":  len(logs),
		"levels": levels.String(),
		"logs":   logs,
	})
}

// handleGroups applies optional view settings, then returns the grouped view.
// The level filter, mode and selection belong to the single session view
// and are shared by every client.
func (s *server) handleGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	levels, ok, err := parseLevels(q.Get("levels"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ok {
		s.inspector.SetLevels(levels)
	}
	if by := q.Get("by"); by != "" {
		s.inspector.SetMode(view.ParseMode(by))
	}
	if q.Has("select") {
		s.inspector.Select(q.Get("select"))
	}

	snap := s.inspector.Snapshot()
	writeJSON(w, map[string]any{
		"by":       snap.Mode.String(),
		"levels":   snap.Levels.String(),
		"groups":   snap.Groups,
		"selected": snap.Selected,
		"detail":   snap.Detail,
	})
}

// handleAutoDirect queries both auto-direct snapshots
func (s *server) handleAutoDirect(w http.ResponseWriter, r *http.Request) {
	failCh := make(chan []engine.AutoDirectFailure, 1)
	go func() { failCh <- s.ctrl.AutoDirectFailures(r.Context()) }()

	list := s.ctrl.AutoDirectList(r.Context())
	failures := <-failCh
	writeJSON(w, map[string]any{
		"domains":  list.Domains,
		"ips":      list.IPs,
		"failures": failures,
	})
}

// handleStats returns ingestion statistics
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.ingestor.GetStats()
	maxLogs, maxPerConn := s.store.Caps()

	elapsed := time.Since(stats.StartTime).Seconds()
	avgThroughput := 0.0
	if elapsed > 0 {
		avgThroughput = float64(stats.TotalProcessed) / elapsed
	}

	writeJSON(w, map[string]any{
		"running":           s.ctrl.Running(),
		"status":            s.ctrl.Status(),
		"total_processed":   stats.TotalProcessed,
		"total_dropped":     stats.TotalDropped,
		"uptime_seconds":    int(elapsed),
		"avg_throughput":    int(avgThroughput),
		"logs_in_storage":   s.store.Count(),
		"connections":       s.store.Connections(),
		"max_logs":          maxLogs,
		"max_logs_per_conn": maxPerConn,
	})
}

// handleRoot shows a short index of the API
func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html := `<!DOCTYPE html>
<html>
<head>
	<title>connlog</title>
	<style>
		body { font-family: monospace; max-width: 800px; margin: 50px auto; padding: 20px; }
		code { background: #f3f4f6; padding: 2px 6px; border-radius: 3px; }
	</style>
</head>
<body>
	<h1>connlog</h1>
	<div><strong>POST /start</strong> - Start a proxy session (JSON form, optional)</div>
	<div><strong>POST /stop</strong> - Stop the session, keeping logs</div>
	<div><strong>POST /restart</strong> - Restart a running session</div>
	<div><strong>POST /clear</strong> - Clear retained logs</div>
	<div><strong>GET /logs?levels=INFO,WARN</strong> - Filtered logs</div>
	<div><strong>GET /groups?by=conn&amp;select=conn:7</strong> - Grouped view and drill-down (view state is shared)</div>
	<div><strong>GET /autodirect</strong> - Auto-direct list and failures</div>
	<div><strong>GET /stats</strong> - Ingestion statistics</div>
	<p>Try: <code>curl -X POST localhost:8080/start -d '{"server_host":"proxy.local"}'</code></p>
</body>
</html>
`

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
