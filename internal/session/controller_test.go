package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"connlog/internal/engine"
	"connlog/internal/ingestion"
	"connlog/internal/storage"
)

const validKey = "0123456789abcdef0123456789abcdef"

func validForm() Form {
	return Form{ServerHost: "proxy.example.com", ServerPort: "1081", LocalPort: "7890"}
}

// --- mocks ---

// countingEngine wraps a Simulator and records calls
type countingEngine struct {
	*engine.Simulator
	starts, stops int
	listPayload   string
	listErr       error
}

func (e *countingEngine) Start(ctx context.Context, cfg engine.StartConfig) bool {
	e.starts++
	return e.Simulator.Start(ctx, cfg)
}

func (e *countingEngine) Stop(ctx context.Context) bool {
	e.stops++
	return e.Simulator.Stop(ctx)
}

func (e *countingEngine) AutoDirectList(ctx context.Context) (string, error) {
	if e.listPayload != "" || e.listErr != nil {
		return e.listPayload, e.listErr
	}
	return e.Simulator.AutoDirectList(ctx)
}

func newTestController() (*Controller, *countingEngine, *storage.MemoryStore) {
	eng := &countingEngine{Simulator: engine.NewSimulator(engine.WithInterval(0))}
	store := storage.NewMemoryStore()
	ing := ingestion.NewIngestor(store)
	return NewController(eng, store, ing), eng, store
}

func TestForm_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Form)
		wantErr error
	}{
		{"valid", func(*Form) {}, nil},
		{"valid with key", func(f *Form) { f.SessionKey = validKey }, nil},
		{"empty host", func(f *Form) { f.ServerHost = "  " }, ErrEmptyHost},
		{"short key", func(f *Form) { f.SessionKey = "short" }, ErrSessionKeySize},
		{"long key", func(f *Form) { f.SessionKey = validKey + "x" }, ErrSessionKeySize},
		{"non numeric server port", func(f *Form) { f.ServerPort = "abc" }, ErrInvalidPort},
		{"empty local port", func(f *Form) { f.LocalPort = "" }, ErrInvalidPort},
		{"port out of range", func(f *Form) { f.LocalPort = "70000" }, ErrInvalidPort},
		{"negative port", func(f *Form) { f.ServerPort = "-1" }, ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validForm()
			tt.mutate(&f)
			cfg, err := f.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && (cfg.ServerPort != 1081 || cfg.LocalPort != 7890 || cfg.ServerHost != "proxy.example.com") {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrEmptyHost, "Please enter server host"},
		{ErrSessionKeySize, "Session key must be 32 characters (or empty for default)"},
		{ErrInvalidPort, "Invalid port number"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := StatusText(tt.err); got != tt.want {
			t.Errorf("StatusText(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestModeDescription(t *testing.T) {
	if got := ModeDescription(false, true); got != "all-proxy" {
		t.Errorf("got %q", got)
	}
	if got := ModeDescription(true, false); got != "auto-proxy" {
		t.Errorf("got %q", got)
	}
	if got := ModeDescription(true, true); got != "reverse-geo" {
		t.Errorf("got %q", got)
	}
}

func TestController_ValidationNeverReachesEngine(t *testing.T) {
	c, eng, _ := newTestController()
	f := validForm()
	f.ServerHost = ""

	if c.Start(context.Background(), f) {
		t.Fatal("expected Start to fail")
	}
	if eng.starts != 0 {
		t.Errorf("engine was called %d times", eng.starts)
	}
	if eng.Listeners() != 0 {
		t.Error("ingestion must not be attached on validation failure")
	}
	if c.Status() != "Please enter server host" || c.Running() {
		t.Errorf("unexpected state %q running=%v", c.Status(), c.Running())
	}
}

func TestController_StartStopLifecycle(t *testing.T) {
	c, eng, store := newTestController()
	ctx := context.Background()

	f := validForm()
	f.AutoProxy = true
	if !c.Start(ctx, f) {
		t.Fatalf("Start failed: %s", c.Status())
	}
	if !c.Running() || c.Status() != "Running on 127.0.0.1:7890 (auto-proxy)" {
		t.Errorf("unexpected state %q running=%v", c.Status(), c.Running())
	}

	eng.Emit(engine.Event{Level: 2, Message: "conn_id: 1 accepted host: a.com"})
	eng.Emit(engine.Event{Level: 4, Message: "conn_id: 1 failed host: a.com"})

	if c.Start(ctx, f) {
		t.Error("Start while running should fail")
	}
	if c.Status() != StatusAlreadyRunning {
		t.Errorf("unexpected status %q", c.Status())
	}

	if !c.Stop(ctx) {
		t.Fatal("Stop failed")
	}
	if c.Running() || c.Status() != StatusStopped {
		t.Errorf("unexpected state %q running=%v", c.Status(), c.Running())
	}

	eng.Emit(engine.Event{Level: 2, Message: "conn_id: 1 after stop"})
	if store.Count() != 2 {
		t.Fatalf("stop must keep history and block new events, got %d records", store.Count())
	}
}

func TestController_EngineFailuresOnlyChangeStatus(t *testing.T) {
	c, eng, _ := newTestController()
	ctx := context.Background()

	eng.FailNext(true, false)
	if c.Start(ctx, validForm()) {
		t.Fatal("expected start failure")
	}
	if c.Running() || c.Status() != StatusStartFailed {
		t.Errorf("unexpected state %q running=%v", c.Status(), c.Running())
	}
	if eng.Listeners() != 0 {
		t.Error("failed start must not attach ingestion")
	}

	if !c.Start(ctx, validForm()) {
		t.Fatal("second start should succeed")
	}
	eng.FailNext(false, true)
	if c.Stop(ctx) {
		t.Fatal("expected stop failure")
	}
	if !c.Running() || c.Status() != StatusStopFailed {
		t.Errorf("unexpected state %q running=%v", c.Status(), c.Running())
	}
	if eng.Listeners() != 1 {
		t.Error("failed stop must leave ingestion attached")
	}
}

func TestController_Restart(t *testing.T) {
	c, eng, _ := newTestController()
	ctx := context.Background()

	if c.Restart(ctx, validForm()) {
		t.Fatal("restart while stopped should do nothing")
	}
	if eng.starts != 0 || eng.stops != 0 {
		t.Fatal("restart while stopped must not touch the engine")
	}

	c.Start(ctx, validForm())
	f := validForm()
	f.AutoProxy, f.ReverseGeo = true, true
	if !c.Restart(ctx, f) {
		t.Fatalf("restart failed: %s", c.Status())
	}
	if c.Status() != "Running on 127.0.0.1:7890 (reverse-geo)" {
		t.Errorf("unexpected status %q", c.Status())
	}
	if eng.Listeners() != 1 {
		t.Errorf("expected exactly one listener after restart, got %d", eng.Listeners())
	}

	eng.FailNext(false, true)
	if c.Restart(ctx, f) {
		t.Fatal("expected restart failure")
	}
	if c.Status() != StatusRestartFailed || !c.Running() {
		t.Errorf("unexpected state %q running=%v", c.Status(), c.Running())
	}

	bad := validForm()
	bad.LocalPort = "x"
	if c.Restart(ctx, bad) {
		t.Fatal("restart with invalid form should fail after stopping")
	}
	if c.Running() || c.Status() != "Invalid port number" {
		t.Errorf("unexpected state %q running=%v", c.Status(), c.Running())
	}
}

func TestController_ClearIndependentOfSession(t *testing.T) {
	c, eng, store := newTestController()
	ctx := context.Background()

	c.Start(ctx, validForm())
	eng.Emit(engine.Event{Level: 2, Message: "one"})
	c.Clear()
	if store.Count() != 0 {
		t.Fatal("Clear while running should empty the store")
	}
	eng.Emit(engine.Event{Level: 2, Message: "two"})
	c.Stop(ctx)
	c.Clear()
	if store.Count() != 0 {
		t.Fatal("Clear while stopped should empty the store")
	}
	if c.Running() {
		t.Error("Clear must not change session state")
	}
}

func TestController_SnapshotQueriesDegrade(t *testing.T) {
	c, eng, _ := newTestController()
	ctx := context.Background()

	eng.listPayload = "{broken"
	list := c.AutoDirectList(ctx)
	if len(list.Domains) != 0 || len(list.IPs) != 0 {
		t.Errorf("malformed payload should give empty lists, got %+v", list)
	}

	eng.listPayload, eng.listErr = "", errors.New("bridge gone")
	list = c.AutoDirectList(ctx)
	if list.Domains == nil || list.IPs == nil || len(list.Domains)+len(list.IPs) != 0 {
		t.Errorf("query error should give empty lists, got %+v", list)
	}

	if got := c.AutoDirectFailures(ctx); got == nil || len(got) != 0 {
		t.Errorf("expected empty failures, got %+v", got)
	}
}

func TestKeyFingerprint(t *testing.T) {
	if KeyFingerprint("") != "default" {
		t.Error("empty key should be reported as default")
	}
	fp := KeyFingerprint(validKey)
	if len(fp) != 12 || strings.Contains(validKey, fp) {
		t.Errorf("unexpected fingerprint %q", fp)
	}
	if fp != KeyFingerprint(validKey) {
		t.Error("fingerprint must be stable")
	}
	if fp == KeyFingerprint(strings.ToUpper(validKey)) {
		t.Error("different keys should differ")
	}
}
