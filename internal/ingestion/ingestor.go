package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"connlog/internal/alerting"
	"connlog/internal/engine"
	"connlog/internal/extract"
	"connlog/internal/storage"
	"connlog/pkg/models"

	"golang.org/x/text/unicode/norm"
)

// ErrAttached is returned by Attach when a subscription is already active
var ErrAttached = errors.New("ingestor already attached")

// Ingestor is the single write path from the engine's event stream into the
// log store. Attach subscribes it; Detach is a hard barrier after which no
// event reaches the store.
type Ingestor struct {
	store        *storage.MemoryStore
	alertManager *alerting.AlertManager
	now          func() time.Time

	mu          sync.Mutex // serializes appends and guards the fields below
	sub         engine.Subscription
	generation  uint64 // bumped on every Attach and Detach
	attached    bool
	lastArrival time.Time

	stats *Stats
}

// Stats tracks ingestion counters
type Stats struct {
	TotalProcessed uint64
	TotalDropped   uint64 // events that arrived on a detached subscription
	StartTime      time.Time
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithClock overrides the arrival-time source
func WithClock(now func() time.Time) Option {
	return func(ing *Ingestor) { ing.now = now }
}

// WithAlertManager feeds every stored record to am
func WithAlertManager(am *alerting.AlertManager) Option {
	return func(ing *Ingestor) { ing.alertManager = am }
}

// NewIngestor creates a detached ingestor writing into store
func NewIngestor(store *storage.MemoryStore, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store: store,
		now:   time.Now,
		stats: &Stats{
			StartTime: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Attach subscribes to src. Only one subscription may be active at a time.
func (ing *Ingestor) Attach(src engine.Source) error {
	ing.mu.Lock()
	if ing.attached {
		ing.mu.Unlock()
		return ErrAttached
	}
	ing.generation++
	gen := ing.generation
	ing.attached = true
	ing.mu.Unlock()

	sub := src.Subscribe(func(ev engine.Event) {
		ing.handle(gen, ev)
	})

	ing.mu.Lock()
	defer ing.mu.Unlock()
	if ing.generation != gen {
		// Detach raced with Subscribe
		sub.Remove()
		return nil
	}
	ing.sub = sub
	return nil
}

// Detach ends the subscription. Once Detach returns no further record is
// appended, even for events that were already being delivered.
func (ing *Ingestor) Detach() {
	ing.mu.Lock()
	if !ing.attached {
		ing.mu.Unlock()
		return
	}
	ing.attached = false
	ing.generation++
	sub := ing.sub
	ing.sub = nil
	ing.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}
}

// Attached reports whether a subscription is active
func (ing *Ingestor) Attached() bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return ing.attached
}

// handle stores one event if it belongs to the current subscription
func (ing *Ingestor) handle(gen uint64, ev engine.Event) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	if !ing.attached || gen != ing.generation {
		atomic.AddUint64(&ing.stats.TotalDropped, 1)
		return
	}

	msg := normalizeMessage(ev.Message)
	var connID *int64
	if id, ok := extract.ConnectionID(msg); ok {
		connID = &id
	}

	// arrival times never go backwards, even if the wall clock does
	arrival := ing.now()
	if arrival.Before(ing.lastArrival) {
		arrival = ing.lastArrival
	}
	ing.lastArrival = arrival

	rec := ing.store.Append(models.LevelFromInt(ev.Level), msg, connID, arrival)

	if ing.alertManager != nil {
		ing.alertManager.ProcessLog(rec)
	}
	atomic.AddUint64(&ing.stats.TotalProcessed, 1)
}

// normalizeMessage repairs invalid UTF-8 and converts to NFC so equal hosts
// spelled with different code point sequences group together
func normalizeMessage(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return norm.NFC.String(s)
}

// ReportStats logs throughput every interval until ctx is done
func (ing *Ingestor) ReportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastCount := atomic.LoadUint64(&ing.stats.TotalProcessed)
	lastTime := time.Now()

	for {
		select {
		case <-ticker.C:
			currentCount := atomic.LoadUint64(&ing.stats.TotalProcessed)
			currentTime := time.Now()

			elapsed := currentTime.Sub(lastTime).Seconds()
			throughput := float64(currentCount-lastCount) / elapsed

			slog.Info("ingestion stats",
				"throughput_per_sec", int(throughput),
				"total_processed", currentCount,
				"total_dropped", atomic.LoadUint64(&ing.stats.TotalDropped),
				"logs_in_store", ing.store.Count(),
				"connections", ing.store.Connections(),
			)

			lastCount = currentCount
			lastTime = currentTime

		case <-ctx.Done():
			return
		}
	}
}

// GetStats returns current ingestion statistics
func (ing *Ingestor) GetStats() Stats {
	return Stats{
		TotalProcessed: atomic.LoadUint64(&ing.stats.TotalProcessed),
		TotalDropped:   atomic.LoadUint64(&ing.stats.TotalDropped),
		StartTime:      ing.stats.StartTime,
	}
}
