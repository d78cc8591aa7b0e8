package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"connlog/internal/extract"
)

var simHosts = []string{
	"example.com", "api.github.com", "cdn.jsdelivr.net", "93.184.216.34",
	"142.250.72.14", "news.ycombinator.com", "1.1.1.1",
}

var simErrors = []string{"connection reset", "timed out", "tls handshake failed"}

// Simulator is an in-process Engine that produces synthetic proxy traffic.
// It is used by the binary when no real engine is linked, and by tests.
type Simulator struct {
	interval time.Duration
	rng      *rand.Rand

	mu        sync.RWMutex // guards handlers; dispatch holds it for reading
	handlers  map[int]func(Event)
	nextSubID int

	stateMu    sync.Mutex
	running    bool
	cfg        StartConfig
	cancel     context.CancelFunc
	done       chan struct{}
	nextConn   int64
	direct     AutoDirectList
	failures   map[string]*AutoDirectFailure
	failStart  bool
	failStop   bool
	queryDelay time.Duration
}

// SimOption configures a Simulator
type SimOption func(*Simulator)

// WithInterval sets the delay between generated events. Zero disables
// background generation; events then only come from Emit.
func WithInterval(d time.Duration) SimOption {
	return func(s *Simulator) { s.interval = d }
}

// WithSeed makes generated traffic deterministic
func WithSeed(seed int64) SimOption {
	return func(s *Simulator) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithQueryDelay adds latency to the snapshot queries
func WithQueryDelay(d time.Duration) SimOption {
	return func(s *Simulator) { s.queryDelay = d }
}

// NewSimulator creates a stopped simulator
func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		interval: 200 * time.Millisecond,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		handlers: make(map[int]func(Event)),
		failures: make(map[string]*AutoDirectFailure),
		direct:   AutoDirectList{Domains: []string{}, IPs: []string{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the following Start and/or Stop calls report failure
func (s *Simulator) FailNext(start, stop bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.failStart = start
	s.failStop = stop
}

// Subscribe registers a listener for engine events
func (s *Simulator) Subscribe(handler func(Event)) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.handlers[id] = handler
	return &simSubscription{sim: s, id: id}
}

type simSubscription struct {
	sim  *Simulator
	id   int
	once sync.Once
}

// Remove waits for any in-flight dispatch, then detaches the listener
func (sub *simSubscription) Remove() {
	sub.once.Do(func() {
		sub.sim.mu.Lock()
		defer sub.sim.mu.Unlock()
		delete(sub.sim.handlers, sub.id)
	})
}

// Listeners returns the number of registered listeners
func (s *Simulator) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Emit delivers an event to every listener, sequentially
func (s *Simulator) Emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.handlers {
		h(ev)
	}
}

// Start begins generating traffic for cfg
func (s *Simulator) Start(_ context.Context, cfg StartConfig) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.failStart {
		s.failStart = false
		return false
	}
	if s.running {
		return false
	}
	s.running = true
	s.cfg = cfg

	if s.interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.generate(ctx, s.done)
	}

	slog.Debug("simulator started", "server", fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort), "local_port", cfg.LocalPort)
	return true
}

// Stop halts traffic generation. The generator has exited when Stop returns.
func (s *Simulator) Stop(_ context.Context) bool {
	s.stateMu.Lock()
	if s.failStop {
		s.failStop = false
		s.stateMu.Unlock()
		return false
	}
	if !s.running {
		s.stateMu.Unlock()
		return true
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.stateMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return true
}

// Running reports whether the simulator is generating traffic
func (s *Simulator) Running() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.running
}

// AutoDirectList returns the current auto-direct set as a JSON payload
func (s *Simulator) AutoDirectList(ctx context.Context) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return EncodeAutoDirectList(s.direct), nil
}

// AutoDirectFailures returns direct-connect failures as a JSON payload
func (s *Simulator) AutoDirectFailures(ctx context.Context) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	items := make([]AutoDirectFailure, 0, len(s.failures))
	for _, f := range s.failures {
		items = append(items, *f)
	}
	slices.SortFunc(items, func(a, b AutoDirectFailure) int { return strings.Compare(a.Host, b.Host) })
	return EncodeAutoDirectFailures(items), nil
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.queryDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.queryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// generate emits one synthetic connection lifecycle per tick
func (s *Simulator) generate(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range s.nextBurst() {
				if ctx.Err() != nil {
					return
				}
				s.Emit(ev)
			}
		}
	}
}

// nextBurst builds the log lines for one simulated connection
func (s *Simulator) nextBurst() []Event {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.nextConn++
	id := s.nextConn
	host := simHosts[s.rng.Intn(len(simHosts))]
	peer := fmt.Sprintf("%s:%d", s.cfg.ServerHost, s.cfg.ServerPort)

	events := []Event{
		{Level: 0, Message: "keepalive tick"},
		{Level: 2, Message: fmt.Sprintf("conn_id: %d accepted from 127.0.0.1, host: %s", id, host)},
	}

	direct := s.cfg.AutoProxy && s.rng.Intn(3) == 0
	if direct {
		events = append(events, Event{Level: 1, Message: fmt.Sprintf("conn_id: %d route=direct host=%s proxy_peer: None", id, host)})
	} else {
		events = append(events, Event{Level: 1, Message: fmt.Sprintf(`conn_id: %d route=proxy host=%s proxy_peer: Some("%s")`, id, host, peer)})
	}

	switch roll := s.rng.Intn(10); {
	case roll == 0:
		reason := simErrors[s.rng.Intn(len(simErrors))]
		events = append(events, Event{Level: 4, Message: fmt.Sprintf("conn_id: %d relay failed host: %s error: %s", id, host, reason)})
		if direct {
			s.recordFailure(host, reason)
		}
	case roll < 3:
		events = append(events, Event{Level: 3, Message: fmt.Sprintf("conn_id: %d slow upstream host: %s", id, host)})
	default:
		if direct {
			s.recordDirect(host)
		}
	}
	events = append(events, Event{Level: 2, Message: fmt.Sprintf("conn_id: %d closed host: %s", id, host)})
	return events
}

func (s *Simulator) recordDirect(host string) {
	if extract.IsIPv4Literal(host) {
		if !slices.Contains(s.direct.IPs, host) {
			s.direct.IPs = append(s.direct.IPs, host)
		}
		return
	}
	if !slices.Contains(s.direct.Domains, host) {
		s.direct.Domains = append(s.direct.Domains, host)
	}
}

func (s *Simulator) recordFailure(host, reason string) {
	f, ok := s.failures[host]
	if !ok {
		f = &AutoDirectFailure{Host: host}
		s.failures[host] = f
	}
	f.Count++
	f.LastError = reason
}
