package alerting

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"connlog/pkg/models"
)

// AlertRule defines conditions that trigger an alert
type AlertRule struct {
	Name      string
	MinLevel  models.Level  // records at or above this level count
	Threshold int           // Number of occurrences
	Window    time.Duration // Time window to check
	Pattern   string        // Optional: substring to match in message
}

// Alert represents a triggered alert
type Alert struct {
	RuleName  string
	Message   string
	Count     int
	Timestamp time.Time
}

// AlertManager watches ingested records for bursts of severe lines
type AlertManager struct {
	rules         []AlertRule
	lastFired     map[string]time.Time
	alertChannel  chan Alert
	recentLogs    []logEntry
	mu            sync.Mutex
	alertCallback func(Alert)
	stopped       bool
	stopOnce      sync.Once
	done          chan struct{}
}

// logEntry stores minimal info for alert checking
type logEntry struct {
	timestamp time.Time
	level     models.Level
	message   string
}

// NewAlertManager creates a new alert manager
func NewAlertManager(callback func(Alert)) *AlertManager {
	return &AlertManager{
		rules:         make([]AlertRule, 0),
		lastFired:     make(map[string]time.Time),
		alertChannel:  make(chan Alert, 100),
		recentLogs:    make([]logEntry, 0, 1000),
		alertCallback: callback,
		done:          make(chan struct{}),
	}
}

// AddRule adds a new alert rule
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// Start begins delivering alerts to the callback
func (am *AlertManager) Start() {
	go am.processAlerts()
}

// ProcessLog checks a new record against all rules (called by the ingestor).
// The record's arrival time is the reference point for every window.
func (am *AlertManager) ProcessLog(rec models.LogRecord) {
	am.mu.Lock()
	defer am.mu.Unlock()
	if am.stopped {
		return
	}

	now := rec.ArrivalTime
	am.recentLogs = append(am.recentLogs, logEntry{
		timestamp: now,
		level:     rec.Level,
		message:   rec.Message,
	})

	// Clean old logs outside the largest window
	cutoff := now.Add(-am.getMaxWindow())
	am.recentLogs = am.cleanOldLogs(am.recentLogs, cutoff)

	for _, rule := range am.rules {
		count := am.countMatches(rule, now)
		if count < rule.Threshold {
			continue
		}
		// one alert per window per rule
		if last, ok := am.lastFired[rule.Name]; ok && now.Sub(last) < rule.Window {
			continue
		}
		am.lastFired[rule.Name] = now

		alert := Alert{
			RuleName:  rule.Name,
			Message:   fmt.Sprintf("%s: %d %s+ logs in last %v", rule.Name, count, rule.MinLevel, rule.Window),
			Count:     count,
			Timestamp: now,
		}

		// Non-blocking send to alert channel
		select {
		case am.alertChannel <- alert:
		default:
			slog.Warn("alert channel full, dropping alert", "rule", rule.Name)
		}
	}
}

// countMatches counts recent records satisfying a rule
func (am *AlertManager) countMatches(rule AlertRule, now time.Time) int {
	windowStart := now.Add(-rule.Window)

	count := 0
	for _, log := range am.recentLogs {
		if log.timestamp.Before(windowStart) {
			continue
		}
		if log.level < rule.MinLevel {
			continue
		}
		if rule.Pattern != "" && !strings.Contains(log.message, rule.Pattern) {
			continue
		}
		count++
	}
	return count
}

// processAlerts handles triggered alerts
func (am *AlertManager) processAlerts() {
	defer close(am.done)
	for alert := range am.alertChannel {
		if am.alertCallback != nil {
			am.alertCallback(alert)
		}
	}
}

// getMaxWindow returns the largest time window from all rules
func (am *AlertManager) getMaxWindow() time.Duration {
	max := time.Minute
	for _, rule := range am.rules {
		if rule.Window > max {
			max = rule.Window
		}
	}
	return max
}

// cleanOldLogs drops entries older than cutoff, reusing the backing array
func (am *AlertManager) cleanOldLogs(logs []logEntry, cutoff time.Time) []logEntry {
	i := 0
	for i < len(logs) && logs[i].timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return logs
	}
	return append(logs[:0], logs[i:]...)
}

// Reset forgets every buffered record, used when the log store is cleared
func (am *AlertManager) Reset() {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.recentLogs = am.recentLogs[:0]
	clear(am.lastFired)
}

// Stop closes the alert channel and waits for pending alerts to be delivered.
// Stop must only be called after Start.
func (am *AlertManager) Stop() {
	am.stopOnce.Do(func() {
		am.mu.Lock()
		am.stopped = true
		close(am.alertChannel)
		am.mu.Unlock()
		<-am.done
	})
}
