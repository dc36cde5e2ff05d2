package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertRateLimitSpike    AlertType = "rate_limit_spike"
	AlertCSRFRejectSpike   AlertType = "csrf_reject_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter counts events inside a trailing window.
type slidingCounter struct {
	times     []time.Time
	window    time.Duration
	threshold int
	alert     AlertType
	message   string
}

// metricsCollector watches audit events for spikes that warrant an alert.
type metricsCollector struct {
	mu       sync.Mutex
	counters map[AuditEvent]*slidingCounter
	alertFn  AlertFunc
	now      func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultRateLimitWindow       = 1 * time.Minute
	defaultRateLimitThreshold    = 20
	defaultCSRFRejectWindow      = 5 * time.Minute
	defaultCSRFRejectThreshold   = 10
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		counters: map[AuditEvent]*slidingCounter{
			AuditLoginFailure: {
				window:    defaultLoginFailureWindow,
				threshold: defaultLoginFailureThreshold,
				alert:     AlertLoginFailureSpike,
				message:   "login failure rate exceeds threshold",
			},
			AuditLoginRateLimited: {
				window:    defaultRateLimitWindow,
				threshold: defaultRateLimitThreshold,
				alert:     AlertRateLimitSpike,
				message:   "rate-limited login rate exceeds threshold",
			},
			AuditCSRFRejected: {
				window:    defaultCSRFRejectWindow,
				threshold: defaultCSRFRejectThreshold,
				alert:     AlertCSRFRejectSpike,
				message:   "csrf rejection rate exceeds threshold",
			},
		},
		alertFn: alertFn,
		now:     time.Now,
	}
}

// recordEvent inspects an audit event and updates the matching counter.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	m.mu.Lock()
	c, ok := m.counters[event]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := m.now()
	c.times = append(c.times, now)
	c.times = trimWindow(c.times, now, c.window)

	var alert *AlertEvent
	if len(c.times) >= c.threshold {
		alert = &AlertEvent{
			Type:      c.alert,
			Message:   c.message,
			Count:     len(c.times),
			Threshold: c.threshold,
			Timestamp: now,
		}
		// Reset to avoid repeated alerts within the same spike.
		c.times = c.times[:0]
	}
	m.mu.Unlock()

	if alert != nil {
		m.alertFn(*alert)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
