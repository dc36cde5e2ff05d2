package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditRegister            AuditEvent = "register"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
	AuditRegisterDenied      AuditEvent = "register_denied"
	AuditLogout              AuditEvent = "logout"
	AuditSessionExtended     AuditEvent = "session_extended"
	AuditCSRFIssued          AuditEvent = "csrf_issued"
	AuditCSRFRejected        AuditEvent = "csrf_rejected"
	AuditThrottled           AuditEvent = "throttled"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry and forwards it to the anomaly
// collector and webhook when configured.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := time.Now().UTC()
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	if id := requestIDFromContext(r.Context()); id != "" {
		baseAttrs = append(baseAttrs, slog.String("request_id", id))
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		evt := webhookEvent{
			Event:      string(event),
			RemoteAddr: r.RemoteAddr,
			Timestamp:  now.Format(time.RFC3339),
		}
		for _, a := range attrs {
			if a.Key == "subject" {
				evt.Subject = a.Value.String()
				continue
			}
			if evt.Attrs == nil {
				evt.Attrs = make(map[string]string)
			}
			evt.Attrs[a.Key] = a.Value.String()
		}
		al.webhook.enqueue(evt)
	}
}

// logEvent is a convenience for events tied to an authenticated subject.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, subject string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("subject", subject),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

func (al *auditLogger) close() {
	if al.webhook != nil {
		al.webhook.close()
	}
}
