package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// webhookQueueSize is the bounded channel capacity for outbound audit events.
	webhookQueueSize = 1024
	webhookAttempts  = 2
	webhookTimeout   = 10 * time.Second
)

// webhookEvent is the JSON payload POSTed to the external endpoint.
type webhookEvent struct {
	Event      string            `json:"event"`
	Subject    string            `json:"subject,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an external HTTP endpoint from a
// single background goroutine. Enqueue never blocks; events are dropped when
// the queue is full.
type auditWebhook struct {
	url        string
	headerName string
	headerVal  string
	client     *http.Client
	backoff    time.Duration
	logger     *slog.Logger
	events     chan webhookEvent
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// newAuditWebhook starts a dispatcher posting to url. authHeader uses the
// "Name: Value" form, e.g. "Authorization: Bearer xxx".
func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &auditWebhook{
		url:     url,
		client:  &http.Client{Timeout: webhookTimeout},
		backoff: time.Second,
		logger:  logger.With("component", "audit_webhook"),
		events:  make(chan webhookEvent, webhookQueueSize),
	}
	if name, val, ok := strings.Cut(authHeader, ":"); ok {
		w.headerName = strings.TrimSpace(name)
		w.headerVal = strings.TrimSpace(val)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("queue full, dropping event", "event", evt.Event)
	}
}

// close stops accepting events and waits until the queue is drained.
func (w *auditWebhook) close() {
	w.closeOnce.Do(func() {
		close(w.events)
	})
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(context.Background(), evt)
	}
}

// send POSTs the event, retrying once on transport errors and 5xx responses.
func (w *auditWebhook) send(ctx context.Context, evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.backoff)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "IronWard-Audit-Webhook/1.0")
		if w.headerName != "" {
			req.Header.Set(w.headerName, w.headerVal)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("server error", "status", resp.StatusCode, "attempt", attempt)
		default:
			w.logger.Warn("client error", "status", resp.StatusCode)
			return
		}
	}
}
