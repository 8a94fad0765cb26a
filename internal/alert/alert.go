// Package alert implements the fire-and-forget operational webhook sink
// used by every other package's AlertSink interface (spec.md §6/§9):
// delivery is best-effort, happens off the caller's goroutine, and a
// slow or unreachable collector must never block cycle progress.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/evetabi/qpredict/internal/config"
)

const deliveryTimeout = 5 * time.Second

// WebhookType selects the payload shape posted to AlertWebhookURL.
const (
	TypeSlack   = "slack"
	TypeGeneric = "generic"
)

// Sink posts alerts to a configured webhook. A nil *Sink discards every
// alert; a Sink built by New with an empty URL only logs them.
type Sink struct {
	client      *http.Client
	url         string
	webhookType string
	env         string
	log         *slog.Logger
}

// New builds a Sink from observability configuration. An empty
// AlertWebhookURL produces a Sink that only logs, never dials out.
func New(cfg config.ObservabilityConfig, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		client:      &http.Client{Timeout: deliveryTimeout},
		url:         cfg.AlertWebhookURL,
		webhookType: cfg.AlertWebhookType,
		env:         cfg.Env,
		log:         log,
	}
}

// Alert satisfies every package's AlertSink interface. Delivery happens on
// its own goroutine with its own bounded context so a hung collector never
// stalls the cron cycle or service call that raised the alert.
func (s *Sink) Alert(event, message string) {
	if s == nil {
		return
	}
	s.log.Warn("alert", "event", event, "message", message)
	if s.url == "" {
		return
	}
	go s.deliver(event, message)
}

func (s *Sink) deliver(event, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	body, err := s.encode(event, message)
	if err != nil {
		s.log.Error("alert encode failed", "event", event, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.log.Error("alert request build failed", "event", event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Error("alert webhook delivery failed", "event", event, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.Error("alert webhook rejected", "event", event, "status", resp.StatusCode)
	}
}

func (s *Sink) encode(event, message string) ([]byte, error) {
	if s.webhookType == TypeSlack {
		return json.Marshal(struct {
			Text string `json:"text"`
		}{Text: "[" + s.env + "] " + event + ": " + message})
	}
	return json.Marshal(struct {
		Event   string    `json:"event"`
		Message string    `json:"message"`
		Env     string    `json:"env"`
		At      time.Time `json:"at"`
	}{Event: event, Message: message, Env: s.env, At: time.Now().UTC()})
}
