// Package notification delivers fire-and-forget alerts for sync failures
// and conflicts that need human review. Delivery problems are logged and
// never propagate into job processing.
package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted by the sync engine.
const (
	EventJobFailed        = "sync.job_failed"
	EventConflictDetected = "sync.conflict_detected"
)

// Event is one alert handed to a Sink.
type Event struct {
	ID             uuid.UUID              `json:"id"`
	Type           string                 `json:"type"`
	OrganizationID uuid.UUID              `json:"organization_id"`
	ResourceType   string                 `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Sink receives events. Implementations must be safe for concurrent use
// and must not block job processing on delivery problems.
type Sink interface {
	Notify(ctx context.Context, event Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Notify(context.Context, Event) {}

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSink POSTs signed events to a single operator-configured URL.
type WebhookSink struct {
	url        string
	secret     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewWebhookSink builds a WebhookSink. The secret signs each payload so the
// receiver can verify origin.
func NewWebhookSink(url, secret string, log zerolog.Logger) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log.With().Str("component", "notification").Logger(),
	}
}

// Notify delivers the event. Failures are logged, never returned.
func (s *WebhookSink) Notify(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Str("type", event.Type).Msg("marshal notification")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		s.log.Error().Err(err).Str("type", event.Type).Msg("build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, s.secret))
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp.Format(time.RFC3339))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("type", event.Type).Msg("notification delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Warn().
			Int("status", resp.StatusCode).
			Str("type", event.Type).
			Msg(fmt.Sprintf("notification rejected by %s", s.url))
		return
	}
	s.log.Debug().Str("type", event.Type).Msg("notification delivered")
}

// Recorder collects events in memory for inspection in tests and for the
// operator status endpoint.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder builds an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
