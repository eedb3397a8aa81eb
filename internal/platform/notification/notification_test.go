package notification

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestWebhookSinkDeliversSignedEvent(t *testing.T) {
	const secret = "test-secret"
	var gotBody []byte
	var gotSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, secret, zerolog.Nop())
	sink.Notify(context.Background(), Event{
		Type:           EventJobFailed,
		OrganizationID: uuid.New(),
		Message:        "job exhausted retries",
	})

	if len(gotBody) == 0 {
		t.Fatal("no payload received")
	}
	var event Event
	if err := json.Unmarshal(gotBody, &event); err != nil {
		t.Fatalf("unmarshal delivered event: %v", err)
	}
	if event.Type != EventJobFailed {
		t.Fatalf("unexpected type %q", event.Type)
	}
	if event.ID == uuid.Nil || event.Timestamp.IsZero() {
		t.Fatal("expected id and timestamp to be filled in")
	}

	want := "sha256=" + SignPayload(gotBody, secret)
	if !hmac.Equal([]byte(gotSig), []byte(want)) {
		t.Fatalf("signature mismatch: got %q want %q", gotSig, want)
	}
}

func TestWebhookSinkSwallowsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// Must not panic or block on either a 5xx or an unreachable host.
	sink := NewWebhookSink(srv.URL, "s", zerolog.Nop())
	sink.Notify(context.Background(), Event{Type: EventConflictDetected})

	dead := NewWebhookSink("http://127.0.0.1:1", "s", zerolog.Nop())
	dead.Notify(context.Background(), Event{Type: EventConflictDetected})
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	rec.Notify(context.Background(), Event{Type: EventJobFailed, Message: "one"})
	rec.Notify(context.Background(), Event{Type: EventConflictDetected, Message: "two"})

	events := rec.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventJobFailed || events[1].Type != EventConflictDetected {
		t.Fatalf("unexpected order: %+v", events)
	}

	events[0].Message = "mutated"
	if rec.Events()[0].Message != "one" {
		t.Fatal("Events must return a copy")
	}
}
