package chatsync

import (
	"testing"
	"time"
)

// Every decodable event type must have a route and must be accepted by the
// channel logic without falling through to the unhandled branch.
func TestEventRoutesAreExhaustive(t *testing.T) {
	for _, typ := range EventTypes() {
		t.Run(string(typ), func(t *testing.T) {
			e, err := decodePayload(typ, nil)
			if err != nil {
				t.Fatalf("decodePayload error: %v", err)
			}
			if e.Type() != typ {
				t.Fatalf("decoded type = %s, want %s", e.Type(), typ)
			}
			if routeOf(e) == routeUnhandled {
				t.Fatalf("no route for %s", typ)
			}
		})
	}
}

func TestReconnectorBackoff(t *testing.T) {
	r := newReconnector(&RealtimeConfig{
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    time.Second,
		MaxReconnectAttempts: 5,
	})

	var prev time.Duration
	for i := 1; i <= 5; i++ {
		if !r.shouldReconnect() {
			t.Fatalf("attempt %d: expected to reconnect", i)
		}
		delay, attempt := r.nextDelay()
		if attempt != i {
			t.Fatalf("attempt = %d, want %d", attempt, i)
		}
		if delay > time.Second {
			t.Fatalf("delay %v exceeds max", delay)
		}
		if delay < prev && delay != time.Second {
			t.Fatalf("delay %v shrank from %v", delay, prev)
		}
		prev = delay
	}
	if r.shouldReconnect() {
		t.Fatal("expected attempts to be exhausted")
	}

	r.connectedAt = time.Now().Add(-2 * time.Minute)
	if _, attempt := r.nextDelay(); attempt != 1 {
		t.Fatalf("attempt after a long connection = %d, want 1", attempt)
	}
}

func TestFailureStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status SyncStatus
		typ    MessageSyncType
	}{
		{"moderation", &APIError{StatusCode: 400, Code: CodeModerationFailed}, SyncFailedPermanently, SyncTypeFailedModeration},
		{"invalid input", &APIError{StatusCode: 400, Code: CodeInvalidInput}, SyncFailedPermanently, SyncTypePermanentError},
		{"server error", &APIError{StatusCode: 500, Code: "INTERNAL"}, SyncNeeded, SyncTypeTransientError},
		{"network code", &APIError{Code: CodeNetwork}, SyncNeeded, SyncTypeTransientError},
		{"upload", ErrAttachmentUpload, SyncFailedPermanently, SyncTypePermanentError},
		{"plain error", ErrOffline, SyncNeeded, SyncTypeTransientError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, desc := failureStatus(tt.err)
			if status != tt.status || desc == nil || desc.Type != tt.typ {
				t.Fatalf("failureStatus = %s %+v, want %s %s", status, desc, tt.status, tt.typ)
			}
		})
	}
}
