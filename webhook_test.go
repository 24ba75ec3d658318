package chatsync_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LuminPulse-AI/chatsync"
)

const testSecret = "test-webhook-secret-key"

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"type":"health.check"}`)
	sig := chatsync.SignWebhookBody(body, testSecret)

	tests := []struct {
		name   string
		body   []byte
		sig    string
		secret string
		want   bool
	}{
		{"valid signature", body, sig, testSecret, true},
		{"valid without prefix", body, strings.TrimPrefix(sig, "sha256="), testSecret, true},
		{"wrong secret", body, sig, "other", false},
		{"tampered body", []byte(`{"type":"health.check "}`), sig, testSecret, false},
		{"truncated signature", body, sig[:20], testSecret, false},
		{"empty signature", body, "", testSecret, false},
		{"prefix only", body, "sha256=", testSecret, false},
		{"empty body", nil, sig, testSecret, false},
		{"empty secret", body, sig, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chatsync.VerifyWebhookSignature(tt.body, tt.sig, tt.secret); got != tt.want {
				t.Fatalf("VerifyWebhookSignature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebhookReceiver(t *testing.T) {
	h := newHarness(t, true)
	at := h.clock.Now()
	recv, err := chatsync.NewWebhookReceiver(testSecret, h.client, nil)
	if err != nil {
		t.Fatalf("NewWebhookReceiver error: %v", err)
	}
	srv := httptest.NewServer(recv)
	t.Cleanup(srv.Close)

	post := func(t *testing.T, method string, body []byte, sig string) int {
		t.Helper()
		req, err := http.NewRequestWithContext(context.Background(), method, srv.URL, bytes.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest error: %v", err)
		}
		if sig != "" {
			req.Header.Set(chatsync.SignatureHeader, sig)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request error: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	event, err := chatsync.EncodeEvent(chatsync.NewMessageEvent{
		EventBase: chatsync.EventBase{CID: cid, CreatedAt: at},
		User:      bob,
		Message:   serverMessage("m1", bob, at),
	})
	if err != nil {
		t.Fatalf("EncodeEvent error: %v", err)
	}

	t.Run("signed event is applied", func(t *testing.T) {
		if code := post(t, http.MethodPost, event, chatsync.SignWebhookBody(event, testSecret)); code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
		if got := messageIDs(h.state(t, cid).Messages().Value()); got != "[m1]" {
			t.Fatalf("messages = %s, want [m1]", got)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		if code := post(t, http.MethodPost, event, chatsync.SignWebhookBody(event, "other")); code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		if code := post(t, http.MethodGet, nil, ""); code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", code)
		}
	})

	t.Run("undecodable body", func(t *testing.T) {
		body := []byte(`not json`)
		if code := post(t, http.MethodPost, body, chatsync.SignWebhookBody(body, testSecret)); code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", code)
		}
	})
}

func TestNewWebhookReceiverValidation(t *testing.T) {
	if _, err := chatsync.NewWebhookReceiver("", chatsync.EventSinkFunc(func(context.Context, chatsync.Event) {}), nil); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
	if _, err := chatsync.NewWebhookReceiver(testSecret, nil, nil); err == nil {
		t.Fatal("expected an error for a nil sink")
	}
}
