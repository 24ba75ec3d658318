package chatsync_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/LuminPulse-AI/chatsync"
)

// newRealtimeServer accepts one websocket, writes frames in order and then
// waits for the client to go away.
func newRealtimeServer(t *testing.T, frames ...chatsync.Event) *httptest.Server {
	t.Helper()
	var payloads [][]byte
	for _, e := range frames {
		data, err := chatsync.EncodeEvent(e)
		if err != nil {
			t.Fatalf("EncodeEvent error: %v", err)
		}
		payloads = append(payloads, data)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "server done")
		ctx := r.Context()
		for _, p := range payloads {
			if err := conn.Write(ctx, websocket.MessageText, p); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitForEvent(t *testing.T, events <-chan chatsync.Event, want chatsync.EventType) chatsync.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type() == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
			return nil
		}
	}
}

func TestRealtimeSource(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	at := h.clock.Now()
	srv := newRealtimeServer(t,
		chatsync.ConnectedEvent{Me: me, ConnectionID: "conn-1"},
		chatsync.NewMessageEvent{
			EventBase: chatsync.EventBase{CID: cid, CreatedAt: at},
			User:      bob,
			Message:   serverMessage("m1", bob, at),
		},
	)

	events := make(chan chatsync.Event, 16)
	src := chatsync.NewRealtimeSource(chatsync.RealtimeConfig{URL: srv.URL, Token: "tok"},
		chatsync.EventSinkFunc(func(ctx context.Context, e chatsync.Event) {
			h.client.HandleEvent(ctx, e)
			events <- e
		}))

	if err := src.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if src.State() != chatsync.ConnectionOnline || !h.client.IsOnline() {
		t.Fatalf("state = %s online = %v", src.State(), h.client.IsOnline())
	}
	connected := waitForEvent(t, events, chatsync.EventConnected).(chatsync.ConnectedEvent)
	if connected.ConnectionID != "conn-1" {
		t.Fatalf("connection id = %q", connected.ConnectionID)
	}

	waitForEvent(t, events, chatsync.EventMessageNew)
	if got := messageIDs(h.state(t, cid).Messages().Value()); got != "[m1]" {
		t.Fatalf("messages = %s, want [m1]", got)
	}

	if err := src.Disconnect(); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	waitForEvent(t, events, chatsync.EventDisconnected)
	if src.State() != chatsync.ConnectionOffline || h.client.IsOnline() {
		t.Fatalf("state = %s online = %v", src.State(), h.client.IsOnline())
	}
}

func TestRealtimeSourceHandshake(t *testing.T) {
	ctx := context.Background()

	t.Run("first frame must be connected", func(t *testing.T) {
		srv := newRealtimeServer(t, chatsync.HealthEvent{ConnectionID: "conn-1"})
		src := chatsync.NewRealtimeSource(chatsync.RealtimeConfig{URL: srv.URL, Token: "tok"}, nil)
		if err := src.Connect(ctx); err == nil {
			t.Fatal("expected an error")
		}
		if src.State() != chatsync.ConnectionOffline {
			t.Fatalf("state = %s, want offline", src.State())
		}
	})

	t.Run("rejected dial", func(t *testing.T) {
		srv := newRealtimeServer(t, chatsync.ConnectedEvent{Me: me})
		src := chatsync.NewRealtimeSource(chatsync.RealtimeConfig{URL: srv.URL, Token: "wrong"}, nil)
		if err := src.Connect(ctx); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		src := chatsync.NewRealtimeSource(chatsync.RealtimeConfig{URL: "ftp://example.com/ws"}, nil)
		if err := src.Connect(ctx); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestRealtimeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://chat.example.com", "wss://chat.example.com/ws"},
		{"http://localhost:3200/", "ws://localhost:3200/ws"},
	}
	for _, tt := range tests {
		if got := chatsync.RealtimeURL(tt.in); got != tt.want {
			t.Errorf("RealtimeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
