package chatsync_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/LuminPulse-AI/chatsync"
)

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	h := newHarness(t, false, chatsync.WithMetrics(chatsync.NewMetrics(reg)))

	_, _ = h.client.SendMessage(ctx, cid, chatsync.Message{})
	_, _ = h.client.SendMessage(ctx, cid, chatsync.Message{Text: "queued"})
	h.client.SetOnline(true)
	if err := chatsync.NewSyncManager(h.client, chatsync.WithSyncInterval(0)).Sync(ctx); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	at := h.clock.Now()
	h.client.HandleEvent(ctx, chatsync.NewMessageEvent{
		EventBase: chatsync.EventBase{CID: cid, CreatedAt: at},
		Message:   serverMessage("m1", bob, at),
	})

	expected := `
# HELP chatsync_operations_total Outgoing operations, by operation and outcome.
# TYPE chatsync_operations_total counter
chatsync_operations_total{op="send_message",outcome="queued"} 1
chatsync_operations_total{op="send_message",outcome="rejected"} 1
chatsync_operations_total{op="send_message",outcome="success"} 1
# HELP chatsync_events_applied_total Events applied to channel state, by event type.
# TYPE chatsync_events_applied_total counter
chatsync_events_applied_total{type="message.new"} 1
# HELP chatsync_sync_runs_total Resubmission passes, by result.
# TYPE chatsync_sync_runs_total counter
chatsync_sync_runs_total{result="ok"} 1
# HELP chatsync_pending_sync Messages and reactions waiting to be resubmitted.
# TYPE chatsync_pending_sync gauge
chatsync_pending_sync 0
`
	err := promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"chatsync_operations_total",
		"chatsync_events_applied_total",
		"chatsync_sync_runs_total",
		"chatsync_pending_sync",
	)
	if err != nil {
		t.Fatalf("GatherAndCompare error: %v", err)
	}
}

func TestNilMetrics(t *testing.T) {
	// A client without metrics must run every path without recording.
	h := newHarness(t, true)
	if _, err := h.client.SendMessage(context.Background(), cid, chatsync.Message{Text: "hi"}); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
}
