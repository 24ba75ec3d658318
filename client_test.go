package chatsync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/LuminPulse-AI/chatsync/internal/repotest"
)

const cid = "messaging:general"

var bob = chatsync.User{ID: "bob", Name: "Bob"}

func serverMessage(id string, user chatsync.User, at time.Time) chatsync.Message {
	return chatsync.Message{
		ID:         id,
		CID:        cid,
		Text:       "text of " + id,
		Type:       chatsync.MessageTypeRegular,
		User:       user,
		CreatedAt:  at,
		UpdatedAt:  at,
		SyncStatus: chatsync.SyncCompleted,
	}
}

// ============================================================================
// MemoryRepository
// ============================================================================

func TestMemoryRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) chatsync.Repository {
		return chatsync.NewMemoryRepository()
	})
}

// ============================================================================
// Message reconciliation
// ============================================================================

func TestIsMessageNewer(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	done := func(updated time.Time) chatsync.Message {
		return chatsync.Message{ID: "m", CreatedAt: t0, UpdatedAt: updated, SyncStatus: chatsync.SyncCompleted}
	}
	pending := func(local time.Time) chatsync.Message {
		return chatsync.Message{ID: "m", CreatedLocallyAt: t0, UpdatedLocallyAt: local, SyncStatus: chatsync.SyncNeeded}
	}

	tests := []struct {
		name     string
		incoming chatsync.Message
		current  chatsync.Message
		want     bool
	}{
		{"completed beats pending", done(t0), pending(t0.Add(time.Hour)), true},
		{"pending never beats completed", pending(t0.Add(time.Hour)), done(t0), false},
		{"later server update wins", done(t0.Add(time.Minute)), done(t0), true},
		{"earlier server update loses", done(t0), done(t0.Add(time.Minute)), false},
		{"equal server times replace", done(t0), done(t0), true},
		{"later local edit wins", pending(t0.Add(time.Minute)), pending(t0), true},
		{"earlier local edit loses", pending(t0), pending(t0.Add(time.Minute)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chatsync.IsMessageNewer(tt.incoming, tt.current); got != tt.want {
				t.Fatalf("IsMessageNewer = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpsertMessages(t *testing.T) {
	h := newHarness(t, true)
	l := h.logic(t, cid)
	t0 := h.clock.Now()

	m1 := serverMessage("m1", bob, t0)
	m2 := serverMessage("m2", bob, t0.Add(time.Minute))

	t.Run("idempotent", func(t *testing.T) {
		l.UpsertMessages(m2, m1)
		l.UpsertMessages(m1, m2)
		if got := messageIDs(l.State().Messages().Value()); got != "[m1 m2]" {
			t.Fatalf("messages = %s, want [m1 m2]", got)
		}
		if got := l.State().LastMessageAt().Value(); !got.Equal(m2.CreatedAt) {
			t.Fatalf("last message at = %v, want %v", got, m2.CreatedAt)
		}
	})

	t.Run("stale version ignored", func(t *testing.T) {
		edited := m1
		edited.Text = "edited"
		edited.UpdatedAt = t0.Add(2 * time.Minute)
		l.UpsertMessages(edited)
		l.UpsertMessages(m1)
		got, _ := l.State().Message("m1")
		if got.Text != "edited" {
			t.Fatalf("text = %q, want edited", got.Text)
		}
	})

	t.Run("thread replies stay out of the channel", func(t *testing.T) {
		reply := serverMessage("r1", bob, t0.Add(3*time.Minute))
		reply.ParentID = "m1"
		l.UpsertMessages(reply)
		if got := messageIDs(l.State().Messages().Value()); got != "[m1 m2]" {
			t.Fatalf("messages = %s, want [m1 m2]", got)
		}
		if _, ok := l.State().Message("r1"); !ok {
			t.Fatal("expected thread reply to be known to the channel")
		}
	})
}

// ============================================================================
// Unread and reads
// ============================================================================

func TestIncrementUnreadCount(t *testing.T) {
	t.Run("counted once under concurrency", func(t *testing.T) {
		h := newHarness(t, true)
		l := h.logic(t, cid)
		msg := serverMessage("m1", bob, h.clock.Now())

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			moved int
		)
		for range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.IncrementUnreadCountIfNecessary(msg) {
					mu.Lock()
					moved++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if moved != 1 {
			t.Fatalf("counter moved %d times, want 1", moved)
		}
		if got := l.State().UnreadCount().Value(); got != 1 {
			t.Fatalf("unread = %d, want 1", got)
		}
	})

	t.Run("skipped messages", func(t *testing.T) {
		h := newHarness(t, true)
		l := h.logic(t, cid)
		at := h.clock.Now()

		own := serverMessage("own", me, at)
		silent := serverMessage("silent", bob, at.Add(time.Second))
		silent.Silent = true
		reply := serverMessage("reply", bob, at.Add(2*time.Second))
		reply.ParentID = "own"
		system := serverMessage("system", bob, at.Add(3*time.Second))
		system.Type = chatsync.MessageTypeSystem

		for _, m := range []chatsync.Message{own, silent, reply, system} {
			if l.IncrementUnreadCountIfNecessary(m) {
				t.Fatalf("message %s should not be counted", m.ID)
			}
		}
		if got := l.State().UnreadCount().Value(); got != 0 {
			t.Fatalf("unread = %d, want 0", got)
		}
	})

	t.Run("duplicate new message events", func(t *testing.T) {
		h := newHarness(t, true)
		ctx := context.Background()
		at := h.clock.Now()
		first := chatsync.NewMessageEvent{
			EventBase: chatsync.EventBase{CID: cid, CreatedAt: at},
			User:      bob,
			Message:   serverMessage("m1", bob, at),
		}
		second := chatsync.NewMessageEvent{
			EventBase: chatsync.EventBase{CID: cid, CreatedAt: at.Add(time.Second)},
			User:      bob,
			Message:   serverMessage("m2", bob, at.Add(time.Second)),
		}
		h.client.HandleEvent(ctx, first)
		h.client.HandleEvent(ctx, first)
		h.client.HandleEvent(ctx, second)

		if got := h.state(t, cid).UnreadCount().Value(); got != 2 {
			t.Fatalf("unread = %d, want 2", got)
		}
	})

	t.Run("mark read resets", func(t *testing.T) {
		h := newHarness(t, true)
		ctx := context.Background()
		at := h.clock.Now()
		h.client.HandleEvent(ctx, chatsync.NewMessageEvent{
			EventBase: chatsync.EventBase{CID: cid, CreatedAt: at},
			User:      bob,
			Message:   serverMessage("m1", bob, at),
		})
		h.clock.Advance(time.Minute)

		if err := h.client.MarkRead(ctx, cid); err != nil {
			t.Fatalf("MarkRead error: %v", err)
		}
		if got := h.state(t, cid).UnreadCount().Value(); got != 0 {
			t.Fatalf("unread = %d, want 0", got)
		}
		if got := h.state(t, cid).Read().Value().LastReadMessageID; got != "m1" {
			t.Fatalf("last read message = %q, want m1", got)
		}
		err := h.client.MarkRead(ctx, cid)
		if !errors.Is(err, chatsync.ErrAlreadyRead) {
			t.Fatalf("second MarkRead error = %v, want ErrAlreadyRead", err)
		}
		if n := h.api.count("MarkRead"); n != 1 {
			t.Fatalf("MarkRead calls = %d, want 1", n)
		}
	})
}

func TestUpdateRead(t *testing.T) {
	h := newHarness(t, true)
	l := h.logic(t, cid)
	t0 := h.clock.Now()

	tests := []struct {
		name     string
		lastRead time.Time
		want     bool
	}{
		{"first marker", t0, true},
		{"within skew", t0.Add(3 * time.Millisecond), false},
		{"older marker", t0.Add(-time.Second), false},
		{"beyond skew", t0.Add(10 * time.Millisecond), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.UpdateRead(chatsync.ChannelUserRead{User: bob, LastRead: tt.lastRead})
			if got != tt.want {
				t.Fatalf("UpdateRead = %v, want %v", got, tt.want)
			}
		})
	}

	reads := l.State().Reads().Value()
	if len(reads) != 1 || !reads[0].LastRead.Equal(t0.Add(10*time.Millisecond)) {
		t.Fatalf("reads = %+v", reads)
	}
}

// ============================================================================
// Operations
// ============================================================================

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("precondition", func(t *testing.T) {
		h := newHarness(t, true)
		_, err := h.client.SendMessage(ctx, cid, chatsync.Message{Text: "   "})
		if !errors.Is(err, chatsync.ErrBlankField) || !chatsync.IsPrecondition(err) {
			t.Fatalf("SendMessage error = %v, want blank field", err)
		}
		if h.api.count("SendMessage") != 0 {
			t.Fatal("expected no remote call")
		}
		if n := len(h.state(t, cid).Messages().Value()); n != 0 {
			t.Fatalf("messages = %d, want 0", n)
		}
	})

	t.Run("online", func(t *testing.T) {
		h := newHarness(t, true)
		msg, err := h.client.SendMessage(ctx, cid, chatsync.Message{Text: "hello"})
		if err != nil {
			t.Fatalf("SendMessage error: %v", err)
		}
		if msg.ID != "local-1" || msg.SyncStatus != chatsync.SyncCompleted {
			t.Fatalf("message = %s %s, want local-1 completed", msg.ID, msg.SyncStatus)
		}
		if msg.CreatedLocallyAt.IsZero() || msg.CreatedAt.IsZero() {
			t.Fatal("expected both local and server creation times")
		}
		cached, err := h.repo.SelectMessage(ctx, "local-1")
		if err != nil {
			t.Fatalf("SelectMessage error: %v", err)
		}
		if cached == nil || cached.SyncStatus != chatsync.SyncCompleted {
			t.Fatalf("cached = %+v, want completed", cached)
		}
		if got := h.state(t, cid).LastSentMessageDate().Value(); !got.Equal(msg.CreatedAt) {
			t.Fatalf("last sent = %v, want %v", got, msg.CreatedAt)
		}
	})

	t.Run("moderation failure", func(t *testing.T) {
		h := newHarness(t, true)
		h.api.setErr(&chatsync.APIError{StatusCode: 400, Code: chatsync.CodeModerationFailed, Message: "blocked"})
		msg, err := h.client.SendMessage(ctx, cid, chatsync.Message{Text: "bad words"})
		if err == nil {
			t.Fatal("expected an error")
		}
		if msg.SyncStatus != chatsync.SyncFailedPermanently {
			t.Fatalf("sync status = %s, want failed permanently", msg.SyncStatus)
		}
		if msg.SyncDescription == nil || msg.SyncDescription.Type != chatsync.SyncTypeFailedModeration {
			t.Fatalf("sync description = %+v", msg.SyncDescription)
		}

		// The server never accepted it, so deleting is local only.
		h.api.setErr(nil)
		if _, err := h.client.DeleteMessage(ctx, cid, msg.ID, false); err != nil {
			t.Fatalf("DeleteMessage error: %v", err)
		}
		if n := h.api.count("DeleteMessage"); n != 0 {
			t.Fatalf("DeleteMessage calls = %d, want 0", n)
		}
		if _, ok := h.state(t, cid).Message(msg.ID); ok {
			t.Fatal("expected message to be removed from state")
		}
		if cached, _ := h.repo.SelectMessage(ctx, msg.ID); cached != nil {
			t.Fatal("expected message to be removed from cache")
		}
	})

	t.Run("transient failure stays queued", func(t *testing.T) {
		h := newHarness(t, true)
		h.api.setErr(&chatsync.APIError{StatusCode: 503, Code: "UNAVAILABLE", Message: "try later"})
		msg, err := h.client.SendMessage(ctx, cid, chatsync.Message{Text: "hello"})
		if err == nil || chatsync.IsPermanent(err) {
			t.Fatalf("SendMessage error = %v, want transient", err)
		}
		if msg.SyncStatus != chatsync.SyncNeeded {
			t.Fatalf("sync status = %s, want sync needed", msg.SyncStatus)
		}
		pending, err := h.repo.SelectMessagesBySyncStatus(ctx, chatsync.SyncNeeded)
		if err != nil {
			t.Fatalf("SelectMessagesBySyncStatus error: %v", err)
		}
		if messageIDs(pending) != "[local-1]" {
			t.Fatalf("pending = %s, want [local-1]", messageIDs(pending))
		}
	})
}

func TestOfflineSendThenSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	queued, err := h.client.SendMessage(ctx, cid, chatsync.Message{Text: "written on a plane"})
	if !errors.Is(err, chatsync.ErrOffline) {
		t.Fatalf("SendMessage error = %v, want ErrOffline", err)
	}
	if queued.SyncStatus != chatsync.SyncNeeded {
		t.Fatalf("sync status = %s, want sync needed", queued.SyncStatus)
	}
	if h.api.count("SendMessage") != 0 {
		t.Fatal("expected no remote call while offline")
	}
	if got := messageIDs(h.state(t, cid).Messages().Value()); got != "[local-1]" {
		t.Fatalf("messages = %s, want [local-1]", got)
	}

	h.client.SetOnline(true)
	h.clock.Advance(time.Minute)
	sm := chatsync.NewSyncManager(h.client, chatsync.WithSyncInterval(0))
	if err := sm.Sync(ctx); err != nil {
		t.Fatalf("Sync error: %v", err)
	}

	if n := h.api.count("SendMessage"); n != 1 {
		t.Fatalf("SendMessage calls = %d, want 1", n)
	}
	sent, ok := h.state(t, cid).Message("local-1")
	if !ok {
		t.Fatal("expected message local-1 in state")
	}
	if sent.SyncStatus != chatsync.SyncCompleted {
		t.Fatalf("sync status = %s, want completed", sent.SyncStatus)
	}
	if !sent.CreatedLocallyAt.Equal(queued.CreatedLocallyAt) {
		t.Fatalf("created locally at = %v, want %v", sent.CreatedLocallyAt, queued.CreatedLocallyAt)
	}
	pending, err := h.repo.SelectMessagesBySyncStatus(ctx, chatsync.SyncNeeded)
	if err != nil {
		t.Fatalf("SelectMessagesBySyncStatus error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %s, want none", messageIDs(pending))
	}
	if got := messageIDs(h.state(t, cid).Messages().Value()); got != "[local-1]" {
		t.Fatalf("messages = %s, want [local-1]", got)
	}
}

func TestSendReactionEnforceUnique(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	l := h.logic(t, cid)
	l.UpsertMessages(serverMessage("m1", bob, h.clock.Now()))

	if _, err := h.client.SendReaction(ctx, cid, chatsync.Reaction{MessageID: "m1", Type: "like"}, false); err != nil {
		t.Fatalf("SendReaction error: %v", err)
	}
	h.clock.Advance(time.Second)
	if _, err := h.client.SendReaction(ctx, cid, chatsync.Reaction{MessageID: "m1", Type: "love"}, true); err != nil {
		t.Fatalf("SendReaction error: %v", err)
	}

	msg, _ := l.State().Message("m1")
	if len(msg.OwnReactions) != 1 || msg.OwnReactions[0].Type != "love" {
		t.Fatalf("own reactions = %+v, want only love", msg.OwnReactions)
	}
	if msg.ReactionCounts["like"] != 0 || msg.ReactionCounts["love"] != 1 {
		t.Fatalf("reaction counts = %v", msg.ReactionCounts)
	}

	like, err := h.repo.SelectUserReactionToMessage(ctx, "like", "m1", me.ID)
	if err != nil {
		t.Fatalf("SelectUserReactionToMessage error: %v", err)
	}
	if like != nil {
		t.Fatalf("like = %+v, want soft-deleted", like)
	}
	love, err := h.repo.SelectUserReactionToMessage(ctx, "love", "m1", me.ID)
	if err != nil {
		t.Fatalf("SelectUserReactionToMessage error: %v", err)
	}
	if love == nil || love.SyncStatus != chatsync.SyncCompleted || !love.EnforceUnique {
		t.Fatalf("love = %+v, want completed and unique", love)
	}
}

func TestSendReactionUnknownMessage(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.client.SendReaction(context.Background(), cid, chatsync.Reaction{MessageID: "nope", Type: "like"}, false)
	if !errors.Is(err, chatsync.ErrMessageNotFound) {
		t.Fatalf("SendReaction error = %v, want ErrMessageNotFound", err)
	}
	if h.api.count("SendReaction") != 0 {
		t.Fatal("expected no remote call")
	}
}

func TestHideChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("clear history", func(t *testing.T) {
		h := newHarness(t, true)
		l := h.logic(t, cid)
		l.UpsertMessages(serverMessage("m1", bob, h.clock.Now()))
		h.clock.Advance(time.Minute)

		if err := h.client.HideChannel(ctx, cid, true); err != nil {
			t.Fatalf("HideChannel error: %v", err)
		}
		s := l.State()
		if !s.Hidden().Value() {
			t.Fatal("expected channel to be hidden")
		}
		if n := len(s.Messages().Value()); n != 0 {
			t.Fatalf("messages = %d, want 0", n)
		}
	})

	t.Run("failure shows the channel again", func(t *testing.T) {
		h := newHarness(t, true)
		h.api.setErr(&chatsync.APIError{StatusCode: 403, Code: "FORBIDDEN", Message: "no"})
		if err := h.client.HideChannel(ctx, cid, false); err == nil {
			t.Fatal("expected an error")
		}
		if h.state(t, cid).Hidden().Value() {
			t.Fatal("expected channel to be visible")
		}
	})
}

// ============================================================================
// Query channel
// ============================================================================

func TestQueryChannelInProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.api.queryGate = make(chan struct{})
	s := h.state(t, cid)

	started := make(chan struct{}, 1)
	cancel := s.Loading().Observe(func(loading bool) {
		if loading {
			select {
			case started <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	req := chatsync.QueryChannelRequest{Messages: chatsync.MessagePagination{Limit: 10}}
	done := make(chan error, 1)
	go func() {
		_, err := h.client.QueryChannel(ctx, cid, req)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first query never started")
	}

	_, err := h.client.QueryChannel(ctx, cid, req)
	if !errors.Is(err, chatsync.ErrRequestInProgress) {
		t.Fatalf("second QueryChannel error = %v, want ErrRequestInProgress", err)
	}

	// A metadata-only refresh never conflicts with a page load.
	close(h.api.queryGate)
	if _, err := h.client.QueryChannel(ctx, cid, chatsync.QueryChannelRequest{}); err != nil {
		t.Fatalf("refresh QueryChannel error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first QueryChannel error: %v", err)
	}
	if s.Loading().Value() {
		t.Fatal("expected loading flag to be released")
	}
}

func TestQueryChannelRecovery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	at := h.clock.Now()

	err := h.repo.StoreStateForChannels(ctx, nil, nil,
		[]chatsync.Channel{{CID: cid, ID: "general", Type: "messaging", Name: "General"}},
		[]chatsync.Message{serverMessage("m1", bob, at), serverMessage("m2", bob, at.Add(time.Minute))})
	if err != nil {
		t.Fatalf("StoreStateForChannels error: %v", err)
	}

	req := chatsync.QueryChannelRequest{Messages: chatsync.MessagePagination{Limit: 10}}
	ch, err := h.client.QueryChannel(ctx, cid, req)
	if err != nil {
		t.Fatalf("offline QueryChannel error: %v", err)
	}
	if ch.Name != "General" || messageIDs(ch.Messages) != "[m1 m2]" {
		t.Fatalf("channel = %s %s, want cached General [m1 m2]", ch.Name, messageIDs(ch.Messages))
	}
	s := h.state(t, cid)
	if !s.RecoveryNeeded().Value() {
		t.Fatal("expected recovery to be needed after an offline query")
	}
	if h.api.count("QueryChannel") != 0 {
		t.Fatal("expected no remote call while offline")
	}

	h.api.channel = chatsync.Channel{
		CID: cid, ID: "general", Type: "messaging", Name: "General",
		Messages: []chatsync.Message{serverMessage("m2", bob, at.Add(time.Minute)), serverMessage("m3", bob, at.Add(2*time.Minute))},
	}
	h.client.SetOnline(true)
	sm := chatsync.NewSyncManager(h.client, chatsync.WithSyncInterval(0))
	if err := sm.Sync(ctx); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if n := h.api.count("QueryChannel"); n != 1 {
		t.Fatalf("QueryChannel calls = %d, want 1", n)
	}
	if s.RecoveryNeeded().Value() {
		t.Fatal("expected recovery to be cleared")
	}
	if got := messageIDs(s.Messages().Value()); got != "[m1 m2 m3]" {
		t.Fatalf("messages = %s, want [m1 m2 m3]", got)
	}

	t.Run("transient failure", func(t *testing.T) {
		h.api.setErr(&chatsync.APIError{StatusCode: 502, Code: "BAD_GATEWAY", Message: "down"})
		if _, err := h.client.QueryChannel(ctx, cid, req); err == nil {
			t.Fatal("expected an error")
		}
		if !s.RecoveryNeeded().Value() {
			t.Fatal("expected recovery after a transient failure")
		}
	})

	t.Run("permanent failure", func(t *testing.T) {
		h.api.setErr(nil)
		if _, err := h.client.QueryChannel(ctx, cid, req); err != nil {
			t.Fatalf("QueryChannel error: %v", err)
		}
		h.api.setErr(&chatsync.APIError{StatusCode: 404, Code: chatsync.CodeNotFound, Message: "gone"})
		if _, err := h.client.QueryChannel(ctx, cid, req); err == nil {
			t.Fatal("expected an error")
		}
		if s.RecoveryNeeded().Value() {
			t.Fatal("expected no recovery after a permanent failure")
		}
	})
}

func TestQueryChannels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	at := h.clock.Now()
	for _, id := range []string{"a", "b", "c"} {
		h.api.channels = append(h.api.channels, chatsync.Channel{
			CID: "messaging:" + id, ID: id, Type: "messaging",
			Messages: []chatsync.Message{{ID: "msg-" + id, CID: "messaging:" + id, Text: id, User: bob, CreatedAt: at}},
		})
	}

	q, err := h.client.QueryChannelsLogic(chatsync.QueryChannelsRequest{ID: "inbox", Limit: 2})
	if err != nil {
		t.Fatalf("QueryChannelsLogic error: %v", err)
	}
	if _, err := q.Query(ctx); err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if got := q.State().CIDs().Value(); len(got) != 2 || q.State().EndOfChannels().Value() {
		t.Fatalf("cids = %v end = %v", got, q.State().EndOfChannels().Value())
	}
	if _, err := h.client.LoadMoreChannels(ctx, "inbox"); err != nil {
		t.Fatalf("LoadMoreChannels error: %v", err)
	}
	cids := q.State().CIDs().Value()
	if len(cids) != 3 || cids[2] != "messaging:c" || !q.State().EndOfChannels().Value() {
		t.Fatalf("cids = %v end = %v", cids, q.State().EndOfChannels().Value())
	}

	spec, err := h.repo.SelectQueryChannels(ctx, "inbox")
	if err != nil {
		t.Fatalf("SelectQueryChannels error: %v", err)
	}
	if spec == nil || len(spec.CIDs) != 3 {
		t.Fatalf("cached list = %+v", spec)
	}
	msg, _ := h.state(t, "messaging:b").Message("msg-b")
	if msg.SyncStatus != chatsync.SyncCompleted {
		t.Fatalf("sync status = %s, want completed", msg.SyncStatus)
	}
}

// ============================================================================
// Events
// ============================================================================

func TestHandleEventTruncation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	t0 := h.clock.Now()

	for id, minute := range map[string]int{"m1": 0, "m2": 1, "m3": 3} {
		at := t0.Add(time.Duration(minute) * time.Minute)
		h.client.HandleEvent(ctx, chatsync.NewMessageEvent{
			EventBase: chatsync.EventBase{CID: cid, CreatedAt: at},
			User:      bob,
			Message:   serverMessage(id, bob, at),
		})
	}

	cut := t0.Add(2 * time.Minute)
	sys := chatsync.Message{ID: "sys", CID: cid, Type: chatsync.MessageTypeSystem, Text: "history cleared", CreatedAt: cut.Add(time.Second)}
	h.client.HandleEvent(ctx, chatsync.ChannelTruncatedEvent{
		EventBase: chatsync.EventBase{CID: cid, CreatedAt: cut},
		Message:   &sys,
	})

	s := h.state(t, cid)
	if got := messageIDs(s.Messages().Value()); got != "[sys m3]" {
		t.Fatalf("messages = %s, want [sys m3]", got)
	}
	got, _ := s.Message("sys")
	if got.SyncStatus != chatsync.SyncCompleted {
		t.Fatalf("system message status = %s, want completed", got.SyncStatus)
	}

	for _, id := range []string{"m1", "m2"} {
		cached, err := h.repo.SelectMessage(ctx, id)
		if err != nil {
			t.Fatalf("SelectMessage error: %v", err)
		}
		if cached != nil {
			t.Fatalf("expected %s to be removed from cache", id)
		}
	}
	cached, err := h.repo.SelectMessagesForChannel(ctx, cid, chatsync.MessagePagination{Limit: 10})
	if err != nil {
		t.Fatalf("SelectMessagesForChannel error: %v", err)
	}
	if messageIDs(cached) != "[sys m3]" {
		t.Fatalf("cached = %s, want [sys m3]", messageIDs(cached))
	}
}

func TestHandleEventHidden(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	t0 := h.clock.Now()
	h.client.HandleEvent(ctx, chatsync.NewMessageEvent{
		EventBase: chatsync.EventBase{CID: cid, CreatedAt: t0},
		Message:   serverMessage("m1", bob, t0),
	})
	h.client.HandleEvent(ctx, chatsync.ChannelHiddenEvent{
		EventBase:    chatsync.EventBase{CID: cid, CreatedAt: t0.Add(time.Minute)},
		User:         me,
		ClearHistory: true,
	})

	s := h.state(t, cid)
	if !s.Hidden().Value() || len(s.Messages().Value()) != 0 {
		t.Fatalf("hidden = %v messages = %s", s.Hidden().Value(), messageIDs(s.Messages().Value()))
	}

	h.client.HandleEvent(ctx, chatsync.NewMessageEvent{
		EventBase: chatsync.EventBase{CID: cid, CreatedAt: t0.Add(2 * time.Minute)},
		Message:   serverMessage("m2", bob, t0.Add(2*time.Minute)),
	})
	if s.Hidden().Value() {
		t.Fatal("expected a new message to show the channel")
	}
	if got := messageIDs(s.Messages().Value()); got != "[m2]" {
		t.Fatalf("messages = %s, want [m2]", got)
	}
}

func TestHandleEventConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	h.client.HandleEvent(ctx, chatsync.ConnectedEvent{Me: chatsync.User{ID: me.ID, TotalUnreadCount: 4}})
	if !h.client.IsOnline() {
		t.Fatal("expected client to be online")
	}
	h.client.HandleEvent(ctx, chatsync.DisconnectedEvent{Reason: "network"})
	if h.client.IsOnline() {
		t.Fatal("expected client to be offline")
	}
	h.client.HandleEvent(ctx, chatsync.UnknownEvent{RawType: "custom.thing"})
	if h.client.IsOnline() {
		t.Fatal("unknown events must not change the connection")
	}
}

func TestDecodeEvent(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		in := chatsync.ReactionNewEvent{
			EventBase: chatsync.EventBase{CID: cid, CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
			User:      bob,
			Reaction:  chatsync.Reaction{MessageID: "m1", UserID: bob.ID, Type: "like", Score: 1},
		}
		data, err := chatsync.EncodeEvent(in)
		if err != nil {
			t.Fatalf("EncodeEvent error: %v", err)
		}
		out, err := chatsync.DecodeEvent(data)
		if err != nil {
			t.Fatalf("DecodeEvent error: %v", err)
		}
		got, ok := out.(chatsync.ReactionNewEvent)
		if !ok {
			t.Fatalf("decoded %T, want ReactionNewEvent", out)
		}
		if got.ChannelCID() != cid || got.Reaction.Type != "like" || !got.Created().Equal(in.CreatedAt) {
			t.Fatalf("decoded = %+v", got)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		out, err := chatsync.DecodeEvent([]byte(`{"type":"poll.closed","payload":{"id":"p1"}}`))
		if err != nil {
			t.Fatalf("DecodeEvent error: %v", err)
		}
		u, ok := out.(chatsync.UnknownEvent)
		if !ok || u.RawType != "poll.closed" {
			t.Fatalf("decoded = %#v, want UnknownEvent", out)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := chatsync.DecodeEvent([]byte(`{"type":`)); err == nil {
			t.Fatal("expected an error")
		}
		if _, err := chatsync.DecodeEvent([]byte(`{"type":"message.new","payload":{"message":7}}`)); err == nil {
			t.Fatal("expected an error")
		}
	})
}
