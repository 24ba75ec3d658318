package chatsync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LuminPulse-AI/chatsync"
)

func TestEditMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	sent, err := h.client.SendMessage(ctx, cid, chatsync.Message{Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}

	t.Run("online", func(t *testing.T) {
		h.clock.Advance(time.Minute)
		edit := sent
		edit.Text = "edited"
		got, err := h.client.EditMessage(ctx, edit)
		if err != nil {
			t.Fatalf("EditMessage error: %v", err)
		}
		if got.Text != "edited" || got.SyncStatus != chatsync.SyncCompleted {
			t.Fatalf("edited = %q %s", got.Text, got.SyncStatus)
		}
		stored, _ := h.state(t, cid).Message(sent.ID)
		if stored.Text != "edited" {
			t.Fatalf("state text = %q, want edited", stored.Text)
		}
	})

	t.Run("offline is queued", func(t *testing.T) {
		h.client.SetOnline(false)
		defer h.client.SetOnline(true)
		h.clock.Advance(time.Minute)
		edit := sent
		edit.Text = "later"
		got, err := h.client.EditMessage(ctx, edit)
		if !errors.Is(err, chatsync.ErrOffline) {
			t.Fatalf("EditMessage error = %v, want ErrOffline", err)
		}
		if got.SyncStatus != chatsync.SyncNeeded {
			t.Fatalf("sync status = %s, want sync needed", got.SyncStatus)
		}
		pending, err := h.repo.SelectMessagesBySyncStatus(ctx, chatsync.SyncNeeded)
		if err != nil {
			t.Fatalf("SelectMessagesBySyncStatus error: %v", err)
		}
		if len(pending) != 1 || pending[0].Text != "later" {
			t.Fatalf("pending = %+v", pending)
		}
	})

	t.Run("blank id", func(t *testing.T) {
		before := h.api.count("UpdateMessage")
		if _, err := h.client.EditMessage(ctx, chatsync.Message{CID: cid, Text: "x"}); !errors.Is(err, chatsync.ErrBlankField) {
			t.Fatalf("EditMessage error = %v, want ErrBlankField", err)
		}
		if h.api.count("UpdateMessage") != before {
			t.Fatal("a precondition failure must not reach the API")
		}
	})
}

func TestMarkAllRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	at := h.clock.Now()
	cids := []string{cid, "messaging:random"}
	for i, c := range cids {
		msg := serverMessage("m"+string(rune('1'+i)), bob, at)
		msg.CID = c
		h.client.HandleEvent(ctx, chatsync.NewMessageEvent{
			EventBase: chatsync.EventBase{CID: c, CreatedAt: at},
			Message:   msg,
		})
		if got := h.state(t, c).UnreadCount().Value(); got != 1 {
			t.Fatalf("%s unread = %d, want 1", c, got)
		}
	}

	if err := h.client.MarkAllRead(ctx); err != nil {
		t.Fatalf("MarkAllRead error: %v", err)
	}
	for _, c := range cids {
		if got := h.state(t, c).UnreadCount().Value(); got != 0 {
			t.Fatalf("%s unread = %d, want 0", c, got)
		}
	}
	if h.client.Global().TotalUnreadCount().Value() != 0 {
		t.Fatal("expected total unread reset")
	}
	if h.api.count("MarkAllRead") != 1 {
		t.Fatalf("MarkAllRead calls = %d, want 1", h.api.count("MarkAllRead"))
	}
}

func TestQueryMembers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.api.channel = chatsync.Channel{Name: "General"}
	if _, err := h.client.QueryChannel(ctx, cid, chatsync.QueryChannelRequest{
		Messages: chatsync.MessagePagination{Limit: 10},
	}); err != nil {
		t.Fatalf("QueryChannel error: %v", err)
	}

	h.api.members = []chatsync.Member{{User: bob, Role: "member"}}
	members, err := h.client.QueryMembers(ctx, cid, chatsync.QueryMembersRequest{Limit: 10})
	if err != nil {
		t.Fatalf("QueryMembers error: %v", err)
	}
	if len(members) != 1 || members[0].User.ID != "bob" {
		t.Fatalf("members = %+v", members)
	}
	if got := h.state(t, cid).Members().Value(); len(got) != 1 || got[0].User.ID != "bob" {
		t.Fatalf("state members = %+v", got)
	}

	t.Run("transient failure answers from cache", func(t *testing.T) {
		h.api.setErr(&chatsync.APIError{StatusCode: 503, Code: "UNAVAILABLE"})
		defer h.api.setErr(nil)
		members, err := h.client.QueryMembers(ctx, cid, chatsync.QueryMembersRequest{Limit: 10})
		if err != nil {
			t.Fatalf("QueryMembers error: %v", err)
		}
		if len(members) != 1 || members[0].User.ID != "bob" {
			t.Fatalf("cached members = %+v", members)
		}
	})

	t.Run("permanent failure surfaces", func(t *testing.T) {
		h.api.setErr(&chatsync.APIError{StatusCode: 403, Code: "FORBIDDEN"})
		defer h.api.setErr(nil)
		if _, err := h.client.QueryMembers(ctx, cid, chatsync.QueryMembersRequest{Limit: 10}); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestFetchCurrentUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.api.user = chatsync.User{ID: "alice", Name: "Alice Liddell"}

	u, err := h.client.FetchCurrentUser(ctx)
	if err != nil {
		t.Fatalf("FetchCurrentUser error: %v", err)
	}
	if cur, _ := h.client.Global().CurrentUser(); u.Name != "Alice Liddell" || cur.Name != "Alice Liddell" {
		t.Fatalf("user = %+v, session user = %+v", u, cur)
	}
	cached, err := h.repo.SelectUser(ctx, "alice")
	if err != nil || cached == nil || cached.Name != "Alice Liddell" {
		t.Fatalf("cached user = %+v (err %v)", cached, err)
	}

	h.client.SetOnline(false)
	u, err = h.client.FetchCurrentUser(ctx)
	if err != nil {
		t.Fatalf("offline FetchCurrentUser error: %v", err)
	}
	if u.Name != "Alice Liddell" || h.api.count("FetchCurrentUser") != 1 {
		t.Fatalf("offline user = %+v, calls = %d", u, h.api.count("FetchCurrentUser"))
	}
}

func TestGiphy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	preview := func(id string) chatsync.Message {
		return chatsync.Message{ID: id, CID: cid, Type: chatsync.MessageTypeEphemeral, User: me, Text: "/giphy cat"}
	}

	t.Run("shuffle keeps the preview local", func(t *testing.T) {
		got, err := h.client.ShuffleGiphy(ctx, preview("g1"))
		if err != nil {
			t.Fatalf("ShuffleGiphy error: %v", err)
		}
		if got.SyncStatus != chatsync.SyncCompleted {
			t.Fatalf("sync status = %s", got.SyncStatus)
		}
		if _, ok := h.state(t, cid).Message("g1"); !ok {
			t.Fatal("expected the preview in state")
		}
		if cached, _ := h.repo.SelectMessage(ctx, "g1"); cached != nil {
			t.Fatal("ephemeral previews must not be cached")
		}
	})

	t.Run("cancel removes the preview without a request", func(t *testing.T) {
		if _, err := h.client.SendGiphy(ctx, preview("g1"), chatsync.GiphyCancel); err != nil {
			t.Fatalf("SendGiphy error: %v", err)
		}
		if _, ok := h.state(t, cid).Message("g1"); ok {
			t.Fatal("expected the preview removed")
		}
		if h.api.count("SendGiphy") != 0 {
			t.Fatal("cancel must not reach the API")
		}
	})

	t.Run("send settles a regular message", func(t *testing.T) {
		got, err := h.client.SendGiphy(ctx, preview("g2"), chatsync.GiphySend)
		if err != nil {
			t.Fatalf("SendGiphy error: %v", err)
		}
		if got.Type != chatsync.MessageTypeRegular || got.SyncStatus != chatsync.SyncCompleted {
			t.Fatalf("message = %s %s", got.Type, got.SyncStatus)
		}
		if cached, _ := h.repo.SelectMessage(ctx, "g2"); cached == nil {
			t.Fatal("expected the sent giphy cached")
		}
	})

	t.Run("missing cid", func(t *testing.T) {
		if _, err := h.client.ShuffleGiphy(ctx, chatsync.Message{ID: "g3"}); !errors.Is(err, chatsync.ErrBlankField) {
			t.Fatalf("ShuffleGiphy error = %v, want ErrBlankField", err)
		}
	})
}
