// Package repotest checks that a chatsync.Repository behaves like the
// in-memory reference.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LuminPulse-AI/chatsync"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func msg(id, cid string, min int) chatsync.Message {
	return chatsync.Message{
		ID:         id,
		CID:        cid,
		Text:       "text " + id,
		User:       chatsync.User{ID: "alice"},
		CreatedAt:  at(min),
		SyncStatus: chatsync.SyncCompleted,
	}
}

func ids(msgs []chatsync.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(t *testing.T, got []chatsync.Message, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("ids = %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("ids = %v, want %v", g, want)
		}
	}
}

// Run exercises newRepo against the Repository contract. newRepo must return
// an empty repository and register its own cleanup.
func Run(t *testing.T, newRepo func(t *testing.T) chatsync.Repository) {
	ctx := context.Background()
	latest := func(limit int) chatsync.MessagePagination {
		return chatsync.MessagePagination{Direction: chatsync.DirectionLatest, Limit: limit}
	}

	t.Run("missing entities are nil", func(t *testing.T) {
		repo := newRepo(t)
		if m, err := repo.SelectMessage(ctx, "nope"); err != nil || m != nil {
			t.Fatalf("SelectMessage = %v, %v; want nil, nil", m, err)
		}
		if u, err := repo.SelectUser(ctx, "nope"); err != nil || u != nil {
			t.Fatalf("SelectUser = %v, %v; want nil, nil", u, err)
		}
		if c, err := repo.SelectChannelConfig(ctx, "nope"); err != nil || c != nil {
			t.Fatalf("SelectChannelConfig = %v, %v; want nil, nil", c, err)
		}
		if q, err := repo.SelectQueryChannels(ctx, "nope"); err != nil || q != nil {
			t.Fatalf("SelectQueryChannels = %v, %v; want nil, nil", q, err)
		}
		chs, err := repo.SelectChannels(ctx, []string{"messaging:nope"}, latest(10))
		if err != nil || len(chs) != 0 {
			t.Fatalf("SelectChannels = %v, %v; want empty", chs, err)
		}
	})

	t.Run("insert message upserts by id", func(t *testing.T) {
		repo := newRepo(t)
		m := msg("m1", "messaging:a", 1)
		if err := repo.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage error: %v", err)
		}
		m.Text = "edited"
		m.CreatedAt = at(5)
		if err := repo.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage error: %v", err)
		}
		got, err := repo.SelectMessage(ctx, "m1")
		if err != nil {
			t.Fatalf("SelectMessage error: %v", err)
		}
		if got == nil || got.Text != "edited" || !got.CreatedAt.Equal(at(5)) {
			t.Fatalf("SelectMessage = %+v", got)
		}
		page, err := repo.SelectMessagesForChannel(ctx, "messaging:a", latest(10))
		if err != nil {
			t.Fatalf("SelectMessagesForChannel error: %v", err)
		}
		equalIDs(t, page, "m1")
	})

	t.Run("blank message id is rejected", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.InsertMessages(ctx, []chatsync.Message{{CID: "messaging:a"}})
		if !errors.Is(err, chatsync.ErrBlankField) {
			t.Fatalf("InsertMessages error = %v, want ErrBlankField", err)
		}
	})

	t.Run("channel pagination", func(t *testing.T) {
		repo := newRepo(t)
		var msgs []chatsync.Message
		for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
			msgs = append(msgs, msg(id, "messaging:a", i))
		}
		msgs = append(msgs, msg("other", "messaging:b", 2))
		reply := msg("r1", "messaging:a", 10)
		reply.ParentID = "m1"
		msgs = append(msgs, reply)
		if err := repo.InsertMessages(ctx, msgs); err != nil {
			t.Fatalf("InsertMessages error: %v", err)
		}

		tests := []struct {
			name string
			p    chatsync.MessagePagination
			want []string
		}{
			{"latest", latest(2), []string{"m4", "m5"}},
			{"older", chatsync.MessagePagination{Direction: chatsync.DirectionOlder, MessageID: "m3", Limit: 5}, []string{"m1", "m2"}},
			{"newer", chatsync.MessagePagination{Direction: chatsync.DirectionNewer, MessageID: "m3", Limit: 1}, []string{"m4"}},
			{"around", chatsync.MessagePagination{Direction: chatsync.DirectionAround, MessageID: "m3", Limit: 3}, []string{"m2", "m3", "m4"}},
			{"unknown anchor", chatsync.MessagePagination{Direction: chatsync.DirectionOlder, MessageID: "zz", Limit: 3}, nil},
			{"zero limit", latest(0), nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.SelectMessagesForChannel(ctx, "messaging:a", tt.p)
				if err != nil {
					t.Fatalf("SelectMessagesForChannel error: %v", err)
				}
				equalIDs(t, got, tt.want...)
			})
		}
	})

	t.Run("thread replies", func(t *testing.T) {
		repo := newRepo(t)
		var msgs []chatsync.Message
		for i, id := range []string{"r1", "r2", "r3"} {
			m := msg(id, "messaging:a", i+1)
			m.ParentID = "p"
			msgs = append(msgs, m)
		}
		msgs[2].ShowInChannel = true
		if err := repo.InsertMessages(ctx, append(msgs, msg("p", "messaging:a", 0))); err != nil {
			t.Fatalf("InsertMessages error: %v", err)
		}
		got, err := repo.SelectMessagesForThread(ctx, "p", 2)
		if err != nil {
			t.Fatalf("SelectMessagesForThread error: %v", err)
		}
		equalIDs(t, got, "r2", "r3")

		page, err := repo.SelectMessagesForChannel(ctx, "messaging:a", latest(10))
		if err != nil {
			t.Fatalf("SelectMessagesForChannel error: %v", err)
		}
		equalIDs(t, page, "p", "r3")
	})

	t.Run("sync status selection", func(t *testing.T) {
		repo := newRepo(t)
		pending := msg("m2", "messaging:a", 2)
		pending.SyncStatus = chatsync.SyncNeeded
		pending.CreatedAt = time.Time{}
		pending.CreatedLocallyAt = at(2)
		first := msg("m1", "messaging:a", 1)
		first.SyncStatus = chatsync.SyncNeeded
		if err := repo.InsertMessages(ctx, []chatsync.Message{pending, msg("m3", "messaging:a", 3), first}); err != nil {
			t.Fatalf("InsertMessages error: %v", err)
		}
		got, err := repo.SelectMessagesBySyncStatus(ctx, chatsync.SyncNeeded)
		if err != nil {
			t.Fatalf("SelectMessagesBySyncStatus error: %v", err)
		}
		equalIDs(t, got, "m1", "m2")

		first.SyncStatus = chatsync.SyncCompleted
		if err := repo.InsertMessage(ctx, first); err != nil {
			t.Fatalf("InsertMessage error: %v", err)
		}
		got, err = repo.SelectMessagesBySyncStatus(ctx, chatsync.SyncNeeded)
		if err != nil {
			t.Fatalf("SelectMessagesBySyncStatus error: %v", err)
		}
		equalIDs(t, got, "m2")
	})

	t.Run("delete messages", func(t *testing.T) {
		repo := newRepo(t)
		msgs := []chatsync.Message{msg("m1", "messaging:a", 1), msg("m2", "messaging:a", 2), msg("m3", "messaging:a", 3), msg("o1", "messaging:b", 1)}
		if err := repo.InsertMessages(ctx, msgs); err != nil {
			t.Fatalf("InsertMessages error: %v", err)
		}
		r := chatsync.Reaction{MessageID: "m3", UserID: "alice", Type: "like", CreatedAt: at(4)}
		if err := repo.InsertReaction(ctx, r); err != nil {
			t.Fatalf("InsertReaction error: %v", err)
		}

		if err := repo.DeleteChannelMessagesBefore(ctx, "messaging:a", at(2)); err != nil {
			t.Fatalf("DeleteChannelMessagesBefore error: %v", err)
		}
		page, err := repo.SelectMessagesForChannel(ctx, "messaging:a", latest(10))
		if err != nil {
			t.Fatalf("SelectMessagesForChannel error: %v", err)
		}
		equalIDs(t, page, "m3")
		other, err := repo.SelectMessagesForChannel(ctx, "messaging:b", latest(10))
		if err != nil {
			t.Fatalf("SelectMessagesForChannel error: %v", err)
		}
		equalIDs(t, other, "o1")

		if err := repo.DeleteChannelMessage(ctx, msgs[2]); err != nil {
			t.Fatalf("DeleteChannelMessage error: %v", err)
		}
		if m, _ := repo.SelectMessage(ctx, "m3"); m != nil {
			t.Fatalf("m3 still stored: %+v", m)
		}
		if got, _ := repo.SelectUserReactionToMessage(ctx, "like", "m3", "alice"); got != nil {
			t.Fatalf("reaction of deleted message still stored: %+v", got)
		}
	})

	t.Run("channels", func(t *testing.T) {
		repo := newRepo(t)
		cfg := chatsync.DefaultChannelConfig("messaging")
		cfg.MaxMessageLength = 300
		chA := chatsync.Channel{CID: "messaging:a", Type: "messaging", ID: "a", Name: "A",
			Members: []chatsync.Member{{User: chatsync.User{ID: "alice"}}}}
		chB := chatsync.Channel{CID: "messaging:b", Type: "messaging", ID: "b", Name: "B",
			Messages: []chatsync.Message{msg("ignored", "messaging:b", 1)}}
		err := repo.StoreStateForChannels(ctx,
			[]chatsync.ChannelConfig{cfg},
			[]chatsync.User{{ID: "alice", Name: "Alice"}},
			[]chatsync.Channel{chA, chB},
			[]chatsync.Message{msg("m1", "messaging:a", 1)})
		if err != nil {
			t.Fatalf("StoreStateForChannels error: %v", err)
		}

		got, err := repo.SelectChannels(ctx, []string{"messaging:b", "messaging:zz", "messaging:a"}, latest(10))
		if err != nil {
			t.Fatalf("SelectChannels error: %v", err)
		}
		if len(got) != 2 || got[0].CID != "messaging:b" || got[1].CID != "messaging:a" {
			t.Fatalf("SelectChannels = %+v", got)
		}
		if len(got[0].Messages) != 0 {
			t.Fatalf("channel row kept its messages: %v", ids(got[0].Messages))
		}
		equalIDs(t, got[1].Messages, "m1")
		if got[1].Config.MaxMessageLength != 300 {
			t.Fatalf("Config = %+v, want the stored config", got[1].Config)
		}
		if u, err := repo.SelectUser(ctx, "alice"); err != nil || u == nil || u.Name != "Alice" {
			t.Fatalf("SelectUser = %+v, %v", u, err)
		}

		err = repo.UpdateMembersForChannel(ctx, "messaging:a", []chatsync.Member{
			{User: chatsync.User{ID: "alice"}, Role: "owner"},
			{User: chatsync.User{ID: "bob"}},
		})
		if err != nil {
			t.Fatalf("UpdateMembersForChannel error: %v", err)
		}
		if err := repo.UpdateMembersForChannel(ctx, "messaging:zz", []chatsync.Member{{User: chatsync.User{ID: "x"}}}); err != nil {
			t.Fatalf("UpdateMembersForChannel on missing channel error: %v", err)
		}
		got, err = repo.SelectChannels(ctx, []string{"messaging:a", "messaging:zz"}, latest(10))
		if err != nil {
			t.Fatalf("SelectChannels error: %v", err)
		}
		if len(got) != 1 || len(got[0].Members) != 2 || got[0].Members[0].Role != "owner" {
			t.Fatalf("members = %+v", got)
		}
	})

	t.Run("hidden channel", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.InsertMessages(ctx, []chatsync.Message{msg("m1", "messaging:a", 1), msg("m2", "messaging:a", 2)}); err != nil {
			t.Fatalf("InsertMessages error: %v", err)
		}
		if err := repo.SetHiddenForChannel(ctx, "messaging:a", true, at(1)); err != nil {
			t.Fatalf("SetHiddenForChannel error: %v", err)
		}
		got, err := repo.SelectChannels(ctx, []string{"messaging:a"}, latest(10))
		if err != nil {
			t.Fatalf("SelectChannels error: %v", err)
		}
		if len(got) != 1 || !got[0].Hidden || !got[0].HiddenMessagesBefore.Equal(at(1)) {
			t.Fatalf("SelectChannels = %+v", got)
		}
		equalIDs(t, got[0].Messages, "m2")

		if err := repo.SetHiddenForChannel(ctx, "bad", true, time.Time{}); err == nil {
			t.Fatal("SetHiddenForChannel accepted an invalid cid")
		}
	})

	t.Run("query channels", func(t *testing.T) {
		repo := newRepo(t)
		spec := chatsync.QueryChannelsSpec{ID: "q1", CIDs: []string{"messaging:b", "messaging:a"}}
		if err := repo.InsertQueryChannels(ctx, spec); err != nil {
			t.Fatalf("InsertQueryChannels error: %v", err)
		}
		spec.CIDs[0] = "changed"
		got, err := repo.SelectQueryChannels(ctx, "q1")
		if err != nil {
			t.Fatalf("SelectQueryChannels error: %v", err)
		}
		if got == nil || len(got.CIDs) != 2 || got.CIDs[0] != "messaging:b" {
			t.Fatalf("SelectQueryChannels = %+v", got)
		}
	})

	t.Run("reactions", func(t *testing.T) {
		repo := newRepo(t)
		like := chatsync.Reaction{MessageID: "m1", UserID: "alice", Type: "like", CreatedAt: at(1), SyncStatus: chatsync.SyncCompleted}
		love := chatsync.Reaction{MessageID: "m1", UserID: "alice", Type: "love", CreatedAt: at(2), SyncStatus: chatsync.SyncNeeded}
		bobs := chatsync.Reaction{MessageID: "m1", UserID: "bob", Type: "like", CreatedAt: at(0), SyncStatus: chatsync.SyncCompleted}
		for _, r := range []chatsync.Reaction{like, love, bobs} {
			if err := repo.InsertReaction(ctx, r); err != nil {
				t.Fatalf("InsertReaction error: %v", err)
			}
		}

		got, err := repo.SelectUserReactionToMessage(ctx, "like", "m1", "alice")
		if err != nil || got == nil || got.Type != "like" {
			t.Fatalf("SelectUserReactionToMessage = %+v, %v", got, err)
		}

		if err := repo.UpdateReactionsForMessageByDeletedDate(ctx, "alice", "m1", at(3)); err != nil {
			t.Fatalf("UpdateReactionsForMessageByDeletedDate error: %v", err)
		}
		if got, _ := repo.SelectUserReactionToMessage(ctx, "like", "m1", "alice"); got != nil {
			t.Fatalf("soft-deleted reaction still selectable: %+v", got)
		}
		if got, _ := repo.SelectUserReactionToMessage(ctx, "like", "m1", "bob"); got == nil {
			t.Fatal("reaction of another user was deleted")
		}

		pending, err := repo.SelectReactionsBySyncStatus(ctx, chatsync.SyncNeeded)
		if err != nil {
			t.Fatalf("SelectReactionsBySyncStatus error: %v", err)
		}
		if len(pending) != 2 || pending[0].Type != "like" || pending[1].Type != "love" {
			t.Fatalf("pending reactions = %+v", pending)
		}
		for _, r := range pending {
			if !r.DeletedAt.Equal(at(3)) {
				t.Fatalf("DeletedAt = %v, want %v", r.DeletedAt, at(3))
			}
		}
	})

	t.Run("clear", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.InsertMessage(ctx, msg("m1", "messaging:a", 1)); err != nil {
			t.Fatalf("InsertMessage error: %v", err)
		}
		if err := repo.InsertUsers(ctx, []chatsync.User{{ID: "alice"}}); err != nil {
			t.Fatalf("InsertUsers error: %v", err)
		}
		if err := repo.Clear(ctx); err != nil {
			t.Fatalf("Clear error: %v", err)
		}
		if m, _ := repo.SelectMessage(ctx, "m1"); m != nil {
			t.Fatalf("message survived Clear: %+v", m)
		}
		if u, _ := repo.SelectUser(ctx, "alice"); u != nil {
			t.Fatalf("user survived Clear: %+v", u)
		}
		if err := repo.InsertMessage(ctx, msg("m2", "messaging:a", 1)); err != nil {
			t.Fatalf("InsertMessage after Clear error: %v", err)
		}
	})
}
