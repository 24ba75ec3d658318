package pebblestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/LuminPulse-AI/chatsync/internal/repotest"
	"github.com/LuminPulse-AI/chatsync/store/pebblestore"
)

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) chatsync.Repository {
		s, err := pebblestore.OpenInMemory()
		if err != nil {
			t.Fatalf("OpenInMemory error: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	s, err := pebblestore.Open(dir)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.InsertMessage(ctx, chatsync.Message{ID: "m1", CID: "messaging:a", CreatedAt: created}); err != nil {
		t.Fatalf("InsertMessage error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	s, err = pebblestore.Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()
	page, err := s.SelectMessagesForChannel(ctx, "messaging:a", chatsync.MessagePagination{Limit: 10})
	if err != nil {
		t.Fatalf("SelectMessagesForChannel error: %v", err)
	}
	if len(page) != 1 || page[0].ID != "m1" {
		t.Fatalf("page = %+v", page)
	}
}

func TestMoveBetweenThreadAndChannel(t *testing.T) {
	s, err := pebblestore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	reply := chatsync.Message{ID: "r1", CID: "messaging:a", ParentID: "p", CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	if err := s.InsertMessage(ctx, reply); err != nil {
		t.Fatalf("InsertMessage error: %v", err)
	}
	latest := chatsync.MessagePagination{Limit: 10}
	if page, _ := s.SelectMessagesForChannel(ctx, "messaging:a", latest); len(page) != 0 {
		t.Fatalf("thread-only reply listed in channel: %+v", page)
	}

	reply.ShowInChannel = true
	if err := s.InsertMessage(ctx, reply); err != nil {
		t.Fatalf("InsertMessage error: %v", err)
	}
	page, err := s.SelectMessagesForChannel(ctx, "messaging:a", latest)
	if err != nil {
		t.Fatalf("SelectMessagesForChannel error: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("page = %+v, want the reply shown in channel", page)
	}
	replies, err := s.SelectMessagesForThread(ctx, "p", 10)
	if err != nil {
		t.Fatalf("SelectMessagesForThread error: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("replies = %+v, want exactly one", replies)
	}
}
