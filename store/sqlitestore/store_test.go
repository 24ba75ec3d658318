package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/LuminPulse-AI/chatsync/internal/repotest"
	"github.com/LuminPulse-AI/chatsync/store/sqlitestore"
)

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) chatsync.Repository {
		s, err := sqlitestore.Open(filepath.Join(t.TempDir(), "chat.db"))
		if err != nil {
			t.Fatalf("Open error: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestInMemoryDatabase(t *testing.T) {
	s, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.InsertUsers(ctx, []chatsync.User{{ID: "alice"}}); err != nil {
		t.Fatalf("InsertUsers error: %v", err)
	}
	u, err := s.SelectUser(ctx, "alice")
	if err != nil || u == nil {
		t.Fatalf("SelectUser = %v, %v", u, err)
	}
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	version, dirty, err := sqlitestore.SchemaVersion(s.DB())
	if err != nil {
		t.Fatalf("SchemaVersion error: %v", err)
	}
	if version != 1 || dirty {
		t.Fatalf("SchemaVersion = %d (dirty=%v), want 1", version, dirty)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	t.Run("reopen keeps data and schema", func(t *testing.T) {
		s, err := sqlitestore.Open(path)
		if err != nil {
			t.Fatalf("reopen error: %v", err)
		}
		defer s.Close()
		if err := sqlitestore.MigrateUp(s.DB()); err != nil {
			t.Fatalf("MigrateUp on current schema error: %v", err)
		}
	})
}

func TestFreshConnectionHasNoVersion(t *testing.T) {
	db, err := sqlitestore.OpenConnection(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("OpenConnection error: %v", err)
	}
	defer db.Close()
	version, _, err := sqlitestore.SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion error: %v", err)
	}
	if version != 0 {
		t.Fatalf("SchemaVersion = %d, want 0", version)
	}
}
