package main

import (
	"context"
	"testing"

	"github.com/LuminPulse-AI/chatsync"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{"default.base_url", "https://chat.example.com", false},
		{"default.user_id", "alice", false},
		{"store.driver", "pebble", false},
		{"store.driver", "redis", true},
		{"store.path", "/tmp/cache", false},
		{"default.api_key", "x", true},
		{"nosection", "x", true},
		{"auth.token", "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			var cfg Config
			err := setConfigValue(&cfg, tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setConfigValue error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHATSYNC_BASE_URL", "")
	t.Setenv("CHATSYNC_TOKEN", "")
	t.Setenv("CHATSYNC_USER_ID", "")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig error: %v", err)
	}
	if cfg.Default.BaseURL != "" || cfg.Store.Driver != "" {
		t.Fatalf("expected a zero config, got %+v", cfg)
	}

	cfg.Default.BaseURL = "https://chat.example.com"
	cfg.Store.Driver = "sqlite"
	if err := saveConfig(cfg); err != nil {
		t.Fatalf("saveConfig error: %v", err)
	}

	t.Setenv("CHATSYNC_USER_ID", "bob")
	got, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig error: %v", err)
	}
	if got.Default.BaseURL != "https://chat.example.com" || got.Store.Driver != "sqlite" {
		t.Fatalf("config = %+v", got)
	}
	if got.Default.UserID != "bob" {
		t.Fatalf("user id = %q, want the environment override", got.Default.UserID)
	}
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, driver := range []string{"memory", "sqlite", "pebble"} {
		t.Run(driver, func(t *testing.T) {
			cfg := &Config{Store: ConfigStore{Driver: driver, Path: dir + "/" + driver}}
			repo, closer, err := openRepository(cfg)
			if err != nil {
				t.Fatalf("openRepository error: %v", err)
			}
			defer closer.Close()

			msg := chatsync.Message{ID: "m1", CID: "messaging:general", SyncStatus: chatsync.SyncNeeded}
			if err := repo.InsertMessage(ctx, msg); err != nil {
				t.Fatalf("InsertMessage error: %v", err)
			}
			pending, err := repo.SelectMessagesBySyncStatus(ctx, chatsync.SyncNeeded)
			if err != nil {
				t.Fatalf("SelectMessagesBySyncStatus error: %v", err)
			}
			if len(pending) != 1 || pending[0].ID != "m1" {
				t.Fatalf("pending = %+v", pending)
			}
		})
	}

	t.Run("missing path", func(t *testing.T) {
		if _, _, err := openRepository(&Config{Store: ConfigStore{Driver: "sqlite"}}); err == nil {
			t.Fatal("expected an error")
		}
	})
}
