package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/LuminPulse-AI/chatsync/store/pebblestore"
	"github.com/LuminPulse-AI/chatsync/store/sqlitestore"
)

// openRepository opens the configured offline cache. The returned closer
// is never nil.
func openRepository(cfg *Config) (chatsync.Repository, io.Closer, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return chatsync.NewMemoryRepository(), io.NopCloser(nil), nil
	case "sqlite":
		if cfg.Store.Path == "" {
			return nil, nil, fmt.Errorf("store.path is required for the sqlite driver")
		}
		s, err := sqlitestore.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "pebble":
		if cfg.Store.Path == "" {
			return nil, nil, fmt.Errorf("store.path is required for the pebble driver")
		}
		s, err := pebblestore.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newChatClient builds a client against the configured server and cache and
// connects the configured user. Call the returned func to release the cache.
func newChatClient(ctx context.Context, cfg *Config, opts ...chatsync.ClientOption) (*chatsync.Client, *chatsync.ChatHTTPClient, func(), error) {
	if cfg.Default.BaseURL == "" {
		return nil, nil, nil, fmt.Errorf("no base URL. Run 'chatsync init <base-url> <user-id>' first")
	}
	if cfg.Default.UserID == "" {
		return nil, nil, nil, fmt.Errorf("no user id. Run 'chatsync init <base-url> <user-id>' first")
	}
	repo, closer, err := openRepository(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	api := chatsync.NewChatHTTPClient(cfg.Default.BaseURL,
		chatsync.WithToken(cfg.Default.Token),
		chatsync.WithAgent("chatsync-cli"),
	)
	opts = append([]chatsync.ClientOption{
		chatsync.WithRepository(repo),
		chatsync.WithLogger(logger),
		chatsync.WithUploader(api),
	}, opts...)
	client := chatsync.NewClient(api, opts...)

	user := chatsync.User{ID: cfg.Default.UserID, Name: cfg.Default.UserName}
	if err := client.ConnectUser(ctx, user); err != nil {
		closer.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect user: %w", err)
	}
	release := func() {
		if err := closer.Close(); err != nil {
			logger.Warn("closing store failed", "error", err)
		}
	}
	return client, api, release, nil
}

// diskUsage sums the size of a file or of every file below a directory.
func diskUsage(path string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// maskToken shows the first and last four characters of a token.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
