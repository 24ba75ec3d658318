package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/LuminPulse-AI/chatsync/store/sqlitestore"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, offline cache and server status",
	Long:  "Display the current configuration, the size and backlog of the offline cache, and the user the server knows the token as.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Printf("  User ID:  %s\n", valueOrDefault(cfg.Default.UserID, "(not set)"))
		if cfg.Default.Token != "" {
			fmt.Printf("  Token:    %s\n", maskToken(cfg.Default.Token))
		} else {
			fmt.Println("  Token:    (not set)")
		}

		fmt.Println()
		fmt.Println("Offline cache:")
		fmt.Printf("  Driver:   %s\n", valueOrDefault(cfg.Store.Driver, "memory"))
		if err := printStoreStatus(cmd.Context(), cfg); err != nil {
			fmt.Printf("  Error: %v\n", err)
		}

		if cfg.Default.BaseURL == "" || cfg.Default.Token == "" {
			return nil
		}
		fmt.Println()
		fmt.Println("Live status:")
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		api := chatsync.NewChatHTTPClient(cfg.Default.BaseURL, chatsync.WithToken(cfg.Default.Token))
		user, err := api.FetchCurrentUser(ctx)
		if err != nil {
			fmt.Printf("  Error fetching current user: %v\n", err)
			return nil
		}
		fmt.Printf("  User:     %s (%s)\n", user.ID, valueOrDefault(user.Name, "no name"))
		return nil
	},
}

func printStoreStatus(ctx context.Context, cfg *Config) error {
	if cfg.Store.Driver == "" || cfg.Store.Driver == "memory" {
		fmt.Println("  Nothing is persisted with the memory driver.")
		return nil
	}
	fmt.Printf("  Path:     %s\n", cfg.Store.Path)
	size, err := diskUsage(cfg.Store.Path)
	if err != nil {
		return err
	}
	fmt.Printf("  Size:     %s\n", humanize.Bytes(size))

	repo, closer, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	return printBacklog(ctx, repo)
}

// printBacklog reports schema state and the messages and reactions waiting
// to be resubmitted.
func printBacklog(ctx context.Context, repo chatsync.Repository) error {
	if s, ok := repo.(*sqlitestore.Store); ok {
		version, dirty, err := sqlitestore.SchemaVersion(s.DB())
		if err != nil {
			return err
		}
		state := "clean"
		if dirty {
			state = "dirty"
		}
		fmt.Printf("  Schema:   v%d (%s)\n", version, state)
	}

	for _, status := range []chatsync.SyncStatus{
		chatsync.SyncNeeded,
		chatsync.SyncAwaitingAttachments,
		chatsync.SyncFailedPermanently,
	} {
		msgs, err := repo.SelectMessagesBySyncStatus(ctx, status)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("  %-22s %s messages", string(status)+":", humanize.Comma(int64(len(msgs))))
		if oldest := oldestLocal(msgs); !oldest.IsZero() {
			line += fmt.Sprintf(", oldest %s", humanize.Time(oldest))
		}
		fmt.Println(line)
	}
	reactions, err := repo.SelectReactionsBySyncStatus(ctx, chatsync.SyncNeeded)
	if err != nil {
		return err
	}
	fmt.Printf("  %-22s %s reactions\n", string(chatsync.SyncNeeded)+":", humanize.Comma(int64(len(reactions))))
	return nil
}

func oldestLocal(msgs []chatsync.Message) time.Time {
	var oldest time.Time
	for _, m := range msgs {
		if !m.CreatedLocallyAt.IsZero() && (oldest.IsZero() || m.CreatedLocallyAt.Before(oldest)) {
			oldest = m.CreatedLocallyAt
		}
	}
	return oldest
}
