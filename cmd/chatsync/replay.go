package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/LuminPulse-AI/chatsync"
)

var (
	replayUser   string
	replayJSON   bool
	replayStrict bool
)

func init() {
	replayCmd.Flags().StringVar(&replayUser, "user", "", "user id to replay as (default: default.user_id)")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print channel snapshots as JSON")
	replayCmd.Flags().BoolVar(&replayStrict, "strict", false, "stop at the first undecodable line")
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Apply a recorded event stream to the offline cache",
	Long: "Read one realtime event per line, apply each to channel state in order and persist the result\n" +
		"to the configured store. No server connection is made.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		userID := valueOrDefault(replayUser, cfg.Default.UserID)
		if userID == "" {
			return fmt.Errorf("no user id. Pass --user or set default.user_id")
		}

		repo, closer, err := openRepository(cfg)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer closer.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("cannot open event file: %w", err)
		}
		defer f.Close()

		client := chatsync.NewClient(chatsync.NewChatHTTPClient(cfg.Default.BaseURL),
			chatsync.WithRepository(repo),
			chatsync.WithLogger(logger),
		)
		if err := client.ConnectUser(ctx, chatsync.User{ID: userID}); err != nil {
			return err
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		var applied, skipped, lineNo int
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			e, err := chatsync.DecodeEvent(line)
			if err != nil {
				if replayStrict {
					return fmt.Errorf("line %d: %w", lineNo, err)
				}
				logger.Warn("skipping undecodable event", "line", lineNo, "error", err)
				skipped++
				continue
			}
			client.HandleEvent(ctx, e)
			applied++
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading event file: %w", err)
		}

		channels := client.ActiveChannels()
		sort.Slice(channels, func(i, j int) bool { return channels[i].CID() < channels[j].CID() })

		if replayJSON {
			snapshots := make([]chatsync.Channel, 0, len(channels))
			for _, l := range channels {
				snapshots = append(snapshots, l.State().Snapshot())
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snapshots)
		}

		fmt.Printf("Applied %s events (%d skipped) to %d channels\n",
			humanize.Comma(int64(applied)), skipped, len(channels))
		for _, l := range channels {
			s := l.State()
			last := "never"
			if at := s.LastMessageAt().Value(); !at.IsZero() {
				last = humanize.Time(at)
			}
			fmt.Printf("  %-32s %5d messages  %3d unread  last message %s\n",
				l.CID(), len(s.Messages().Value()), s.UnreadCount().Value(), last)
		}
		return nil
	},
}
