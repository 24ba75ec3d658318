package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/LuminPulse-AI/chatsync"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// channel show
	channelShowLimit  int
	channelShowBefore string
	channelShowJSON   bool

	// channel send
	channelSendFile   string
	channelSendParent string

	// channel list
	channelListLimit int
	channelListJSON  bool

	// sync
	syncOffline bool
)

func init() {
	channelShowCmd.Flags().IntVarP(&channelShowLimit, "limit", "n", 25, "number of messages to load")
	channelShowCmd.Flags().StringVar(&channelShowBefore, "before", "", "load messages older than this message id")
	channelShowCmd.Flags().BoolVar(&channelShowJSON, "json", false, "print the channel as JSON")

	channelSendCmd.Flags().StringVar(&channelSendFile, "file", "", "local file to attach")
	channelSendCmd.Flags().StringVar(&channelSendParent, "parent", "", "reply in the thread of this message id")

	channelListCmd.Flags().IntVarP(&channelListLimit, "limit", "n", 20, "channels per page")
	channelListCmd.Flags().BoolVar(&channelListJSON, "json", false, "print channels as JSON")

	syncCmd.Flags().BoolVar(&syncOffline, "offline", false, "only report the backlog, do not contact the server")

	channelCmd.AddCommand(channelShowCmd, channelSendCmd, channelListCmd)
	rootCmd.AddCommand(channelCmd, syncCmd)
}

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Query and write to channels",
}

var channelShowCmd = &cobra.Command{
	Use:   "show <type:id>",
	Short: "Load a channel and print its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, _, release, err := newChatClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()
		client.SetOnline(true)

		cid := args[0]
		var ch chatsync.Channel
		if channelShowBefore != "" {
			ch, err = client.QueryChannel(ctx, cid, chatsync.QueryChannelRequest{
				Messages: chatsync.MessagePagination{Direction: chatsync.DirectionOlder, MessageID: channelShowBefore, Limit: channelShowLimit},
			})
		} else {
			ch, err = client.LoadNewestMessages(ctx, cid, channelShowLimit)
		}
		if err != nil {
			state, serr := client.ChannelState(cid)
			if serr != nil || len(state.Messages().Value()) == 0 {
				return err
			}
			logger.Warn("query failed, showing cached state", "cid", cid, "error", err)
			ch = state.Snapshot()
		}

		if channelShowJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ch)
		}
		fmt.Printf("%s  %s  %d members\n", ch.CID, valueOrDefault(ch.Name, "(unnamed)"), ch.MemberCount)
		for _, m := range ch.Messages {
			printMessage(m)
		}
		return nil
	},
}

var channelSendCmd = &cobra.Command{
	Use:   "send <type:id> <text>",
	Short: "Send a message, queueing it in the offline cache if the server is unreachable",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, _, release, err := newChatClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()
		client.SetOnline(true)

		msg := chatsync.Message{Text: args[1], ParentID: channelSendParent}
		if channelSendFile != "" {
			msg.Attachments = []chatsync.Attachment{{LocalPath: channelSendFile}}
		}
		sent, err := client.SendMessage(ctx, args[0], msg)
		if err != nil && !chatsync.IsPermanent(err) && sent.ID != "" {
			fmt.Printf("Queued %s (%s): %v\n", sent.ID, sent.SyncStatus, err)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", sent.ID)
		return nil
	},
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the channels the user is a member of",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, _, release, err := newChatClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()
		client.SetOnline(true)

		channels, err := client.QueryChannels(ctx, chatsync.QueryChannelsRequest{
			ID:           "cli:" + cfg.Default.UserID,
			Filter:       map[string]any{"members": map[string]any{"$in": []string{cfg.Default.UserID}}},
			Sort:         []string{"-lastMessageAt"},
			Limit:        channelListLimit,
			MessageLimit: 1,
		})
		if err != nil {
			return err
		}
		if channelListJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(channels)
		}
		for _, ch := range channels {
			last := "no messages"
			if !ch.LastMessageAt.IsZero() {
				last = humanize.Time(ch.LastMessageAt)
			}
			fmt.Printf("%-32s %-24s %s\n", ch.CID, valueOrDefault(ch.Name, "-"), last)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Resubmit queued messages and reactions from the offline cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if syncOffline {
			return printStoreStatus(ctx, cfg)
		}
		client, _, release, err := newChatClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()
		client.SetOnline(true)

		start := time.Now()
		if err := chatsync.NewSyncManager(client, chatsync.WithSyncInterval(0)).Sync(ctx); err != nil {
			return fmt.Errorf("sync finished with errors: %w", err)
		}
		fmt.Printf("Sync finished in %s\n", time.Since(start).Round(time.Millisecond))
		return printBacklog(ctx, client.Repository())
	},
}

func printMessage(m chatsync.Message) {
	at := m.CreatedAt
	if at.IsZero() {
		at = m.CreatedLocallyAt
	}
	status := ""
	if m.SyncStatus != "" && m.SyncStatus != chatsync.SyncCompleted {
		status = " [" + string(m.SyncStatus) + "]"
	}
	fmt.Printf("%s  %-12s %s%s\n", at.Local().Format("2006-01-02 15:04"), valueOrDefault(m.User.Name, m.User.ID), m.Text, status)
	for _, a := range m.Attachments {
		fmt.Printf("%18s attachment %s (%s)\n", "", valueOrDefault(a.Name, a.Type), humanize.Bytes(uint64(a.FileSize)))
	}
}
