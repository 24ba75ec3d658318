package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/LuminPulse-AI/chatsync"
)

var (
	watchMetricsAddr string
	watchWebhookAddr string
	watchSyncEvery   time.Duration
	watchQuiet       bool
)

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().StringVar(&watchWebhookAddr, "webhook-addr", "", "also accept signed pushed events on this address (secret from CHATSYNC_WEBHOOK_SECRET)")
	watchCmd.Flags().DurationVar(&watchSyncEvery, "sync-every", time.Minute, "resubmission interval while connected (0 disables the ticker)")
	watchCmd.Flags().BoolVarP(&watchQuiet, "quiet", "q", false, "do not print incoming messages")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [type:id...]",
	Short: "Follow realtime events and keep the offline cache in sync",
	Long: "Connect to the realtime endpoint, apply every event to channel state and resubmit queued\n" +
		"work whenever the connection comes back. Named channels are loaded before following.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		reg := prometheus.NewRegistry()
		client, _, release, err := newChatClient(ctx, cfg, chatsync.WithMetrics(chatsync.NewMetrics(reg)))
		if err != nil {
			return err
		}
		defer release()

		if watchMetricsAddr != "" {
			srv := &http.Server{
				Addr:              watchMetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "addr", watchMetricsAddr, "error", err)
				}
			}()
			defer srv.Close()
		}

		if watchWebhookAddr != "" {
			recv, err := chatsync.NewWebhookReceiver(os.Getenv("CHATSYNC_WEBHOOK_SECRET"), client, logger)
			if err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/events", recv)
			srv := &http.Server{Addr: watchWebhookAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("webhook server failed", "addr", watchWebhookAddr, "error", err)
				}
			}()
			defer srv.Close()
		}

		syncer := chatsync.NewSyncManager(client, chatsync.WithSyncInterval(watchSyncEvery))
		syncer.Start(ctx)
		defer syncer.Stop()

		source := chatsync.NewRealtimeSource(chatsync.RealtimeConfig{
			URL:           chatsync.RealtimeURL(cfg.Default.BaseURL),
			Token:         cfg.Default.Token,
			AutoReconnect: true,
			Logger:        logger,
		}, chatsync.EventSinkFunc(func(ctx context.Context, e chatsync.Event) {
			client.HandleEvent(ctx, e)
			if watchQuiet {
				return
			}
			if ev, ok := e.(chatsync.NewMessageEvent); ok {
				fmt.Printf("%-24s ", ev.CID)
				printMessage(ev.Message)
			}
		}))
		if err := source.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer source.Disconnect()

		for _, cid := range args {
			if _, err := client.LoadNewestMessages(ctx, cid, 25); err != nil {
				logger.Warn("initial load failed", "cid", cid, "error", err)
			}
		}

		logger.Info("watching", "user", cfg.Default.UserID, "channels", len(args))
		<-ctx.Done()
		return nil
	},
}
