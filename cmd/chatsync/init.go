package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initToken string

func init() {
	initCmd.Flags().StringVar(&initToken, "token", "", "bearer token for the chat API")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <base-url> <user-id>",
	Short: "Store server and user in ~/.chatsync/config.toml",
	Long:  "Initialize chatsync with the chat server URL, the user to connect as and a sqlite offline cache.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.BaseURL = args[0]
		cfg.Default.UserID = args[1]
		if initToken != "" {
			cfg.Default.Token = initToken
		}
		if cfg.Store.Driver == "" {
			dir, err := configDir()
			if err != nil {
				return err
			}
			cfg.Store.Driver = "sqlite"
			cfg.Store.Path = filepath.Join(dir, "cache.db")
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}
