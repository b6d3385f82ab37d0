package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/wingchat/internal/config"
	"github.com/ehrlich-b/wingchat/internal/relay"
)

func tokenCmd() *cobra.Command {
	var userFlag string
	var ttlFlag time.Duration
	var saveFlag bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a credential signed with the relay secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Relay.JWTSecret == "" {
				return fmt.Errorf("relay.jwt_secret (or WTCHAT_JWT_SECRET) is required to issue tokens")
			}
			secret, err := relay.LoadSecret(cfg.Relay.JWTSecret)
			if err != nil {
				return fmt.Errorf("load jwt secret: %w", err)
			}
			tok, exp, err := relay.IssueToken(secret, userFlag, ttlFlag)
			if err != nil {
				return err
			}

			if saveFlag {
				cfg.Auth.Token = tok
				if err := config.Save(configPath, cfg); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
				fmt.Printf("saved credential for %s to %s (expires %s)\n", userFlag, configPath, exp.Format(time.RFC3339))
				return nil
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "dev", "user id the credential is issued for")
	cmd.Flags().DurationVar(&ttlFlag, "ttl", 24*time.Hour, "credential lifetime")
	cmd.Flags().BoolVar(&saveFlag, "save", false, "store the credential in the config file instead of printing it")

	return cmd
}
