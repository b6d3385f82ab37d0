package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/wingchat/internal/logger"
	"github.com/ehrlich-b/wingchat/internal/relay"
	"github.com/ehrlich-b/wingchat/internal/store"
)

func serveCmd() *cobra.Command {
	var addrFlag string
	var dbFlag string
	var devUserFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development chat relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr := cfg.Relay.Addr
			if addrFlag != "" {
				addr = addrFlag
			}
			dbPath := cfg.Relay.DBPath
			if dbFlag != "" {
				dbPath = dbFlag
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open chat db: %w", err)
			}
			defer st.Close()

			secret, err := relay.LoadSecret(cfg.Relay.JWTSecret)
			if err != nil {
				return fmt.Errorf("load jwt secret: %w", err)
			}
			if cfg.Relay.JWTSecret == "" {
				logger.Warn("no relay.jwt_secret set; credentials are only valid for this process")
			}

			srv := relay.NewServer(st, secret)
			srv.Responder = &relay.EchoResponder{Delay: cfg.Relay.StreamDelay.Std()}
			if cfg.Relay.PushTitles != nil {
				srv.PushTitles = *cfg.Relay.PushTitles
			}
			if cfg.Relay.MessageRate > 0 {
				srv.MessageRate = rate.Limit(cfg.Relay.MessageRate)
			}
			if cfg.Relay.MessageBurst > 0 {
				srv.MessageBurst = cfg.Relay.MessageBurst
			}

			if devUserFlag != "" {
				tok, exp, err := relay.IssueToken(secret, devUserFlag, 24*time.Hour)
				if err != nil {
					return err
				}
				fmt.Printf("dev token for %s (expires %s):\n%s\n", devUserFlag, exp.Format(time.RFC3339), tok)
			}

			httpSrv := &http.Server{
				Addr:    addr,
				Handler: srv,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				fmt.Printf("wtchat serve listening on %s\n", addr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				fmt.Println("shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default: relay.addr)")
	cmd.Flags().StringVar(&dbFlag, "db", "", "sqlite path (default: relay.db_path)")
	cmd.Flags().StringVar(&devUserFlag, "dev-user", "", "print a 24h credential for this user id on startup")

	return cmd
}
