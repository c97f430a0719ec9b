package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DeLi-Labs/deli-app/pkg/config"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger, err := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, err := buildGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer gw.Close()

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           gw.handler,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    1 << 16,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting gateway", "addr", cfg.ListenAddr, "indexer", cfg.IndexerType,
					"storage", cfg.StorageType, "cipher", cfg.CipherType, "capture", cfg.CaptureEnabled)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String(flagListen, ":8080", "listen address")
	cmd.Flags().String(flagLogLevel, "info", "log level (trace, debug, info, warn, error)")
	_ = v.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup(flagListen))
	_ = v.BindPFlag(config.KeyLogLevel, cmd.Flags().Lookup(flagLogLevel))
	return cmd
}
