package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polisai/taskgate/pkg/config"
	"github.com/polisai/taskgate/pkg/gateway"
	"github.com/polisai/taskgate/pkg/telemetry"
	"github.com/polisai/taskgate/pkg/upstream"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides server.address)")
	return cmd
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Address = addr
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.close(); err != nil {
			logger.Warn("Failed to close token store", "error", err)
		}
	}()

	handler, err := buildHandler(cfg, sess, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		tlsCfg, err := cfg.Server.TLS.ServerTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to build TLS configuration: %w", err)
		}
		server.TLSConfig = tlsCfg
	}

	if sess.file != nil && cfg.Tokens.Watch {
		go func() {
			err := sess.file.Watch(ctx, logger, func() {
				if err := sess.store.Reload(ctx); err != nil {
					logger.Warn("Failed to reload tokens after file change", "error", err)
					return
				}
				logger.Info("Reloaded tokens after file change")
			})
			if err != nil {
				logger.Warn("Token file watch stopped", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// SIGHUP re-reads the durable token store, e.g. after an out-of-band login.
	sighupChan := make(chan os.Signal, 1)
	signal.Notify(sighupChan, syscall.SIGHUP)
	defer signal.Stop(sighupChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				logger.Info("Received shutdown signal", "signal", sig.String())
				cancel()
				return
			case <-sighupChan:
				if err := sess.store.Reload(ctx); err != nil {
					logger.Warn("Failed to reload tokens on SIGHUP", "error", err)
				} else {
					logger.Info("Reloaded tokens on SIGHUP")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("Starting taskgate",
		"addr", cfg.Server.Address,
		"prefix", cfg.Server.Prefix,
		"backend_url", cfg.Backend.BaseURL,
		"token_store", cfg.Tokens.Store,
		"routes", len(cfg.Resources),
		"tls", server.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if server.TLSConfig != nil {
			errCh <- server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}

	logger.Info("Server stopped")
	return nil
}

// buildHandler wires the executor, handler factory, auth handlers and metrics into
// the inbound router.
func buildHandler(cfg *config.Config, sess *session, logger *slog.Logger) (http.Handler, error) {
	var metrics *gateway.Metrics
	if cfg.Metrics.Enabled {
		metrics = gateway.NewMetrics()
	}

	executor := upstream.NewExecutor(upstream.ExecutorConfig{
		Client:           sess.client,
		Tokens:           sess.store,
		Timeout:          cfg.Backend.Timeout,
		RefreshSkew:      cfg.Tokens.RefreshSkew,
		MaxResponseBytes: cfg.Backend.MaxResponseBytes,
		Breaker:          upstream.NewBreaker(cfg.Backend.Breaker),
		Logger:           logger,
	})

	factory := gateway.NewFactory(gateway.FactoryConfig{
		Dispatcher:   executor,
		BaseURL:      cfg.Backend.BaseURL,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Metrics:      metrics,
		Logger:       logger,
	})

	auth := newAuthHandlers(cfg, sess, metrics, logger)

	return gateway.NewRouter(gateway.RouterConfig{
		Prefix:      cfg.Server.Prefix,
		Routes:      cfg.Resources,
		Factory:     factory,
		Auth:        auth,
		Metrics:     metrics,
		Ready:       sess.store.Ping,
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      logger,
	})
}

func newAuthHandlers(cfg *config.Config, sess *session, metrics *gateway.Metrics, logger *slog.Logger) *gateway.AuthHandlers {
	return gateway.NewAuthHandlers(gateway.AuthConfig{
		Client:  sess.client,
		BaseURL: cfg.Backend.BaseURL,
		Paths: gateway.AuthPaths{
			Login:    cfg.Backend.LoginPath,
			Register: cfg.Backend.RegisterPath,
			Logout:   cfg.Backend.LogoutPath,
		},
		Store:        sess.store,
		Timeout:      cfg.Backend.Timeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Metrics:      metrics,
		Logger:       logger,
	})
}
