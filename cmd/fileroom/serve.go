package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"fileroom/internal/config"
	"fileroom/internal/httpserver"
	"fileroom/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, v, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logging.Init(logging.Config{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			})
			defer func() { _ = logging.Sync() }()

			config.Watch(v, func(next *config.Config, e fsnotify.Event) {
				logging.SetLevel(next.Log.Level)
				logging.L().Info("config reloaded", zap.String("file", e.Name), zap.String("log_level", next.Log.Level))
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", config.DefaultAddr, "listen address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.L()

	srv, err := httpserver.New(httpserver.Options{Config: *cfg})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no write timeout: downloads and zips are long lived
	}

	var acme *autocert.Manager
	if len(cfg.TLS.AutocertHosts) > 0 {
		acme = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLS.AutocertHosts...),
			Cache:      autocert.DirCache(cfg.TLS.AutocertCache),
		}
		httpServer.TLSConfig = &tls.Config{
			GetCertificate: acme.GetCertificate,
			NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
			MinVersion:     tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("fileroom listening",
			zap.String("addr", cfg.Addr),
			zap.String("root", srv.Root()),
			zap.String("state_dir", cfg.StateDir),
			zap.Bool("tls", cfg.TLS.Enabled()),
			zap.Bool("webdav", cfg.WebDAV),
		)
		var err error
		switch {
		case acme != nil:
			err = httpServer.ListenAndServeTLS("", "")
		case cfg.TLS.CertFile != "":
			err = httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		default:
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
		return httpServer.Close()
	}
	log.Info("server stopped")
	return nil
}
