package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmcleod/ironward/api"
	"github.com/jmcleod/ironward/config"
	"github.com/jmcleod/ironward/internal/metrics"
	"github.com/jmcleod/ironward/internal/util"
	"github.com/jmcleod/ironward/shield"
)

// serverFlagKeys maps command-line flags to config keys.
var serverFlagKeys = map[string]string{
	"port":           "server.port",
	"data-dir":       "server.data_dir",
	"tls-cert":       "server.tls_cert",
	"tls-key":        "server.tls_key",
	"insecure":       "server.insecure",
	"trusted-proxy":  "server.trusted_proxies",
	"backend":        "storage.backend",
	"postgres-dsn":   "storage.postgres_dsn",
	"redis-addr":     "storage.redis_addr",
	"sqlite-path":    "storage.sqlite_path",
	"master-key":     "security.master_key",
	"session-ttl":    "security.session_ttl",
	"sweep-interval": "security.sweep_interval",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntP("port", "p", 8443, "Port to listen on")
	f.String("data-dir", "./data", "Directory for persistent data")
	f.String("tls-cert", "", "Path to TLS certificate file")
	f.String("tls-key", "", "Path to TLS key file")
	f.Bool("insecure", false, "Serve plain HTTP (for use behind a TLS-terminating proxy)")
	f.StringSlice("trusted-proxy", nil, "CIDR or address of a proxy whose forwarding headers are trusted (repeatable)")
	f.String("backend", config.BackendBolt, "Storage backend: memory, bbolt, postgres, redis or sqlite")
	f.String("postgres-dsn", "", "PostgreSQL connection string")
	f.String("redis-addr", "localhost:6379", "Redis address")
	f.String("sqlite-path", "", "SQLite database path (defaults to <data-dir>/ironward.sqlite)")
	f.String("master-key", "", "Hex or base64 encoded 32-byte master key")
	f.Duration("session-ttl", 0, "Session lifetime")
	f.Duration("sweep-interval", 0, "Interval between expiry sweeps")
	f.String("log-level", "info", "Log level: debug, info, warn or error")
	f.String("log-format", "json", "Log format: json or text")
}

// loadConfig layers defaults, the config file, IRONWARD_* variables and
// explicitly set flags, in increasing priority.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	v, err := config.New()
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}
	return config.Load(v, cfgFile)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range serverFlagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func runServer(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	repo, closeRepo, err := openRepository(ctx, cfg.Storage, cfg.Server.DataDir)
	if err != nil {
		return err
	}
	defer closeRepo()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(metrics.Options{Registerer: reg})
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	sh, err := shield.New(cfg.Security, repo, shield.WithLogger(logger), shield.WithMetrics(m))
	if err != nil {
		return err
	}
	defer sh.Close()

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithMetrics(m),
		api.WithThrottle(cfg.Server.RequestsPerSecond, cfg.Server.Burst),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert", "type", e.Type, "message", e.Message,
				"count", e.Count, "threshold", e.Threshold)
		}),
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			return err
		}
		opts = append(opts, opt)
	}
	if cfg.Server.AuditWebhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(cfg.Server.AuditWebhookURL, cfg.Server.AuditWebhookHeader))
	}
	a := api.New(sh, opts...)
	defer a.Close()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/api/v1", a.Router())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	if !cfg.Server.Insecure {
		tlsConfig, err := serverTLSConfig(cfg.Server, logger)
		if err != nil {
			return err
		}
		server.TLSConfig = tlsConfig
	}

	sh.Start(ctx)

	done := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner(out)
	logger.Info("server started",
		"port", cfg.Server.Port,
		"backend", cfg.Storage.Backend,
		"tls", server.TLSConfig != nil,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

func serverTLSConfig(cfg config.Server, logger *slog.Logger) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err = tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		logger.Warn("using a self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
