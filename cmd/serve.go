package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/audit"
	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/clock"
	"github.com/KromaEnergia/contract-engine/internal/config"
	"github.com/KromaEnergia/contract-engine/internal/metrics"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/rbac"
	"github.com/KromaEnergia/contract-engine/internal/server"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/utils/db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "run schema migrations before serving")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func serve(parent context.Context, cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.ConnectDataBase(cfg.Database)
	if err != nil {
		return err
	}
	if autoMigrate {
		if err := db.AutoMigrate(gdb); err != nil {
			return err
		}
	}
	keys, err := auth.LoadKeys(cfg.Auth)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sinks := []audit.Sink{audit.GormSink{DB: gdb}, audit.LogSink{Logger: logger}}
	if cfg.Audit.WebhookURL != "" {
		sinks = append(sinks, audit.WebhookSink{URL: cfg.Audit.WebhookURL, Client: &http.Client{Timeout: 10 * time.Second}})
	}
	dispatcher := audit.NewDispatcher(audit.Options{
		QueueSize:      cfg.Audit.QueueSize,
		EnqueueTimeout: cfg.Audit.EnqueueTimeout,
		Retries:        cfg.Audit.Retries,
		Logger:         logger,
		Metrics:        m,
	}, sinks...)
	go dispatcher.Run(ctx)

	deps := platform.Deps{
		Store: store.New(gdb, store.Options{
			MaxRetries:  cfg.Policy.MaxTxRetries,
			LockTimeout: cfg.Policy.LockTimeout,
			Logger:      logger,
			Metrics:     m,
		}),
		Authz:   rbac.NewRoleAuthorizer(cfg.RBAC),
		Audit:   dispatcher,
		Metrics: m,
		Clock:   clock.Real(),
		Logger:  logger,
		Policy:  cfg.Policy,
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(deps, server.Options{Keys: keys, Gatherer: reg, AllowedOrigins: cfg.CORSOrigins}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	stop()
	<-dispatcher.Done()
	return nil
}
