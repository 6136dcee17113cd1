// moniker-resolver serves the moniker catalog over HTTP: resolve, describe,
// governance, and usage telemetry.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MSubhan6/open-moniker/internal/auth"
	"github.com/MSubhan6/open-moniker/internal/cache"
	"github.com/MSubhan6/open-moniker/internal/catalog"
	"github.com/MSubhan6/open-moniker/internal/config"
	"github.com/MSubhan6/open-moniker/internal/domains"
	"github.com/MSubhan6/open-moniker/internal/governance"
	"github.com/MSubhan6/open-moniker/internal/models"
	"github.com/MSubhan6/open-moniker/internal/server"
	"github.com/MSubhan6/open-moniker/internal/service"
	"github.com/MSubhan6/open-moniker/internal/telemetry"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "moniker-resolver",
		Short:         "Moniker resolution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config YAML")
	// Accept config_file style flags from older wrapper scripts.
	root.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the resolver HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.AddCommand(serve)

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a catalog file without serving",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			nodes, err := catalog.LoadCatalog(cfg.Catalog.File)
			if err != nil {
				return err
			}
			for _, issue := range catalog.ValidateSuccessors(nodes) {
				fmt.Printf("warning: %s: %s\n", issue.Path, issue.Problem)
			}
			fmt.Printf("catalog ok: %d nodes\n", len(nodes))
			return nil
		},
	}
	root.AddCommand(validate)

	return root
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func run(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := catalog.NewRegistry(log.Named("catalog"))
	nodes, err := catalog.LoadCatalog(cfg.Catalog.File)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	registry.AtomicReplace(nodes)
	log.Info("catalog loaded",
		zap.String("file", cfg.Catalog.File),
		zap.Int("nodes", len(nodes)))
	for _, issue := range catalog.ValidateSuccessors(nodes) {
		log.Warn("successor issue in catalog",
			zap.String("path", issue.Path),
			zap.String("problem", issue.Problem))
	}

	var dom *domains.Registry
	if cfg.Catalog.DomainsFile != "" {
		if dom, err = domains.Load(cfg.Catalog.DomainsFile); err != nil {
			return fmt.Errorf("load domains: %w", err)
		}
		log.Info("domains loaded", zap.Int("count", dom.Len()))
	}

	var mdl *models.Registry
	if cfg.Catalog.ModelsFile != "" {
		if mdl, err = models.Load(cfg.Catalog.ModelsFile); err != nil {
			return fmt.Errorf("load models: %w", err)
		}
		log.Info("models loaded", zap.Int("count", mdl.Len()))
	}

	store, err := buildCache(cfg.Cache, log)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promReg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "moniker_catalog_nodes",
		Help: "Number of nodes in the active catalog snapshot.",
	}, func() float64 { return float64(registry.Len()) }))

	sink, err := buildSink(ctx, cfg.Telemetry, log)
	if err != nil {
		return err
	}
	emitter := telemetry.NewEmitter(sink, telemetry.EmitterOptions{
		QueueSize:     cfg.Telemetry.QueueSize,
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
		Registerer:    promReg,
	}, log.Named("telemetry"))

	svc := service.New(registry, dom, mdl, store, emitter, service.Options{
		DeprecationEnabled: cfg.Deprecation.Enabled,
		CacheTTL:           cfg.Cache.DefaultTTL,
	}, log.Named("service"))

	gate := auth.NewGate(cfg.Auth.SubmitToken, cfg.Auth.ApproveToken, cfg.Auth.WriteToken, log)
	ctrl := governance.NewController(registry, governance.NewRequestStore(), svc,
		cfg.Deprecation.Enabled, log.Named("governance"))

	srv := server.New(svc, ctrl, gate, dom, mdl, promReg, log.Named("http"))
	srv.SetCatalogFile(cfg.Catalog.File)

	if cfg.Catalog.Watch {
		watcher := catalog.NewWatcher(cfg.Catalog.File, time.Second, func() {
			res, err := ctrl.ReloadFromFile(ctx, cfg.Catalog.File, cfg.Catalog.BlockBreaking, "watcher")
			if err != nil {
				log.Error("watched reload failed", zap.Error(err))
				return
			}
			log.Info("catalog reloaded from disk",
				zap.Bool("applied", res.Applied),
				zap.Int("added", res.AddedCount),
				zap.Int("removed", res.RemovedCount))
		}, log.Named("watcher"))
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("catalog watcher stopped", zap.Error(err))
			}
		}()
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := emitter.Stop(shutdownCtx); err != nil {
		log.Warn("telemetry drain incomplete", zap.Error(err))
	}
	return nil
}

func buildCache(cfg config.CacheConfig, log *zap.Logger) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemory(cfg.MaxSize, cfg.DefaultTTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return cache.NewRedis(client, "moniker:", cfg.DefaultTTL, log.Named("cache")), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func buildSink(ctx context.Context, cfg config.TelemetryConfig, log *zap.Logger) (telemetry.Sink, error) {
	switch cfg.Sink {
	case "", "console":
		return telemetry.NewConsoleSink(log.Named("usage")), nil
	case "file":
		return telemetry.NewFileSink(cfg.FilePath)
	case "postgres":
		return telemetry.NewPostgresSink(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown telemetry sink %q", cfg.Sink)
	}
}
