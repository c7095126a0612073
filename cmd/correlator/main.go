package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilstack/incident-correlator/internal/api"
	"github.com/vigilstack/incident-correlator/internal/config"
	"github.com/vigilstack/incident-correlator/internal/engine"
	"github.com/vigilstack/incident-correlator/internal/history"
	"github.com/vigilstack/incident-correlator/internal/metrics"
	"github.com/vigilstack/incident-correlator/internal/notify"
	"github.com/vigilstack/incident-correlator/internal/services"
	"github.com/vigilstack/incident-correlator/internal/store"
	"github.com/vigilstack/incident-correlator/internal/topology"
	"github.com/vigilstack/incident-correlator/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting incident-correlator", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signalStore := store.New(cfg.Store.Retention, cfg.Store.SkewTolerance)
	signalStore.StartSweeper(ctx, cfg.Store.SweepInterval, logger, metrics.ObserveEvicted)

	topo := topology.NewModel(logger)
	if err := topo.ReloadFile(cfg.Topology.Path); err != nil {
		logger.Error("failed to load topology", slog.String("path", cfg.Topology.Path), slog.Any("error", err))
		os.Exit(1)
	}

	ruleBase := engine.DefaultRuleBase()
	pack, err := engine.LoadRulePack(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Rules.Path), slog.Any("error", err))
		os.Exit(1)
	}
	ruleBase, err = ruleBase.Apply(pack)
	if err != nil {
		logger.Error("invalid rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	ranker := engine.NewRanker(logger, ruleBase)

	if cfg.Topology.Watch || cfg.Rules.Watch {
		reloads := map[string]topology.ReloadFunc{}
		if cfg.Topology.Watch {
			reloads[cfg.Topology.Path] = topo.ReloadFile
		}
		if cfg.Rules.Watch {
			reloads[cfg.Rules.Path] = func(path string) error {
				pack, err := engine.LoadRulePack(path)
				if err != nil {
					return err
				}
				base, err := engine.DefaultRuleBase().Apply(pack)
				if err != nil {
					return err
				}
				ranker.Swap(base)
				return nil
			}
		}
		watcher, err := topology.NewWatcher(logger, reloads)
		if err != nil {
			logger.Error("failed to start config watcher", slog.Any("error", err))
			os.Exit(1)
		}
		go watcher.Run(ctx)
	}

	var historyStore history.Store
	if cfg.History.Backend == "valkey" {
		connectCtx, cancelConnect := context.WithTimeout(ctx, 5*time.Second)
		valkeyStore, err := history.NewValkeyStore(connectCtx, history.ValkeyConfig{
			Addr:     cfg.History.Addr,
			Username: cfg.History.Username,
			Password: cfg.History.Password,
			DB:       cfg.History.DB,
			TTL:      cfg.History.TTL,
		})
		cancelConnect()
		if err != nil {
			logger.Error("history backend unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		historyStore = valkeyStore
	} else {
		historyStore = history.NewMemoryStore(cfg.History.TTL)
	}
	defer historyStore.Close()

	var notifier notify.Notifier
	if cfg.Notifier.Backend == "nats" {
		natsNotifier, err := notify.NewNATSNotifier(notify.NATSConfig{
			URL:           cfg.Notifier.URL,
			SubjectPrefix: cfg.Notifier.SubjectPrefix,
		}, logger)
		if err != nil {
			logger.Error("notifier backend unavailable", slog.Any("error", err))
			// os.Exit skips the deferred close above.
			historyStore.Close()
			os.Exit(1)
		}
		notifier = natsNotifier
	} else {
		notifier = notify.NewLogNotifier(logger)
	}
	defer notifier.Close()

	correlator := engine.NewCorrelator(logger, signalStore, topo, engine.CorrelatorConfig{
		Window:           cfg.Correlation.Window,
		DeploymentWindow: cfg.Correlation.DeploymentWindow,
		HopLimit:         cfg.Correlation.HopLimit,
		CandidateCap:     cfg.Correlation.CandidateCap,
	})

	incidentService := services.NewIncidentService(
		logger, correlator, ranker, historyStore, notifier,
		cfg.Correlation.Budget, cfg.Correlation.DebounceWindow,
	)

	handlers := api.NewHandlers(logger, signalStore, incidentService, func() bool {
		_, err := topo.Snapshot()
		return err == nil
	})
	server := api.NewServer(cfg.Server, handlers, logger)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	if err := incidentService.Drain(shutdownCtx); err != nil {
		logger.Warn("in-flight correlations not drained", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("incident-correlator stopped")
}
