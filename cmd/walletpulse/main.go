package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/WalletPulseAI/walletpulse/internal/adapters/cache"
	"github.com/WalletPulseAI/walletpulse/internal/adapters/helius"
	"github.com/WalletPulseAI/walletpulse/internal/adapters/metadata"
	"github.com/WalletPulseAI/walletpulse/internal/adapters/price"
	"github.com/WalletPulseAI/walletpulse/internal/adapters/progress"
	"github.com/WalletPulseAI/walletpulse/internal/adapters/storage"
	"github.com/WalletPulseAI/walletpulse/internal/config"
	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
	"github.com/WalletPulseAI/walletpulse/internal/core/service"
	"github.com/WalletPulseAI/walletpulse/pkg/version"
)

func main() {
	root := &cobra.Command{
		Use:           "walletpulse",
		Short:         "Wallet trading P&L analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(analyzeCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <wallet>",
		Short: "Analyze a wallet's trading history and P&L",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := setupLogger(cfg.Logging)

			analyzer, cleanup, err := buildAnalyzer(cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			handle, err := analyzer.StartRun(args[0])
			if err != nil {
				return err
			}

			// Ctrl-C requests cooperative cancellation; a second one kills.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				log.Warn("cancellation requested")
				analyzer.CancelRun(handle.Wallet)
			}()

			<-handle.Done()
			if err := handle.Err(); err != nil {
				return err
			}
			printSummary(handle.Result())
			return nil
		},
	}
}

// buildAnalyzer wires the full pipeline from config.
func buildAnalyzer(cfg *config.Config, log *logrus.Logger) (*service.Analyzer, func(), error) {
	coord := service.NewCoordinator(cfg.Limits.MaxConcurrentRequests)

	var cacheTier domain.Cache = &cache.NoOpCache{}
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			UseTLS:    cfg.Redis.UseTLS,
		})
		if err != nil {
			log.WithError(err).Warn("redis unavailable, continuing without external cache")
		} else {
			cacheTier = redisCache
		}
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	source := helius.NewClient(helius.Config{
		APIKey:          cfg.Helius.APIKey,
		BaseURL:         cfg.Helius.BaseURL,
		RPCURL:          cfg.Helius.RPCURL,
		ParallelBatches: cfg.Limits.ParallelBatches,
		MaxSignatures:   cfg.Limits.MaxSignatures,
		Lookback:        cfg.Limits.Lookback,
		RequestsPerSec:  cfg.Limits.RequestsPerSec,
	}, coord, log)

	metaResolver, err := metadata.NewResolver(cfg.Helius.BaseURL, cfg.Helius.APIKey, cacheTier, log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	priceResolver := price.NewResolver(cacheTier, log)

	var sink domain.ProgressSink = progress.NewLogSink(log)
	var wsSink *progress.WSSink
	if cfg.Notify.WebSocketURL != "" {
		wsSink = progress.NewWSSink(cfg.Notify.WebSocketURL, log)
		sink = wsSink
	}

	analyzer := service.NewAnalyzer(service.AnalyzerDeps{
		Source:     source,
		Classifier: service.NewClassifier(log, service.DefaultClassifierConfig()),
		Engine:     service.NewEngine(priceResolver, log),
		Insights:   service.NewInsights(metaResolver),
		Metadata:   metaResolver,
		Store:      store,
		Cache:      cacheTier,
		Sink:       sink,
		Coord:      coord,
		Log:        log,
	})

	cleanup := func() {
		if wsSink != nil {
			wsSink.Close()
		}
		store.Close()
		cacheTier.Close()
	}
	return analyzer, cleanup, nil
}

func setupLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func printSummary(result *domain.AnalysisResult) {
	s := result.Summary
	fmt.Printf("\nWallet %s\n", result.Wallet)
	fmt.Printf("  Events:        %d\n", s.EventCount)
	fmt.Printf("  Realized PnL:  %+.4f SOL\n", s.TotalRealizedPnL)
	fmt.Printf("  Unrealized:    %+.4f SOL\n", s.TotalUnrealizedPnL)
	fmt.Printf("  Total PnL:     %+.4f SOL\n", s.TotalPnL)
	fmt.Printf("  Positions:     %d open, %d closed (win rate %.0f%%)\n",
		s.ActivePositions, s.ClosedPositions, s.WinRate)
	for _, insight := range result.Insights {
		fmt.Printf("  - %s (%s)\n", insight.Title, insight.Detail)
	}
}
