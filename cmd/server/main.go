// Package main is the entry point for the portfolio mirror daemon. It polls
// reference portfolios, reconciles simulated accounts against them and
// projects published rebalances into trade instructions, exposing an HTTP
// admin surface while it runs.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mirrortrader/internal/clientcache"
	"mirrortrader/internal/clients/snowball"
	"mirrortrader/internal/config"
	"mirrortrader/internal/database"
	"mirrortrader/internal/domain"
	"mirrortrader/internal/events"
	"mirrortrader/internal/modules/allocation"
	"mirrortrader/internal/modules/dedup"
	"mirrortrader/internal/modules/detector"
	"mirrortrader/internal/modules/dispatch"
	"mirrortrader/internal/modules/follower"
	"mirrortrader/internal/modules/planner"
	"mirrortrader/internal/modules/syncer"
	"mirrortrader/internal/reliability"
	"mirrortrader/internal/scheduler"
	"mirrortrader/internal/server"
	"mirrortrader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().
		Int("tracked", len(cfg.Track)).
		Int("followed", len(cfg.Follow)).
		Str("data_dir", cfg.DataDir).
		Msg("Starting portfolio mirror daemon")

	// Databases: the executed-command set and trade log live in state.db
	// with full durability, the quote cache in cache.db tuned for speed.
	stateDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "state.db"),
		Profile: database.ProfileLedger,
		Name:    "state",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state database")
	}
	defer stateDB.Close()
	if err := stateDB.Migrate(dedup.Schema + syncer.Schema); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate state database")
	}

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()
	if err := cacheDB.Migrate(clientcache.Schema); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate cache database")
	}

	// Event bus, with an optional Kafka sink for external consumers
	bus := events.NewBus(log)
	eventManager := events.NewManager(bus, log)

	var kafkaSink *events.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		kafkaSink.Attach(bus)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Kafka event sink attached")
	}

	// Gateway: raw HTTP client, domain adapter, quote cache in front
	client := snowball.NewClient(cfg.BaseURL, cfg.TradeBaseURL, cfg.Cookies, log)
	rawGateway := snowball.NewGateway(client)
	quoteCache := clientcache.NewRepository(cacheDB.Conn())
	gateway := clientcache.NewCachingGateway(
		rawGateway,
		quoteCache,
		time.Duration(cfg.QuoteCacheTTL)*time.Second,
		log,
	)

	// Core services
	keyStore, err := dedup.NewSQLiteKeyStore(stateDB.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load executed-command set")
	}
	log.Info().Int("executed_keys", keyStore.Len()).Msg("Executed-command set loaded")

	deduplicator := dedup.NewDeduplicator(keyStore, log)
	resolver := allocation.NewResolver(gateway, log)
	reconPlanner := planner.NewPlanner(log)
	changeDetector := detector.NewDetector(gateway, log)
	tradeLog := syncer.NewTradeLogRepository(stateDB.Conn())

	orchestrator := syncer.NewOrchestrator(
		gateway, resolver, reconPlanner, changeDetector, tradeLog, eventManager, log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dispatcher executes follower-mode instructions against the execution
	// account.
	var dispatcher *dispatch.Dispatcher
	var followerService *follower.Service
	if len(cfg.Follow) > 0 {
		executor := snowball.NewAccountExecutor(rawGateway, cfg.ExecutionAccount)
		dispatcher = dispatch.NewDispatcher(dispatch.Config{
			ExpireSeconds: cfg.ExpireSeconds,
			Slippage:      cfg.Slippage,
			AdjustSell:    cfg.AdjustSell,
		}, executor, eventManager, log)
		dispatcher.Start(ctx)

		targets := make([]follower.WatchTarget, 0, len(cfg.Follow))
		for _, f := range cfg.Follow {
			targets = append(targets, follower.WatchTarget{
				Portfolio:     f.Portfolio,
				TotalAssets:   f.TotalAssets,
				InitialAssets: f.InitialAssets,
			})
		}
		// The follower gets its own detector: sharing one with the
		// orchestrator would let either consumer advance the other's
		// change baseline when a portfolio is both tracked and followed.
		followerService = follower.NewService(
			targets,
			time.Duration(cfg.FollowInterval)*time.Second,
			detector.NewDetector(gateway, log),
			&followerSource{gateway: gateway, raw: rawGateway},
			deduplicator,
			dispatcher,
			eventManager,
			log,
		)
		followerService.Start(ctx)
	} else {
		// Idle dispatcher keeps the admin surface uniform
		dispatcher = dispatch.NewDispatcher(dispatch.Config{
			ExpireSeconds: cfg.ExpireSeconds,
			Slippage:      cfg.Slippage,
			AdjustSell:    cfg.AdjustSell,
		}, snowball.NewAccountExecutor(rawGateway, cfg.ExecutionAccount), eventManager, log)
	}

	// Direct-sync mode: one auto-track loop per configured pair
	for _, pair := range cfg.Track {
		orchestrator.StartAutoTrack(ctx, pair.AccountID, pair.Portfolio, time.Duration(cfg.TrackInterval)*time.Second)
	}

	// Maintenance: cache cleanup, WAL checkpoints, optional cloud backups
	var cloudBackup *reliability.CloudBackupService
	if cfg.BackupBucket != "" {
		s3Client, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Bucket:    cfg.BackupBucket,
			Endpoint:  cfg.BackupEndpoint,
			Region:    cfg.BackupRegion,
			AccessKey: cfg.BackupAccessKey,
			SecretKey: cfg.BackupSecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}
		backupService := reliability.NewBackupService(map[string]*database.DB{
			"state": stateDB,
			"cache": cacheDB,
		}, log)
		cloudBackup = reliability.NewCloudBackupService(s3Client, backupService, cfg.DataDir, cfg.BackupPrefix, log)
	}

	sched := scheduler.New(log)
	maintenance := scheduler.NewMaintenance(
		map[string]*database.DB{"state": stateDB, "cache": cacheDB},
		quoteCache,
		cloudBackup,
		cfg.BackupRetention,
		log,
	)
	if err := maintenance.Register(sched, cfg.BackupSchedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance jobs")
	}
	sched.Start()

	// Admin HTTP server
	srv := server.New(server.Config{
		Log:          log,
		Cfg:          cfg,
		Orchestrator: orchestrator,
		Dispatcher:   dispatcher,
		Dedup:        deduplicator,
		Gateway:      gateway,
		TradeLog:     tradeLog,
		Bus:          bus,
		CloudBackup:  cloudBackup,
	})
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	// Orderly shutdown: stop producing, drain, then release resources
	cancel()
	orchestrator.StopAll()
	if followerService != nil {
		followerService.Wait()
	}
	dispatcher.Wait()
	sched.Stop()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Warn().Err(err).Msg("Kafka sink close failed")
		}
	}
	log.Info().Msg("Shutdown complete")
}

// followerSource adapts the cached gateway plus the raw client's net value
// lookup to the follower's source interface.
type followerSource struct {
	gateway domain.Gateway
	raw     *snowball.Gateway
}

func (s *followerSource) LookupQuote(symbol string) (*domain.Quote, error) {
	return s.gateway.LookupQuote(symbol)
}

func (s *followerSource) NetValue(portfolioCode string) (float64, error) {
	return s.raw.NetValue(portfolioCode)
}
