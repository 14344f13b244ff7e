package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"TrancheLedger/internal/config"
	"TrancheLedger/internal/core"
	"TrancheLedger/internal/event"
	"TrancheLedger/internal/ingestion"
	"TrancheLedger/internal/ledger"
	"TrancheLedger/internal/observability"
	"TrancheLedger/internal/oracle"
	"TrancheLedger/internal/persistence"
	"TrancheLedger/internal/ratemodel"
	"TrancheLedger/internal/server"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("trancheledger")
	logger.Info().Msg("TrancheLedger starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	engineParams, rateParams, err := loadParams(cfg.ParamsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.ParamsFile).Msg("load engine parameters")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	healthChecker.SetDependency("postgres", true)
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	snapMgr := persistence.NewSnapshotManager(db, metrics)

	// --- Engine ---
	// Collateral custody is the in-process token ledger; prices come from
	// the NATS feed.
	asset := ledger.NewTokenLedger()
	feed := oracle.NewFeedOracle()
	rateModel, err := ratemodel.NewBaseRateModel(rateParams)
	if err != nil {
		logger.Fatal().Err(err).Msg("rate model")
	}

	engineOut := make(chan event.Envelope, cfg.PersistChanSize)
	engineLogger := observability.NewLogger("engine")

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load snapshot")
	}

	adminID, err := resolveAdmin(cfg.AdminID, snap)
	if err != nil {
		logger.Fatal().Err(err).Msg("resolve admin")
	}

	engine, err := core.NewEngine(core.Config{
		Admin:     adminID,
		Asset:     asset,
		Oracle:    feed,
		RateModel: rateModel,
		Params:    engineParams,
		Logger:    &engineLogger,
		Metrics:   metrics,
		Outputs:   engineOut,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create engine")
	}

	if snap != nil {
		if err := restoreEngine(ctx, engine, snapMgr, *snap, logger); err != nil {
			logger.Fatal().Err(err).Msg("restore from snapshot")
		}
	} else {
		logger.Info().Msg("no snapshot found, cold start at epoch 0")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	healthChecker.SetDependency("nats", true)
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure inbound streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawPrices := make(chan ingestion.RawEvent, 1024)
	priceSub := ingestion.NewNATSSubscriber(js, rawPrices, observability.NewLogger("nats-prices"))
	if err := priceSub.Subscribe(ctx, ingestion.PriceSubjectConfigs()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe prices")
	}
	ingestor := ingestion.NewPriceIngestor(feed, rawPrices, metrics, observability.NewLogger("price-ingestor"))

	// Account commands: funding credits the token ledger, the rest drive
	// the engine.
	rawCommands := make(chan ingestion.RawEvent, 1024)
	commandSub := ingestion.NewNATSSubscriber(js, rawCommands, observability.NewLogger("nats-commands"))
	if err := commandSub.Subscribe(ctx, ingestion.CommandSubjectConfigs()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe commands")
	}
	commands := ingestion.NewCommandHandler(engine, asset, rawCommands, metrics, observability.NewLogger("commands"))

	// --- Workers ---
	persistChan := make(chan event.Envelope, cfg.PersistChanSize)
	publishChan := make(chan event.Envelope, cfg.PublishChanSize)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize,
		cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	persistWorker.SnapshotWith(snapMgr, engine.Snapshot)

	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))

	srv, err := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Ledger:        engine,
		EventLog:      snapMgr,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create server")
	}

	// --- Start goroutines ---
	errChan := make(chan error, 16)
	var workers sync.WaitGroup

	// 1. Engine output fan-out. Runs on its own context so it can drain
	// after the producers stop.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		core.Dispatch(dispatchCtx, engineOut, persistChan, publishChan, metrics)
		close(persistChan)
		close(publishChan)
		close(dispatchDone)
	}()

	// 2. Persistence worker
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("persistence: %w", err)
		}
	}()

	// 3. Outbound publisher
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := publisher.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("publisher: %w", err)
		}
	}()

	// 4. Price ingestion
	go func() {
		if err := ingestor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("price ingestor: %w", err)
		}
	}()

	// 5. Account commands. Must stop before the engine output closes.
	commandsDone := make(chan struct{})
	go func() {
		defer close(commandsDone)
		if err := commands.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("command handler: %w", err)
		}
	}()

	// 6. Epoch scheduler
	schedulerDone := make(chan struct{})
	go func() {
		runEpochScheduler(ctx, engine, cfg.EpochPoll, observability.NewLogger("scheduler"))
		close(schedulerDone)
	}()

	// 7. gRPC server
	go func() {
		if err := srv.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc: %w", err)
		}
	}()

	// 8. HTTP/JSON gateway
	go func() {
		if err := srv.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 9. Prometheus metrics server
	go func() {
		if err := serveMetrics(ctx, cfg.MetricsAddr, logger); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	srv.SetServing(true)

	logger.Info().
		Int64("sequence", engine.Sequence()).
		Int64("epoch", engine.Epoch()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("TrancheLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop producers, drain the engine output, flush persistence, then take
	// a final snapshot that matches the last persisted event.
	healthChecker.SetReady(false)
	srv.SetServing(false)
	cancel()
	priceSub.Stop()
	commandSub.Stop()
	<-commandsDone
	<-schedulerDone

	close(engineOut)
	<-dispatchDone
	workers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := saveFinalSnapshot(shutdownCtx, engine, snapMgr); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", engine.Sequence()).Msg("final snapshot saved")
	}

	logger.Info().Msg("TrancheLedger shutdown complete")
}

// loadParams reads the YAML parameter file, or uses the defaults when no
// file is configured.
func loadParams(path string) (core.Params, ratemodel.Params, error) {
	pf := config.DefaultParamsFile()
	if path != "" {
		var err error
		if pf, err = config.LoadParamsAndValidate(path); err != nil {
			return core.Params{}, ratemodel.Params{}, err
		}
	}
	return pf.Resolve()
}

// resolveAdmin prefers the admin recorded in the snapshot; a cold start
// needs TRANCHE_ADMIN_ID.
func resolveAdmin(configured string, snap *core.Snapshot) (uuid.UUID, error) {
	if snap != nil {
		return snap.Admin, nil
	}
	if configured == "" {
		return uuid.Nil, errors.New("TRANCHE_ADMIN_ID is required on a cold start")
	}
	id, err := uuid.Parse(configured)
	if err != nil {
		return uuid.Nil, fmt.Errorf("TRANCHE_ADMIN_ID: %w", err)
	}
	return id, nil
}

// restoreEngine checks the snapshot against the event log and loads it.
// Every batch commits with a snapshot, so a log ahead of the latest snapshot
// means the tables were changed by hand; startup stops rather than reusing
// sequence numbers.
func restoreEngine(ctx context.Context, engine *core.Engine, mgr *persistence.SnapshotManager, snap core.Snapshot, logger zerolog.Logger) error {
	latest, err := mgr.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("latest event sequence: %w", err)
	}
	if latest > snap.Sequence {
		return fmt.Errorf("event log at sequence %d is ahead of snapshot %d", latest, snap.Sequence)
	}

	switch err := mgr.Verify(ctx, snap); {
	case err == nil:
		logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot state hash verified")
	case errors.Is(err, persistence.ErrSnapshotAhead):
		logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("event log is missing the tail before this snapshot")
	default:
		return err
	}

	if err := engine.Restore(snap); err != nil {
		return err
	}
	logger.Info().
		Int64("sequence", snap.Sequence).
		Int64("epoch", snap.Epoch).
		Msg("restored engine from snapshot")
	return nil
}

// runEpochScheduler polls StartNextEpoch. Early calls are no-ops inside the
// engine, so the poll interval only bounds settlement latency.
func runEpochScheduler(ctx context.Context, engine *core.Engine, poll time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			advanced, err := engine.StartNextEpoch()
			if err != nil {
				if errors.Is(err, oracle.ErrNoPrice) {
					logger.Warn().Msg("no price received yet, settlement postponed")
					continue
				}
				logger.Error().Err(err).Int64("epoch", engine.Epoch()).Msg("settlement failed")
				continue
			}
			if advanced {
				logger.Debug().Int64("epoch", engine.Epoch()).Msg("epoch advanced")
			}
		}
	}
}

func saveFinalSnapshot(ctx context.Context, engine *core.Engine, mgr *persistence.SnapshotManager) error {
	snap, err := engine.Snapshot()
	if err != nil {
		return err
	}
	return mgr.SaveSnapshot(ctx, snap, time.Now())
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown")
		}
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
