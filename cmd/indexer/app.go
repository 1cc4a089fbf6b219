package main

import (
	"context"
	"fmt"
	"time"

	"ledgerindexer/config"
	"ledgerindexer/internal/backfill"
	"ledgerindexer/internal/db/clickhouse"
	"ledgerindexer/internal/db/mongo"
	"ledgerindexer/internal/db/redis"
	"ledgerindexer/internal/db/relational"
	"ledgerindexer/internal/dedup"
	"ledgerindexer/internal/lock"
	"ledgerindexer/internal/marketplace"
	"ledgerindexer/internal/mirror"
	"ledgerindexer/internal/processor"
	"ledgerindexer/internal/queue"
	"ledgerindexer/internal/reconcile"
	"ledgerindexer/internal/scheduler"
	"ledgerindexer/internal/solana"
	"ledgerindexer/internal/ticket"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// app holds the shared connections of one command run.
type app struct {
	cfg     *config.IndexerConfig
	log     *logrus.Logger
	db      *relational.Database
	mirror  mirror.Store
	redis   *goredis.Client
	ledger  *solana.Client
	tickets *ticket.Client
}

func newApp(ctx context.Context, cfg *config.IndexerConfig, log *logrus.Logger) (*app, error) {
	a := &app{
		cfg: cfg,
		log: log,
		ledger: solana.NewClient(solana.Options{
			RPCURL: cfg.SolanaRPCURL,
			WSURL:  cfg.SolanaWSURL,
		}, log),
		tickets: ticket.NewClient(ticket.Options{
			BaseURL: cfg.TicketServiceURL,
			Token:   cfg.TicketServiceToken,
		}, log),
	}

	var err error
	a.db, err = relational.NewDatabase(relational.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Database: cfg.DBName,
		Username: cfg.DBUser,
		Password: cfg.DBPassword,
		Debug:    cfg.DBDebug,
	}, log)
	if err != nil {
		return nil, err
	}

	a.mirror, err = openMirror(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.redis, err = redis.NewClient(ctx, redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func openMirror(ctx context.Context, cfg *config.IndexerConfig, log *logrus.Logger) (mirror.Store, error) {
	switch cfg.MirrorBackend {
	case "", "mongo":
		store, err := mongo.NewDatabase(ctx, mongo.Config{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		}, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "clickhouse":
		store, err := clickhouse.NewDatabase(ctx, clickhouse.Config{
			Hosts:    cfg.CHHosts,
			Database: cfg.CHDatabase,
			Username: cfg.CHUser,
			Password: cfg.CHPassword,
			Debug:    cfg.CHDebug,
		}, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.MirrorBackend)
	}
}

func (a *app) Close() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.redis != nil {
		a.redis.Close()
	}
	if a.mirror != nil {
		if err := a.mirror.Close(closeCtx); err != nil {
			a.log.WithField("error", err).Warn("Error closing mirror")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithField("error", err).Warn("Error closing database")
		}
	}
}

func (a *app) deduplicator() *dedup.Deduplicator {
	return dedup.New(a.redis, a.cfg.DedupTTL, a.log)
}

func (a *app) processor() *processor.Processor {
	return processor.New(a.ledger, a.db, a.mirror, a.tickets, a.log)
}

func (a *app) tracker() (*marketplace.Tracker, error) {
	markets, err := marketplace.Resolve(a.cfg.Marketplaces)
	if err != nil {
		return nil, err
	}
	return marketplace.NewTracker(marketplace.Config{
		Marketplaces: markets,
		PollInterval: a.cfg.MarketplacePoll,
		PollLimit:    a.cfg.MarketplacePollLimit,
	}, a.ledger, a.db, a.tickets, a.deduplicator(), a.log), nil
}

func (a *app) syncer(mode backfill.CheckpointMode, resume bool) *backfill.Syncer {
	return backfill.NewSyncer(backfill.Config{
		Program:       a.cfg.ProgramAddress,
		BatchSize:     a.cfg.BackfillBatchSize,
		MaxConcurrent: a.cfg.BackfillMaxConcurrent,
		Pause:         a.cfg.BackfillPause,
		PageLimit:     a.cfg.BackfillPageLimit,
		MaxPages:      a.cfg.BackfillMaxPages,
		Mode:          mode,
		Resume:        resume,
	}, a.ledger, a.processor(), a.db, a.log)
}

func (a *app) engine() *reconcile.Engine {
	return reconcile.NewEngine(reconcile.Config{
		SampleSize: a.cfg.ReconcileSampleSize,
	}, a.ledger, a.tickets, a.db, a.log)
}

const (
	jobReconcile         = "reconcile"
	jobBurns             = "burns"
	jobMarketplaceVerify = "marketplace_verify"
	jobMirrorRepair      = "mirror_repair"
)

// scheduler wires the periodic jobs. repair may be nil when no broker is
// available, in which case mirror repair is not scheduled.
func (a *app) scheduler(repair *queue.RepairProducer) *scheduler.Scheduler {
	engine := a.engine()

	jobs := []scheduler.Job{
		{Name: jobReconcile, Interval: a.cfg.ReconcileInterval, Run: func(ctx context.Context) error {
			_, err := engine.RunReconciliation(ctx)
			return err
		}},
		{Name: jobBurns, Interval: a.cfg.BurnScanInterval, Run: func(ctx context.Context) error {
			_, err := engine.DetectBurns(ctx)
			return err
		}},
		{Name: jobMarketplaceVerify, Interval: a.cfg.MarketplaceVerifyEvery, Run: func(ctx context.Context) error {
			_, err := engine.VerifyMarketplaceActivity(ctx)
			return err
		}},
	}
	if repair != nil {
		jobs = append(jobs, scheduler.Job{Name: jobMirrorRepair, Interval: a.cfg.MirrorRepairInterval, Run: func(ctx context.Context) error {
			_, err := repair.PublishFailedWrites(ctx)
			return err
		}})
	}

	opts := lock.DefaultOptions()
	if a.cfg.LockTTL > 0 {
		opts.TTL = a.cfg.LockTTL
	}
	return scheduler.New(lock.NewManager(a.redis, a.log), opts, a.log, jobs...)
}
