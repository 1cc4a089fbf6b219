package main

import (
	"context"
	"os/signal"
	"syscall"

	"ledgerindexer/internal/queue"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume the signature feed, track marketplaces and run scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	broker, err := queue.NewBroker(queue.Config{
		URL:          cfg.RabbitURL,
		ExchangeName: cfg.ExchangeName,
		QueueName:    cfg.QueueName,
		RoutingKey:   cfg.RoutingKey,
		Prefetch:     cfg.Prefetch,
	}, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	deliveries, err := broker.Consume()
	if err != nil {
		return err
	}

	tracker, err := a.tracker()
	if err != nil {
		return err
	}

	consumer := queue.NewConsumer(broker, a.processor(), a.deduplicator(), cfg.MaxAttempts, log)
	repair := queue.NewRepairProducer(a.db, broker, 100, log)
	sched := a.scheduler(repair)

	g, ctx := errgroup.WithContext(ctx)

	tracking, err := tracker.Start(ctx)
	if err != nil {
		return err
	}
	defer tracking.Stop()

	g.Go(func() error {
		return consumer.Run(ctx, deliveries)
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})
	if cfg.FeedPoll {
		feed := queue.NewFeedProducer(a.ledger, broker, cfg.ProgramAddress, cfg.FeedPollEvery, cfg.FeedPollLimit, log)
		g.Go(func() error {
			return feed.Start(ctx)
		})
	}

	log.Info("Indexer started")
	err = g.Wait()
	log.Info("Indexer stopped")
	return err
}
