package main

import (
	"context"
	"errors"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/runs"
	"github.com/Ramsey-B/fern/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) newServer(d *deps) (*server.Server, *health.Checker, error) {
	srv := server.New(a.logger, server.Config{
		AppName:      a.cfg.AppName,
		Port:         a.cfg.Port,
		ReadTimeout:  seconds(a.cfg.HttpServerReadTimeoutSeconds),
		WriteTimeout: seconds(a.cfg.HttpServerWriteTimeoutSeconds),
	})

	checker := health.NewChecker(a.cfg.AppName)
	checker.AddCheck("database", health.PingFunc(d.db.PingContext))
	if d.redis != nil {
		checker.AddCheck("redis", d.redis)
	}
	if d.graph != nil {
		checker.AddCheck("graph", health.PingFunc(d.graph.VerifyConnectivity))
	}
	checker.RegisterRoutes(srv.Echo)

	options, err := a.plannerOptions()
	if err != nil {
		return nil, nil, err
	}
	_, runLog := a.repositories(d)
	runs.NewHandler(a.logger, runLog, options, d.db.Flavor()).Register(srv.API())
	return srv, checker, nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, run log, plan preview and metrics over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := a.start(ctx, false)
			if err != nil {
				return err
			}
			srv, checker, err := a.newServer(d)
			if err != nil {
				return err
			}
			checker.SetReady(true)
			return srv.Start(ctx)
		},
	}
}

func (a *app) ingestCmd() *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Merge live node and relationship messages from kafka into the destination",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := a.start(ctx, false)
			if err != nil {
				return err
			}
			dest, _ := a.repositories(d)
			ids := identity.NewAllocator()
			registry, err := a.registry(ctx, dest, ids)
			if err != nil {
				return err
			}
			if len(registry.Kinds()) == 0 {
				return errors.New("ingest needs at least one converter; set FERN_CONVERTERS_PATH")
			}

			// live ingestion always looks up existing rows
			mergeConfig := a.mergeConfig()
			mergeConfig.NoMerge = false
			engine := merging.NewEngine(a.logger, dest, registry, ids, mergeConfig)

			mp := processor.NewMergeProcessor(a.logger, engine).
				WithRetry(a.cfg.IngestMaxRetries, a.cfg.IngestRetryInterval)
			if d.redis != nil {
				engine.WithLocker(a.locker(d))
				mp.WithDeadLetters(redis.NewDeadLetterQueue(d.redis, a.cfg.DeadLetterStream))
			}

			consumer := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:       a.cfg.KafkaBrokers,
				Topic:         a.cfg.KafkaInputTopic,
				ConsumerGroup: a.cfg.KafkaConsumerGroup,
				BatchSize:     a.cfg.KafkaBatchSize,
				BatchTimeout:  a.cfg.KafkaBatchTimeout,
			}, a.logger, mp.HandleBatch)
			a.onClose(func(context.Context) error { return consumer.Stop() })

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return consumer.Run(gctx) })
			if serve {
				srv, checker, err := a.newServer(d)
				if err != nil {
					return err
				}
				checker.AddCheck("kafka", health.PingFunc(func(context.Context) error {
					if !consumer.Health() {
						return errors.New("consumer is not running")
					}
					return nil
				}))
				checker.SetReady(true)
				g.Go(func() error { return srv.Start(gctx) })
			}
			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", true, "also serve health and metrics over HTTP")
	return cmd
}
