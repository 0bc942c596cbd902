package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/billhawk/billhawk/common/logging"
	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/common/messaging/kafka"
	natsclient "github.com/billhawk/billhawk/common/messaging/nats"
	"github.com/billhawk/billhawk/events/internal/config"
	"github.com/billhawk/billhawk/events/internal/consumer"
	"github.com/billhawk/billhawk/events/internal/dlq"
	"github.com/billhawk/billhawk/events/internal/expression"
	"github.com/billhawk/billhawk/events/internal/metrics"
	"github.com/billhawk/billhawk/events/internal/payinadvance"
	"github.com/billhawk/billhawk/events/internal/pipeline"
	"github.com/billhawk/billhawk/events/internal/refresh"
	"github.com/billhawk/billhawk/events/internal/server"
	"github.com/billhawk/billhawk/events/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("events-processor"))
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Events processor stopped", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("Events processor exited")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting events processor",
		slog.Any("brokers", cfg.Kafka.Brokers),
		slog.String("input_topic", cfg.Kafka.InputTopic),
		slog.String("output_topic", cfg.Kafka.OutputTopic),
		slog.String("metrics_store", cfg.MetricsStore.Backend),
		slog.String("dlq_backend", cfg.DLQ.Backend),
	)

	if cfg.Kafka.EnsureTopics {
		tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := kafka.EnsureTopics(tctx, kafka.EnsureTopicsArgs{
			Brokers:          cfg.Kafka.Brokers,
			Input:            kafka.TopicSpec{Name: cfg.Kafka.InputTopic, Partitions: cfg.Kafka.Partitions},
			Output:           kafka.TopicSpec{Name: cfg.Kafka.OutputTopic, Partitions: cfg.Kafka.Partitions},
			DeadLetter:       kafka.TopicSpec{Name: cfg.Kafka.DeadLetterTopic, Partitions: cfg.Kafka.Partitions},
			ChargedInAdvance: kafka.TopicSpec{Name: cfg.Kafka.ChargedInAdvanceTopic, Partitions: cfg.Kafka.Partitions},
		})
		cancel()
		if err != nil {
			slog.Warn("Topic provisioning incomplete; relying on existing topics", logging.Error(err))
		}
	}

	checks := []server.Check{
		{Name: "kafka", Checker: kafka.HealthChecker{Brokers: cfg.Kafka.Brokers}},
	}

	// Metric reference data
	var base store.Resolver
	switch cfg.MetricsStore.Backend {
	case "postgres":
		if cfg.Database.RunMigrations {
			if err := store.Migrate(cfg.Database.URL); err != nil {
				return err
			}
			slog.Info("Database migrations applied")
		}
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, store.PostgresConfig{
			MaxConns:     cfg.Database.MaxConns,
			MinConns:     cfg.Database.MinConns,
			QueryTimeout: cfg.Database.QueryTimeout,
		})
		if err != nil {
			return err
		}
		defer pg.Close()
		base = pg
		checks = append(checks, server.Check{Name: "postgres", Checker: messaging.HealthCheckFunc(pg.Ping)})
	case "file":
		fs, err := store.LoadFile(cfg.MetricsStore.FilePath)
		if err != nil {
			return err
		}
		base = fs
		slog.Info("Loaded billable metrics from file",
			slog.String("path", cfg.MetricsStore.FilePath),
			slog.Int("metrics", fs.Len()),
		)
	}
	resolver := store.NewCachedResolver(base, cfg.MetricsStore.CacheTTL)

	programs := expression.NewCache(cfg.Expression.CacheSize)
	metrics.RegisterExpressionCacheSize(programs.Len)
	evaluator := expression.NewEvaluator(programs)

	// Outbound topic
	out, err := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.OutputTopic,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	})
	if err != nil {
		return err
	}
	defer out.Close()

	// Dead-letter queue
	var deadLetters dlq.Writer
	switch cfg.DLQ.Backend {
	case "kafka":
		w, err := kafka.NewWriter(kafka.WriterConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.DeadLetterTopic,
			RequiredAcks: cfg.Kafka.RequiredAcks,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		if err != nil {
			return err
		}
		defer w.Close()
		deadLetters = dlq.NewKafkaQueue(w, logger.Logger)
	case "file":
		fq, err := dlq.NewFileQueue(cfg.DLQ.BasePath)
		if err != nil {
			return err
		}
		deadLetters = fq
		slog.Warn("File-based DLQ does not support multiple processor instances", slog.String("path", cfg.DLQ.BasePath))
	}

	// Pay-in-advance fee tasks
	js, err := natsclient.NewJetStreamClient(natsConfig(cfg.NATS))
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := js.Drain(dctx); err != nil {
			slog.Warn("NATS connection did not drain", logging.Error(err))
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	_, err = js.CreateOrUpdateStream(sctx, natsclient.PayInAdvanceFeesStream)
	cancel()
	if err != nil {
		return err
	}
	checks = append(checks, server.Check{Name: "nats", Checker: js})
	dispatcher := payinadvance.NewAsyncDispatcher(
		payinadvance.NewJetStreamSink(js, cfg.NATS.Subject),
		payinadvance.Config{
			Workers:    cfg.Pipeline.DispatchWorkers,
			BufferSize: cfg.Pipeline.DispatchBuffer,
		},
		logger.Logger,
	)

	// Subscription refresh flags
	var flagger refresh.Flagger
	if cfg.Redis.Enabled {
		rf, err := refresh.NewRedisFlagger(ctx, cfg.Redis.URL)
		if err != nil {
			slog.Warn("Failed to connect to Redis; subscription refresh flags disabled", logging.Error(err))
		} else {
			defer rf.Close()
			flagger = rf
			checks = append(checks, server.Check{Name: "redis", Checker: rf})
		}
	} else {
		slog.Info("Redis disabled - subscription refresh flags will not be set")
	}

	pipe := pipeline.New(pipeline.Deps{
		Resolver:    resolver,
		Evaluator:   evaluator,
		Publisher:   out,
		DeadLetters: deadLetters,
		Dispatcher:  dispatcher,
		Flagger:     flagger,
	}, pipeline.Config{
		EventTimeout:  cfg.Pipeline.EventTimeout,
		MaxRetries:    cfg.Pipeline.PublishMaxRetries,
		MaxElapsed:    cfg.Pipeline.PublishMaxElapsed,
		RetryInterval: cfg.Pipeline.RetryInterval,
	}, logger)

	consumerCfg := consumer.Config{
		PartitionBuffer: cfg.Pipeline.PartitionBuffer,
		DrainTimeout:    cfg.Pipeline.DrainTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	reader, err := newReader(cfg, cfg.Kafka.GroupID, cfg.Kafka.InputTopic)
	if err != nil {
		return err
	}
	defer reader.Close()
	mainCfg := consumerCfg
	mainCfg.Topic = cfg.Kafka.InputTopic
	events := consumer.NewPartitionedConsumer(reader, consumer.HandlerFunc(func(ctx context.Context, msg *messaging.Message) error {
		_, err := pipe.Process(ctx, msg)
		return err
	}), mainCfg, logger)
	g.Go(func() error {
		return events.Run(gctx)
	})

	if cfg.Kafka.ConsumeChargedInAdvance {
		preReader, err := newReader(cfg, cfg.Kafka.ChargedInAdvanceGroup, cfg.Kafka.ChargedInAdvanceTopic)
		if err != nil {
			return err
		}
		defer preReader.Close()
		preCfg := consumerCfg
		preCfg.Topic = cfg.Kafka.ChargedInAdvanceTopic
		preflagged := consumer.NewPartitionedConsumer(preReader,
			consumer.NewPreflagged(resolver, dispatcher, deadLetters, cfg.Pipeline.EventTimeout, logger),
			preCfg, logger)
		g.Go(func() error {
			return preflagged.Run(gctx)
		})
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(server.NewHandler(func() any { return pipe.Stats() }, checks...)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	g.Go(func() error {
		slog.Info("Operational endpoints listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	slog.Info("Consumers stopped; flushing pay-in-advance dispatcher",
		slog.Int("pending", dispatcher.Pending()),
	)

	// Consumers are done, so no new fee tasks can arrive.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		slog.Error("Pay-in-advance dispatcher did not drain", logging.Error(err))
	}
	return runErr
}

func natsConfig(c config.NATSConfig) natsclient.Config {
	nc := natsclient.DefaultConfig()
	nc.URL = c.URL
	nc.Username = c.Username
	nc.Password = c.Password
	nc.Token = c.Token
	return nc
}

func newReader(cfg *config.Config, groupID, topic string) (*kafka.Reader, error) {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:       cfg.Kafka.Brokers,
		GroupID:       groupID,
		Topic:         topic,
		MaxWait:       cfg.Kafka.MaxWait,
		QueueCapacity: cfg.Kafka.QueueCapacity,
	})
}
