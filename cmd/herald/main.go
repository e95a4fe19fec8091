package main

import (
	"context"
	"time"

	"nexus/internal/generator"
	"nexus/internal/handlers"
	"nexus/internal/jobs"
	"nexus/internal/platform"
	"nexus/internal/publisher"
	"nexus/internal/scheduler"
	"nexus/internal/store"
	"nexus/internal/taskqueue"
	"nexus/internal/tracker"
	"nexus/pkg/auth"
	"nexus/pkg/config"
	"nexus/pkg/crypto"
	"nexus/pkg/database"
	"nexus/pkg/kafka"
	"nexus/pkg/logging"
	"nexus/pkg/monitoring"
	"nexus/pkg/redis"
	"nexus/pkg/server"
	"nexus/pkg/version"
)

const serviceName = "herald"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting herald content pipeline")

	// Database
	dbCfg := database.DefaultConfig()
	dbCfg.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbCfg, logger)
	defer db.Close()

	if err := database.ApplySchema(context.Background(), db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	st := store.NewStore(db)
	queue := taskqueue.NewQueue(db)

	// Redis wakeup channel for the task worker (optional)
	var nudge *redis.TypedPubSub[taskqueue.Nudge]
	if addr := config.GetEnv("REDIS_ADDR", ""); addr != "" {
		redisClient, err := redis.NewClient(context.Background(), redis.Config{
			Addr:     addr,
			Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB:       config.GetEnvInt("REDIS_DB", 0),
		})
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, task worker will poll only")
		} else {
			defer redisClient.Close()
			nudge = redis.NewTypedPubSub[taskqueue.Nudge](redisClient)
		}
	}

	// Kafka lifecycle events (optional)
	var events *kafka.Producer
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		var err error
		events, err = kafka.NewProducer([]string{brokers}, serviceName, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka unavailable, lifecycle events disabled")
		} else {
			defer events.Close()
		}
	}

	// Platform clients. Stored integration credentials are decrypted with a
	// key derived from the service secret.
	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))
	fieldCrypt, err := crypto.DeriveFieldEncryptor(jwtSecret, "platform-credentials")
	if err != nil {
		logger.WithError(err).Fatal("Failed to derive credential encryptor")
	}
	registry := platform.NewRegistry(st, fieldCrypt)
	twitterCfg := platform.DefaultTwitterConfig()
	twitterCfg.BaseURL = config.GetEnv("TWITTER_API_URL", twitterCfg.BaseURL)
	registry.Register(platform.NewTwitter(twitterCfg, logger))

	linkedinCfg := platform.DefaultLinkedInConfig()
	linkedinCfg.BaseURL = config.GetEnv("LINKEDIN_API_URL", linkedinCfg.BaseURL)
	registry.Register(platform.NewLinkedIn(linkedinCfg, logger))

	// Domain services
	var sink scheduler.EventSink
	if events != nil {
		sink = events
	}
	metricsDelay := config.GetEnvDuration("METRICS_DELAY", time.Hour)
	sch := scheduler.New(st, registry, queue, sink, nudge, logger)
	pub := publisher.New(st, registry, queue, sink, logger, metricsDelay)
	tr := tracker.New(st, registry, sink, logger)

	// Task worker
	worker := taskqueue.NewWorker(queue, logger, taskqueue.WorkerConfig{
		PollInterval: config.GetEnvDuration("TASK_POLL_INTERVAL", 5*time.Second),
		StaleAfter:   config.GetEnvDuration("TASK_STALE_AFTER", 10*time.Minute),
		Nudge:        nudge,
	})
	worker.RegisterHandler(taskqueue.KindPublishDraft, pub.HandlePublishTask)
	worker.RegisterHandler(taskqueue.KindCollectMetrics, tr.HandleCollectTask)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go worker.Start(workerCtx)

	// Periodic engagement refresh
	refresher := jobs.NewMetricsRefresher(st, queue, logger,
		config.GetEnvDuration("METRICS_REFRESH_WINDOW", 48*time.Hour))
	if err := refresher.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start metrics refresh job")
	}

	// Monitoring
	hc := monitoring.NewHealthChecker(serviceName, version.Version)
	hc.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	if events != nil {
		hc.AddCheck("kafka", monitoring.KafkaHealthCheck(events.GetClient()))
	}
	hc.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbCfg.URL,
		"JWT_SECRET":   string(jwtSecret),
	}))
	mc := monitoring.NewMetricsCollector(serviceName, version.Version, version.GetShortCommit())

	// HTTP
	router := server.SetupServiceRouter(logger, serviceName, hc, mc)
	h := handlers.NewHandlers(st, sch, pub, tr, generator.NewTemplate(), logger)
	h.RegisterRoutes(router, auth.JWTAuthMiddleware(jwtSecret))

	if err := server.Start(server.DefaultConfig(serviceName, "8080"), router, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}

	refresher.Stop()
	stopWorker()
	worker.Wait()
	logger.Info("Herald stopped")
}
