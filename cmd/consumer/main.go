package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/backend"
	"github.com/reposhub/reposhub/internal/backend/github"
	"github.com/reposhub/reposhub/internal/fetcher"
	"github.com/reposhub/reposhub/internal/model"
	"github.com/reposhub/reposhub/internal/queue"
	"github.com/reposhub/reposhub/internal/token"
	"github.com/reposhub/reposhub/internal/worker"
	"github.com/reposhub/reposhub/pkg/db"
	"github.com/reposhub/reposhub/pkg/kafka"
	"github.com/reposhub/reposhub/pkg/log"
)

func main() {
	workerType := flag.String("type", "", "Type of worker to run (fetch, count)")
	flag.Parse()

	if *workerType == "" {
		fmt.Println("Please specify a worker type: -type=[fetch|count]")
		os.Exit(1)
	}

	loader, _ := cfg.NewViperLoader()
	config, err := loader.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, _ := log.NewCslLogger()

	mysql, err := db.NewMysql(config)
	if err != nil {
		logger.Error(context.Background(), "Failed to connect to database: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver, err := model.NewResolver(config, logger, mysql)
	if err != nil {
		logger.Error(ctx, "Failed to build resolver: %v", err)
		os.Exit(1)
	}

	deadLetters, err := queue.NewKafkaQueue(config, logger)
	if err != nil {
		logger.Error(ctx, "Failed to build queue: %v", err)
		os.Exit(1)
	}
	defer deadLetters.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	switch *workerType {
	case "fetch":
		startFetchWorker(ctx, config, logger, mysql, resolver, deadLetters)
	case "count":
		startCountWorker(ctx, config, logger, resolver, deadLetters)
	default:
		logger.Error(ctx, "Unknown worker type: %s", *workerType)
		os.Exit(1)
	}

	<-sigCh
	logger.Info(ctx, "Received shutdown signal, gracefully shutting down...")
	cancel()
}

func startFetchWorker(ctx context.Context, config *cfg.Config, logger log.Logger, mysql *db.Mysql, resolver *model.Resolver, q *queue.KafkaQueue) {
	githubBackend, err := github.NewBackend(config, logger)
	if err != nil {
		logger.Error(ctx, "Failed to build github backend: %v", err)
		os.Exit(1)
	}
	registry, err := backend.NewRegistry(githubBackend)
	if err != nil {
		logger.Error(ctx, "Failed to build backend registry: %v", err)
		os.Exit(1)
	}

	tokenStore, _ := token.NewGormStore(config, logger, mysql)
	pools, _ := token.NewManager(config, logger, tokenStore)

	orchestrator, err := fetcher.NewFetcher(config, logger, registry, pools, q)
	if err != nil {
		logger.Error(ctx, "Failed to build fetcher: %v", err)
		os.Exit(1)
	}

	source, err := worker.NewKafkaSource(config, logger)
	if err != nil {
		logger.Error(ctx, "Failed to build fetch source: %v", err)
		os.Exit(1)
	}

	fetchWorker, _ := worker.NewFetchWorker(config, logger, source, resolver, orchestrator, q)

	go func() {
		defer source.Close()
		if err := fetchWorker.Run(ctx); err != nil {
			logger.Error(ctx, "Fetch worker error: %v", err)
		}
	}()

	logger.Info(ctx, "Fetch worker started successfully")
}

func startCountWorker(ctx context.Context, config *cfg.Config, logger log.Logger, resolver *model.Resolver, q *queue.KafkaQueue) {
	consumer := kafka.NewConsumer(config, logger, config.Kafka.TopicCount, config.Kafka.ConsumerGroup)
	countWorker, _ := worker.NewCountWorker(config, logger, resolver, q, consumer)

	go func() {
		if err := countWorker.Run(ctx); err != nil {
			logger.Error(ctx, "Count worker error: %v", err)
		}
	}()

	logger.Info(ctx, "Count worker started successfully")
}
