package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"example.com/blogfeed/cmd/server"
	"example.com/blogfeed/cmd/worker"
	appkafka "example.com/blogfeed/internal/broker"
	"example.com/blogfeed/internal/cache"
	"example.com/blogfeed/internal/feed"
	"example.com/blogfeed/internal/follow"
	config "example.com/blogfeed/internal/init"
	"example.com/blogfeed/internal/logger"
	"example.com/blogfeed/internal/projection"
	"example.com/blogfeed/internal/render"
	"example.com/blogfeed/internal/store"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	logger.SetLevel(cfg.LogLevel)
	mode := cfg.Mode

	if mode == "migrate" {
		if err := store.Migrate(cfg); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations complete")
		return
	}

	// Open the configured store (cassandra, sqlite or memory)
	st, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("Store connection failed: %v", err)
	}
	defer st.Close()

	// Configure Kafka client parameters
	kafkaCfg := appkafka.KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		Partition:    cfg.KafkaPartition,
		GroupID:      cfg.KafkaGroupID,
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run application depending on selected mode
	switch mode {
	case "server":
		var kafkaWriter appkafka.KafkaWriter
		if cfg.KafkaBroker == "" {
			log.Println("No KAFKA_BROKER set, projecting timelines in-process")
			kafkaWriter = &projection.InlineWriter{Projector: projection.NewProjector(st)}
		} else {
			kafkaWriter, err = appkafka.NewKafkaWriter(kafkaCfg)
			if err != nil {
				log.Fatalf("Kafka writer init failed: %v", err)
			}
		}
		defer kafkaWriter.Close()

		graph := follow.New(st)
		pages := cache.New(cfg.CacheTTL, nil)
		go pages.RunSweeper(ctx, cfg.CacheSweepInterval)

		feeds, err := feed.NewService(feed.NewEngine(st, graph), pages, render.JSON, feed.Options{
			PageSize:      cfg.FeedPageSize,
			Cached:        cfg.CacheFeeds,
			MaxCachedPage: cfg.CacheMaxPage,
		})
		if err != nil {
			log.Fatalf("Feed service init failed: %v", err)
		}

		srv := server.New(st, kafkaWriter, feeds, graph, server.Settings{
			Addr:       cfg.ServerAddr,
			TLSCert:    cfg.TLSCert,
			TLSKey:     cfg.TLSKey,
			JWTSecret:  cfg.JWTSecret,
			AdminToken: cfg.AdminToken,
		})
		server.Run(ctx, srv)
	case "worker":
		if cfg.KafkaBroker == "" {
			log.Fatalf("worker mode needs KAFKA_BROKER")
		}
		// Start the worker that reads post events and projects timelines
		kafkaReader := appkafka.NewKafkaReader(kafkaCfg)
		defer kafkaReader.Close()
		w := worker.New(st, kafkaReader, cfg.WorkerCount, cfg.WorkerQueueSize)
		w.Run(ctx)
	default:
		log.Fatalf("unknown mode: %s", mode)
	}

	log.Println("Shutdown completed")
}
