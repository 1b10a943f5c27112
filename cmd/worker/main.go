// Command worker consumes partition and train tasks from RabbitMQ, storing
// shards and artifacts in S3.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fedtext-backend/cmd"
	"fedtext-backend/internal/config"
	"fedtext-backend/internal/core"
	"fedtext-backend/internal/dataset/agnews"
	"fedtext-backend/internal/messaging"
	"fedtext-backend/internal/storage"
)

func main() {
	log.Println("starting worker process")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	cleanup, err := cmd.InitOnnxRuntime(cfg.OnnxRuntimeDylib)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer cleanup()

	db, err := cmd.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("%v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("failed to create object store: %v", err)
	}

	for _, bucket := range []string{cfg.ModelBucket, cfg.DatasetBucket} {
		if err := store.CreateBucket(context.Background(), bucket); err != nil {
			log.Fatalf("failed to create bucket %s: %v", bucket, err)
		}
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("failed to create rabbitmq consumer: %v", err)
	}

	textEncoder, featureEncoder, err := cmd.NewEncoders(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer textEncoder.Close()
	defer featureEncoder.Release()

	fetcher := agnews.NewFetcher(cfg.DatasetURL, cfg.DataDir)

	worker := core.NewTaskProcessor(
		db, store, publisher, reciever, fetcher, textEncoder, featureEncoder,
		cfg.WorkDir, cfg.ModelBucket, cfg.DatasetBucket,
	)

	go worker.Start()

	log.Println("worker started, waiting for tasks")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received")
	worker.Stop()

	log.Println("worker process stopped")
}
