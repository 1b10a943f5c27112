// Command local runs the full backend on one machine: sqlite, filesystem
// object storage, and an in-memory task queue.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fedtext-backend/cmd"
	"fedtext-backend/internal/api"
	"fedtext-backend/internal/config"
	"fedtext-backend/internal/core"
	"fedtext-backend/internal/database"
	"fedtext-backend/internal/dataset/agnews"
	"fedtext-backend/internal/messaging"
	"fedtext-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "fedtext.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

// createQueue re-enqueues tasks that were queued when the process last
// stopped.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var partitionTasks []database.PartitionTask
	if err := db.Where("status = ?", database.JobQueued).Find(&partitionTasks).Error; err != nil {
		log.Fatalf("failed to fetch tasks from database: %v", err)
	}

	var queuedJobs []database.TrainJob
	if err := db.Where("status = ?", database.JobQueued).Find(&queuedJobs).Error; err != nil {
		log.Fatalf("failed to fetch jobs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	pending := make(map[string]bool, len(partitionTasks))
	for _, task := range partitionTasks {
		pending[task.JobId.String()] = true
		if err := queue.PublishPartitionTask(context.Background(), messaging.PartitionTaskPayload{
			JobId: task.JobId,
		}); err != nil {
			log.Fatalf("failed to publish partition task: %v", err)
		}
	}

	// Jobs whose partition already completed go straight back to training.
	for _, job := range queuedJobs {
		if pending[job.Id.String()] {
			continue
		}
		if err := queue.PublishTrainTask(context.Background(), messaging.TrainTaskPayload{
			JobId: job.Id,
		}); err != nil {
			log.Fatalf("failed to publish train task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, queue messaging.Publisher, cfg config.Config, loader api.ClassifierLoader) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, queue, cfg, loader)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: r,
	}
}

func main() {
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

	slog.Info("starting backend", "port", cfg.APIPort, "work_dir", cfg.WorkDir, "model", cfg.ModelName)

	db := createDatabase(cfg.WorkDir)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.WorkDir, "storage"))
	if err != nil {
		log.Fatalf("failed to create object store: %v", err)
	}
	for _, bucket := range []string{cfg.ModelBucket, cfg.DatasetBucket} {
		if err := store.CreateBucket(context.Background(), bucket); err != nil {
			log.Fatalf("failed to create bucket %s: %v", bucket, err)
		}
	}

	textEncoder, featureEncoder, err := cmd.NewEncoders(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer textEncoder.Close()
	defer featureEncoder.Release()

	queue := createQueue(db)
	fetcher := agnews.NewFetcher(cfg.DatasetURL, cfg.DataDir)

	worker := core.NewTaskProcessor(
		db, store, queue, queue, fetcher, textEncoder, featureEncoder,
		cfg.WorkDir, cfg.ModelBucket, cfg.DatasetBucket,
	)

	server := createServer(db, queue, cfg, worker)

	slog.Info("starting worker")
	go worker.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("could not listen on %d: %v", cfg.APIPort, err)
	}

	slog.Info("server stopped")
}
