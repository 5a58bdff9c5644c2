package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"kanban-live/internal/cache"
	"kanban-live/internal/config"
	"kanban-live/internal/handlers"
	"kanban-live/internal/logger"
	"kanban-live/internal/realtime"
	"kanban-live/internal/services"
	"kanban-live/internal/store"
	"kanban-live/internal/worker"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logger.Init("kanban-live")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	taskStore, err := store.Open(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open task store")
	}

	redisCache := cache.NewRedisCache(&cache.CacheConfig{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisCache.Close()

	taskService := services.NewCachedTaskService(services.NewTaskService(taskStore), redisCache)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(log)
	go hub.Run(ctx)

	maintenanceWorker := worker.New(worker.Config{
		RedisClient: redisCache.Client(),
		Logger:      log,
		Queues:      cfg.Worker.Queues,
	})
	maintenanceWorker.RegisterHandler(
		worker.JobTypeDoneCleanup,
		worker.DoneCleanupHandler(taskService, hub, cfg.Worker.DoneRetention),
	)
	maintenanceWorker.Start(cfg.Worker.Concurrency)
	defer maintenanceWorker.Stop()

	go scheduleCleanup(ctx, cfg, redisCache, log)

	taskHandler := handlers.NewTaskHandler(taskService, hub)
	router := handlers.NewRouter(cfg, log, taskHandler, hub, taskService)

	server := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

func scheduleCleanup(ctx context.Context, cfg *config.Config, redisCache *cache.RedisCache, log *logrus.Logger) {
	queue := worker.NewJobQueue(redisCache.Client())
	ticker := time.NewTicker(cfg.Worker.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job := &worker.Job{
				ID:   uuid.Must(uuid.NewV4()).String(),
				Type: worker.JobTypeDoneCleanup,
			}
			if err := queue.Enqueue(ctx, cfg.Worker.Queues[0], job); err != nil {
				log.WithError(err).Error("failed to enqueue cleanup job")
			}
		}
	}
}
