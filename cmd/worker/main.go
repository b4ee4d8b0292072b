package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/drip-campaign-backend/internal/config"
	"github.com/unclebandit/drip-campaign-backend/internal/db"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
	"github.com/unclebandit/drip-campaign-backend/internal/queue"
	"github.com/unclebandit/drip-campaign-backend/internal/repository"
	"github.com/unclebandit/drip-campaign-backend/internal/service"
)

func main() {
	cfg, loadedDotEnv, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	if !loadedDotEnv {
		log.Warn("⚠️ No .env file found, relying on OS environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Database unavailable", "error", err)
	}
	defer conn.Close()

	notifier, err := queue.New(queue.Options{
		AMQPURL:       cfg.AMQPURL,
		AMQPWakeQueue: cfg.AMQPWakeQueue,
		RedisAddr:     cfg.RedisAddr,
		RedisChannel:  cfg.RedisWakeChannel,
	}, log)
	if err != nil {
		log.Fatal("Notifier unavailable", "error", err)
	}
	defer notifier.Close()

	jobQueue := service.NewJobQueue(db.NewTransactor(conn), repository.NewJobRepository(conn, log), notifier, log)
	worker := service.NewWorker(jobQueue, log, service.WorkerOptions{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		BackoffBase:  cfg.WorkerBackoffBase,
		BackoffMax:   cfg.WorkerBackoffMax,
		Notifier:     notifier,
	})
	for _, name := range cfg.WorkerQueues {
		worker.Register(name, logJob(log.With("queue", name)))
	}

	log.Info("Worker running, waiting for jobs...", "queues", cfg.WorkerQueues)
	if err := worker.Run(ctx); err != nil {
		log.Fatal("Worker stopped", "error", err)
	}
	log.Info("Worker stopped")
}

// logJob acknowledges every job after logging its payload. Delivery itself
// belongs to the sending service.
func logJob(log *logger.Logger) service.Handler {
	return service.HandlerFunc(func(ctx context.Context, job *model.Job) error {
		var payload map[string]interface{}
		if err := job.Decode(&payload); err != nil {
			log.Warn("Payload is not a JSON object", "job_id", job.ID, "error", err)
		}
		log.Info("Processing job",
			"job_id", job.ID,
			"attempt", job.Attempts+1,
			"payload", payload,
		)
		return nil
	})
}
