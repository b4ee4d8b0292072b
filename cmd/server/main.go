// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/drip-campaign-backend/internal/config"
	"github.com/unclebandit/drip-campaign-backend/internal/controller"
	"github.com/unclebandit/drip-campaign-backend/internal/db"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/queue"
	"github.com/unclebandit/drip-campaign-backend/internal/repository"
	"github.com/unclebandit/drip-campaign-backend/internal/service"
)

const shutdownTimeout = 15 * time.Second

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

	tx := db.NewTransactor(conn)
	campaignRepo := repository.NewCampaignRepository(conn, log)
	stepRepo := repository.NewSequenceStepRepository(conn, log)
	jobRepo := repository.NewJobRepository(conn, log)

	stepService := service.NewSequenceStepService(tx, campaignRepo, stepRepo, log)
	jobQueue := service.NewJobQueue(tx, jobRepo, notifier, log)

	router := controller.NewRouter(
		controller.NewStepController(stepService, log),
		controller.NewJobController(jobQueue, log),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("🚀 Server running", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
}
