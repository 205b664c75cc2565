package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"jobmail/internal/api"
	"jobmail/internal/app"
	"jobmail/internal/config"
	"jobmail/internal/logger"
	"jobmail/internal/metrics"
	"jobmail/internal/scheduler"
	"jobmail/internal/trainer"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg := config.New()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("Starting jobmail daemon...")
	metrics.Init()

	a, err := app.New(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to initialize app", zap.Error(err))
	}
	defer func() { _ = a.Close() }()

	if _, err := a.Engines().Engine(); err != nil {
		zl.Warn("No model loaded yet, classification waits for the first training run", zap.Error(err))
	}

	sched := scheduler.New(zl)
	for _, job := range jobs(a, cfg, zl) {
		if err := sched.Add(job); err != nil {
			zl.Fatal("Failed to schedule job", zap.Error(err))
		}
	}
	sched.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.NewHandler(a.Engines(), a.Verdicts(), zl)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zl.Info("jobmail daemon is running",
		zap.String("address", cfg.HTTPAddr),
		zap.String("device", string(a.Device().Kind)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down...")
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
	}
	zl.Info("Daemon exited")
}

func jobs(a *app.App, cfg *config.Config, zl *zap.Logger) []scheduler.Job {
	remote := cfg.RemotePushCmd != "" && cfg.RemoteStatusCmd != "" && cfg.RemoteFetchCmd != ""
	return []scheduler.Job{
		{
			Name: "classify",
			Spec: cfg.ClassifySchedule,
			Run: func(ctx context.Context) error {
				return a.Run(ctx, app.ModeClassify)
			},
		},
		{
			Name: "train",
			Spec: cfg.TrainSchedule,
			Run: func(ctx context.Context) error {
				if _, err := a.Sync(ctx); err != nil {
					return err
				}
				var err error
				if remote {
					_, err = a.RemoteTrain(ctx)
				} else {
					_, err = a.Train(ctx)
				}
				if errors.Is(err, trainer.ErrNoDataset) {
					zl.Info("nothing to train on yet")
					return nil
				}
				return err
			},
		},
		{
			Name: "report",
			Spec: cfg.ReportSchedule,
			Run: func(ctx context.Context) error {
				r, err := a.Reporter()
				if err != nil {
					return err
				}
				return r.Send(ctx)
			},
		},
	}
}
