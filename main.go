package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"barflow/config"
	"barflow/internal/app"
	"barflow/internal/scheduler"
	"barflow/logger"
)

func main() {
	log := logger.New()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	daemon := flag.Bool("daemon", false, "Stay running and trigger the job on schedule.cron")
	flag.Parse()

	path := config.ResolvePath(*configPath, "config/config.yml")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service": cfg.Job.Name,
		"version": cfg.Job.Version,
		"env":     env,
		"config":  path,
	}).Info("starting barflow")
	if config.IsProductionLike(env) && cfg.Provider.Kind == "synthetic" {
		log.Warn("synthetic provider selected in a production environment")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize")
		os.Exit(1)
	}
	defer a.Close()

	if !*daemon {
		report, err := a.Run(ctx, false)
		if err != nil {
			log.WithError(err).Error("run aborted")
			a.Close()
			os.Exit(1)
		}
		log.WithFields(logger.Fields{"status_code": report.StatusCode}).Info(report.Body)
		return
	}

	go func() {
		if err := a.Metrics.Serve(ctx, cfg.Schedule.MetricsAddr, log); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	sched := scheduler.New(ctx, log)
	var running sync.Mutex
	task := func(ctx context.Context) {
		if !running.TryLock() {
			log.Warn("previous run still in progress, skipping")
			return
		}
		defer running.Unlock()
		if _, err := a.Run(ctx, false); err != nil {
			log.WithError(err).Warn("scheduled run aborted")
		}
	}
	if err := sched.Register(cfg.Schedule.Cron, task); err != nil {
		log.WithError(err).Error("failed to register schedule")
		os.Exit(1)
	}
	sched.Start()

	if cfg.Schedule.RunOnStart {
		log.Info("run_on_start enabled, executing job now")
		sched.RunNow(task)
	}

	log.WithFields(logger.Fields{"next_run": sched.Next().Format(time.RFC3339)}).Info("barflow is running, press Ctrl+C to stop")
	<-ctx.Done()

	log.Info("shutdown signal received, stopping")
	sched.Stop()
	log.Info("barflow stopped")
}
