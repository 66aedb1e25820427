package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liqwatch/config"
	"liqwatch/internal/dedupe"
	"liqwatch/internal/metrics"
	"liqwatch/internal/notifier"
	"liqwatch/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, fromFile, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Liqwatch.Name,
		"version":     cfg.Liqwatch.Version,
		"environment": config.AppEnvironment(),
		"config_file": fromFile,
	}).Info("starting liqwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)
		defer metrics.StopCloudWatch()
	}

	var prom *metrics.Prometheus
	if cfg.Metrics.Prometheus {
		prom = metrics.NewPrometheus()
		defer prom.Close()
	}

	store, err := dedupe.New(cfg.Dedupe)
	if err != nil {
		log.WithError(err).Error("failed to open dedupe store")
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close dedupe store")
		}
	}()

	tg, err := notifier.NewTelegram(cfg.Telegram)
	if err != nil {
		log.WithError(err).Error("failed to create telegram notifier")
		os.Exit(1)
	}

	a := newApp(cfg, store, tg, prom)
	a.start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	cancel()

	if a.wait(shutdownTimeout) {
		log.Info("liqwatch stopped gracefully")
	} else {
		log.WithFields(logger.Fields{"timeout": shutdownTimeout.String()}).Warn("shutdown timed out, exiting")
	}
}
