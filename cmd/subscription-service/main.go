package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dhoini/subscription-service/internal/app"
	"github.com/Dhoini/subscription-service/internal/config"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	configPath := flag.String("config", ".", "directory containing config.yml")
	flag.Parse()

	cfg, err := config.LoadConfig(*envPath, *configPath)
	if err != nil {
		logger.New(logger.INFO).Fatalw("Failed to load configuration", "error", err)
	}

	log := initLogger(cfg)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("Invalid configuration", "error", err)
	}
	log.Infow("Subscription service starting up...", "env", cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		log.Errorw("Server stopped with error", "error", err)
		application.Close()
		os.Exit(1)
	}

	log.Infow("Cleanup finished. Goodbye!")
}

func initLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.App.LogLevel)
	if cfg.IsProduction() {
		return logger.New(level)
	}
	return logger.NewDevelopment(level)
}
