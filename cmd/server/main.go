package main

import (
	"context"

	"toolproxy/internal/config"
	"toolproxy/internal/core"
	logpkg "toolproxy/internal/log"
	"toolproxy/internal/server"
	"toolproxy/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	dotenvErr := godotenv.Load()

	logger := logpkg.CreateLoggerFromEnv()
	defer func() { _ = logger.Close() }()

	if dotenvErr != nil {
		logger.Warn("No .env file found, using system environment variables")
	}
	logger.Info("Logger initialized")

	cfg, err := config.LoadServerConfigFromEnv(logger)
	if err != nil {
		logger.Fatal("Failed to load server configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), core.StorageOpTimeout)
	storageInstance := storage.InitStorage(ctx, storage.Options{
		RedisURL: cfg.RedisURL,
		FilePath: core.StatsFilePath,
		Logger:   logger,
	})
	cancel()
	defer func() { _ = storageInstance.Close() }()

	srv, err := server.NewServer(server.Options{
		Config:  cfg,
		Logger:  logger,
		Storage: storageInstance,
	})
	if err != nil {
		logger.Fatal("Failed to create server: %v", err)
	}
	defer func() { _ = srv.Close() }()

	logger.Info("Proxying %s on %s (mode: %s)", cfg.BaseURL(), cfg.ListenAddr(), cfg.BackendMode)
	if err := srv.Run(); err != nil {
		logger.Fatal("Server error: %v", err)
	}
}
