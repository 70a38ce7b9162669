package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/feedbackloop/engage-sdk/internal/config"
	"github.com/feedbackloop/engage-sdk/internal/mockapi"
	"github.com/feedbackloop/engage-sdk/internal/targeting"
	"github.com/feedbackloop/engage-sdk/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	var manifest *targeting.Manifest
	if cfg.MockManifestPath != "" {
		loaded, err := targeting.LoadManifestFile(cfg.MockManifestPath)
		if err != nil {
			logger.Error("failed to load manifest file", "path", cfg.MockManifestPath, "error", err)
			os.Exit(1)
		}
		manifest = loaded
		logger.Info("serving manifest from file", "path", cfg.MockManifestPath, "interactions", len(manifest.Interactions))
	} else {
		logger.Info("no manifest file configured, serving an empty manifest")
	}

	handler := mockapi.NewHandler(mockapi.Config{
		Logger:       logger,
		TokenSecret:  cfg.MockTokenSecret,
		AppKey:       cfg.AppKey,
		AppSignature: cfg.AppSignature,
		Manifest:     manifest,
		ManifestTTL:  cfg.MockManifestTTL,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.MockServerPort,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("mock engagement API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
