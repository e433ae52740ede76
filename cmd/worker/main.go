package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"paperquery/internal/activities"
	"paperquery/internal/config"
	"paperquery/internal/storage"
	"paperquery/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal(err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal(err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx, cfg.EmbedDim); err != nil {
		logger.Fatal(err)
	}

	a, err := activities.New(cfg, db)
	if err != nil {
		logger.Fatal(err)
	}
	activities.Register(w, a)

	logger.WithFields(logrus.Fields{
		"temporal":        cfg.TemporalAddress,
		"task_queue":      cfg.TemporalTaskQueue,
		"llm_providers":   cfg.LLMProviders,
		"embed_providers": cfg.EmbedProviders,
	}).Info("paperquery worker starting")
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal(err)
	}
}
