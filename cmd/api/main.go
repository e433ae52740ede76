package main

import (
	"net/http"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"paperquery/internal/api"
	"paperquery/internal/config"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	s := api.NewServer(cfg, logger)
	logger.WithFields(logrus.Fields{
		"addr":            cfg.APIAddr,
		"llm_providers":   cfg.LLMProviders,
		"embed_providers": cfg.EmbedProviders,
	}).Info("paperquery api listening")
	if err := http.ListenAndServe(cfg.APIAddr, s.Routes()); err != nil {
		logger.Fatal(err)
	}
}
