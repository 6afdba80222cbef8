package main

import (
	"fmt"

	"github.com/mcdev12/auctionhouse/go/internal/config"
)

func loadConfig() (config.Server, error) {
	config.LoadDotEnv()

	cfg, err := config.LoadServer()
	if err != nil {
		return config.Server{}, err
	}
	if err := cfg.Log.Configure(); err != nil {
		return config.Server{}, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}
