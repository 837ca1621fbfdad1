package main

import (
	"log"

	"github.com/shestoi/mimo-inventory/internal/app"
	"github.com/shestoi/mimo-inventory/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	a, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("failed to build inventory service: %v", err)
	}

	if err := a.Run(); err != nil {
		log.Fatalf("inventory service failed: %v", err)
	}
}
