package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"drone-telemetry/config"
	"drone-telemetry/simulator"
)

var logger = log.New(os.Stdout, "[Telemetry-Source] ", log.LstdFlags|log.Lshortfile)

func main() {
	flags := config.NewFlagSet("telemetry-source")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := simulator.NewServer(cfg.Source, nil)
	if err := server.Run(ctx); err != nil {
		logger.Fatalf("Telemetry source failed: %v", err)
	}
}
