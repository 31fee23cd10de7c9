package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"drone-telemetry/config"
	"drone-telemetry/mqtt"
	"drone-telemetry/stream"
)

var logger = log.New(os.Stdout, "[Drone-Monitor] ", log.LstdFlags|log.Lshortfile)

func main() {
	flags := config.NewFlagSet("drone-monitor")
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

	if err := run(cfg); err != nil {
		logger.Fatalf("Monitor failed: %v", err)
	}
}

func run(cfg config.Config) error {
	client := stream.NewClient(cfg.Stream, stream.WithDebug(cfg.Debug()))
	defer client.Close()

	updates, unsubscribe := client.Subscribe(64)
	defer unsubscribe()

	if cfg.MQTT.Enabled {
		relayUpdates, unsubscribeRelay := client.Subscribe(256)
		relay := mqtt.NewRelay(cfg.MQTT, relayUpdates)
		if err := relay.Start(); err != nil {
			// Монитор полезен и без брокера
			logger.Printf("MQTT relay disabled: %v", err)
			unsubscribeRelay()
		} else {
			defer relay.Stop()
			defer unsubscribeRelay()
		}
	}

	mon := newMonitor(client, logger)

	var status <-chan time.Time
	if cfg.Monitor.StatusInterval > 0 {
		ticker := time.NewTicker(cfg.Monitor.StatusInterval)
		defer ticker.Stop()
		status = ticker.C
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Printf("Connecting to %s", cfg.Stream.URL)
	client.Connect()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("stream client closed")
			}
			mon.handle(update)
		case <-status:
			logger.Println(mon.status())
		case sig := <-sigChan:
			logger.Printf("Received %s, shutting down...", sig)
			client.Disconnect()
			return nil
		}
	}
}
