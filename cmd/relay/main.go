package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/omochice/cipherchat/internal/auth"
	"github.com/omochice/cipherchat/internal/config"
	"github.com/omochice/cipherchat/internal/relay"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadRelay()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	hub := relay.NewHub(
		relay.WithLogger(log),
		relay.WithOpenRooms(strings.Split(cfg.SeedRooms, ",")...),
	)
	verifier := auth.New(cfg.AuthSecret, 0)
	srv := relay.New(cfg.Addr, hub, verifier, log)
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting relay", "address", srv.Addr(), "jwt", cfg.AuthSecret != "", "at", time.Now().UTC())
		errChan <- srv.Serve()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("relay error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Stop(shutdownCtx)
	log.Info("Relay stopped cleanly")
	return nil
}
