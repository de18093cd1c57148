package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"
	"github.com/omochice/cipherchat/internal/api"
	"github.com/omochice/cipherchat/internal/auth"
	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/internal/chat"
	"github.com/omochice/cipherchat/internal/cipher"
	"github.com/omochice/cipherchat/internal/config"
	"github.com/omochice/cipherchat/internal/history"
	"github.com/omochice/cipherchat/internal/messages"
	"github.com/omochice/cipherchat/internal/transport/gobwas"
	"github.com/omochice/cipherchat/internal/transport/ws"
	"github.com/omochice/cipherchat/pkg/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	identity := cfg.Identity()

	c, err := cipher.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("cipher: %w", err)
	}
	if c.UsesFallback() {
		log.Warn("CHAT_ENCRYPTION_KEY is not set, using the shared fallback key")
	}

	codec, err := protocol.NewCodec(cfg.Codec, protocol.Inbound)
	if err != nil {
		return err
	}

	var dialer channel.Dialer
	switch cfg.Transport {
	case config.TransportGobwas:
		dialer = &gobwas.Dialer{URL: cfg.ServerURL, Codec: codec}
	default:
		dialer = &ws.Dialer{URL: cfg.ServerURL, Codec: codec}
	}

	scheme := auth.New(cfg.AuthSecret, cfg.AuthTokenTTL)
	session := channel.New(dialer, codec,
		channel.WithLogger(log),
		channel.WithCredentials(scheme),
		channel.WithReconnect(cfg.Reconnect()),
	)

	storeOpts := []messages.Option{messages.WithLogger(log)}
	ctrlOpts := []chat.Option{chat.WithLogger(log)}
	if cfg.HistoryPath != "" {
		cache, err := history.Open(cfg.HistoryPath, log)
		if err != nil {
			return fmt.Errorf("history opening failed: %w", err)
		}
		defer func() {
			log.Info("Closing history cache...")
			_ = cache.Close()
		}()
		storeOpts = append(storeOpts, messages.WithRecorder(cache))
		ctrlOpts = append(ctrlOpts, chat.WithHistory(cache))
	}
	store := messages.New(c, storeOpts...)

	backend := api.New(cfg.APIURL, api.WithTokenSource(func() (string, error) {
		return scheme.Token(identity)
	}))

	ctrl := chat.New(chat.Config{
		TypingTimeout:  cfg.TypingTimeout,
		PresenceWindow: cfg.PresenceWindow,
		HistoryLimit:   cfg.HistoryLimit,
	}, session, backend, store, ctrlOpts...)
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx, identity); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	log.Info("connected", "server", cfg.ServerURL, "user", identity.ID, "codec", cfg.Codec, "transport", cfg.Transport)

	term := newTerminal(ctrl, os.Stdout)
	defer term.detach()

	errChan := make(chan error, 1)
	go func() { errChan <- term.run(ctx, os.Stdin) }()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-errChan:
		if err != nil {
			return err
		}
	}
	return nil
}
