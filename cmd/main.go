package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/pelusa-v/pelusa-dm/internal/blob"
	"github.com/pelusa-v/pelusa-dm/internal/chat"
	"github.com/pelusa-v/pelusa-dm/internal/config"
	"github.com/pelusa-v/pelusa-dm/internal/handlers"
	"github.com/pelusa-v/pelusa-dm/internal/store"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	db, err := store.Open(cfg.BadgerFilepath, cfg.BadgerInMemory)
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blobs, err := blob.NewDiskStore(cfg.UploadDir, cfg.UploadPrefix, log)
	if err != nil {
		return err
	}
	resolver, err := chat.NewAttachmentResolver(cfg.UploadPrefix, cfg.PublicBaseURL)
	if err != nil {
		return err
	}

	presence := chat.NewPresence(log)
	presence.Observe(chat.PresenceObserverFunc(chat.BroadcastUserList))
	messages := store.NewMessageStore(db, log)
	router := chat.NewRouter(log, messages, presence, resolver,
		chat.WithClientTimestamps(cfg.TrustClientTimestamp))
	history := chat.NewHistory(messages, cfg.HistoryLimit)

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.MaxUploadBytes,
		ErrorHandler:          handlers.ErrorHandler(log),
		DisableStartupMessage: true,
	})
	app.Static(resolver.Prefix(), blobs.Dir())
	handlers.NewChatHandlers(log, router, presence, history, blobs, cfg.SendBufferSize).Routes(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting server", "address", cfg.Address())
		return app.Listen(cfg.Address())
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		return app.ShutdownWithTimeout(cfg.ShutdownTimeout)
	})
	if err = g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}
