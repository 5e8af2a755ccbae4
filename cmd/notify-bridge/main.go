package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/retail-backoffice/inventory-audit/internal/db"
	"github.com/retail-backoffice/inventory-audit/internal/events"
	"github.com/retail-backoffice/inventory-audit/internal/notify"
	"go.uber.org/zap"
)

// notify-bridge subscribes to audit session events and forwards status
// changes to NOTIFY_WEBHOOK_URL.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is required")
	}
	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	forwarder := notify.NewForwarder(cfg.NotifyWebhookURL, log)

	if err := subscriber.Subscribe(ctx, events.AuditSessionChannel, func(event events.Event) {
		forwarder.Handle(ctx, event)
	}); err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("channel", events.AuditSessionChannel))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
