package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/api"
	"github.com/larkbridge/larkbridge-backend/internal/api/handlers"
	"github.com/larkbridge/larkbridge-backend/internal/bus"
	"github.com/larkbridge/larkbridge-backend/internal/chat"
	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/lark"
	"github.com/larkbridge/larkbridge-backend/internal/providers"
	"github.com/larkbridge/larkbridge-backend/internal/providers/factory"
	"github.com/larkbridge/larkbridge-backend/internal/store"
	"github.com/larkbridge/larkbridge-backend/internal/store/badgerstore"
	"github.com/larkbridge/larkbridge-backend/internal/store/postgresstore"
	"github.com/larkbridge/larkbridge-backend/internal/usage"
)

const chatWorkers = 4

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	db, err := badgerstore.Open(cfg.Store.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to open key-value store")
	}
	defer db.Close()

	ttl := time.Duration(cfg.Chat.HistoryTTLHours) * time.Hour
	conversations := badgerstore.NewConversationStore(db, ttl, log)
	events := badgerstore.NewEventStore(db, 24*time.Hour, log)

	usageStore, err := openUsageStore(cfg, db, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open usage store")
	}
	defer usageStore.Close()

	// Configuration errors surface here, before any traffic: the factory
	// reports every missing key at once.
	cache := providers.NewCache()
	streamer, err := cache.GetOrCreate(factory.Fingerprint(cfg.Model.Kind, cfg.Model, nil), func() (providers.Streamer, error) {
		return factory.Create(cfg.Model.Kind, cfg.Model, nil, log)
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create model client")
	}

	messenger := lark.NewClient(cfg.Lark, log)
	ledger := usage.NewLedger(usageStore)
	debug := chat.NewDebugFlag(cfg.Debug, log)
	reducer := chat.NewReducer(cfg.Chat, cfg.Lark.AppID, conversations, ledger, debug, log)
	service := chat.NewService(cfg.Lark, reducer, streamer, messenger, ledger, log)

	b := bus.New(log)
	defer b.Close()
	b.Subscribe(handlers.ChatTopic, chatWorkers, service.HandleEvent)

	app := fiber.New(fiber.Config{
		AppName:      "Larkbridge Backend",
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New())

	webhook := handlers.NewWebhookHandler(cfg.Lark, events, messenger, b, log)
	api.SetupRoutes(app, webhook)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithFields(logrus.Fields{
		"addr":       addr,
		"model_kind": cfg.Model.Kind,
	}).Info("larkbridge backend starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

// openUsageStore selects the usage-store deployment variant: the embedded
// KV store by default, PostgreSQL when configured.
func openUsageStore(cfg *config.Config, db *badger.DB, log *logrus.Logger) (store.UsageStore, error) {
	switch cfg.Store.UsageBackend {
	case "", "badger":
		return badgerstore.NewUsageStore(db, log), nil
	case "postgres":
		if err := postgresstore.RunMigrations(cfg.Store.Database); err != nil {
			return nil, err
		}
		pg, err := postgresstore.Connect(cfg.Store.Database)
		if err != nil {
			return nil, err
		}
		return postgresstore.NewUsageStore(pg, log), nil
	default:
		return nil, fmt.Errorf("unknown usage store backend: %s", cfg.Store.UsageBackend)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
