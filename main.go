package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/duochat/go-duo-chat-server/blob"
	"github.com/duochat/go-duo-chat-server/bus"
	"github.com/duochat/go-duo-chat-server/config"
	"github.com/duochat/go-duo-chat-server/handlers"
	"github.com/duochat/go-duo-chat-server/hub"
	"github.com/duochat/go-duo-chat-server/identity"
	"github.com/duochat/go-duo-chat-server/logger"
	"github.com/duochat/go-duo-chat-server/presence"
	"github.com/duochat/go-duo-chat-server/store"
	"github.com/duochat/go-duo-chat-server/typing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Debug); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// --- Durable message store ---
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Log.Fatal("store_open_failed", zap.Error(err))
	}
	defer st.Close()

	// --- Event bus ---
	b, err := bus.Connect(cfg.NatsURL)
	if err != nil {
		logger.Log.Fatal("bus_connect_failed", zap.Error(err))
	}
	defer b.Close()

	// --- Delivery hub, presence and typing ---
	registry := presence.NewRegistry()
	h := hub.New(registry, b)
	sub, err := b.Subscribe(h.HandleEnvelope)
	if err != nil {
		logger.Log.Fatal("bus_subscribe_failed", zap.Error(err))
	}
	defer sub.Unsubscribe()

	tracker := typing.NewTracker(h, config.TypingIdle, config.TypingSweep)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go tracker.Run(sweepCtx)

	// --- Blob store ---
	blobs, err := blob.NewDiskStore(cfg.UploadDir, "/uploads")
	if err != nil {
		logger.Log.Fatal("blob_store_failed", zap.Error(err))
	}

	// --- Fiber app ---
	app := fiber.New()
	app.Use(fiberlogger.New())

	ids := identity.HeaderProvider{}
	api := handlers.NewAPI(st, h, blobs, ids)
	api.Register(app)

	app.Static("/uploads", cfg.UploadDir)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// --- WebSocket route ---
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		user, err := ids.FromRequest(c)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		c.Locals("user", user)
		return c.Next()
	})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		handlers.HandleWebSocket(conn, h, tracker, st)
	}))

	// --- Start server ---
	go func() {
		logger.Log.Info("server_starting", zap.String("addr", cfg.ServerAddr))
		if err := app.Listen(cfg.ServerAddr); err != nil {
			logger.Log.Fatal("server_failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting_down")
	if err := app.Shutdown(); err != nil {
		logger.Log.Error("fiber_shutdown_error", zap.Error(err))
	}
	logger.Log.Info("server_stopped")
}
