package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/reborn-market/reborn-api/internal/broadcast"
	"github.com/reborn-market/reborn-api/internal/config"
	"github.com/reborn-market/reborn-api/internal/db"
	"github.com/reborn-market/reborn-api/internal/middleware"
	"github.com/reborn-market/reborn-api/internal/services/auth"
	"github.com/reborn-market/reborn-api/internal/services/handoff"
	"github.com/reborn-market/reborn-api/internal/services/listing"
	"github.com/reborn-market/reborn-api/internal/services/notification"
	"github.com/reborn-market/reborn-api/internal/services/offer"
	"github.com/reborn-market/reborn-api/internal/token"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	st := db.NewStore(db.Pool)

	// Доставка событий: в одном процессе или через Postgres LISTEN/NOTIFY
	hub := broadcast.NewHub()
	var publisher broadcast.Publisher = hub
	if cfg.Stream.Mode == config.BroadcastPostgres {
		source, err := broadcast.Listen(ctx, cfg.DatabaseURL, cfg.Stream.Channel)
		if err != nil {
			log.Fatalf("❌ Ошибка подписки на канал уведомлений: %v", err)
		}
		go hub.Run(ctx, source)
		publisher = broadcast.NewPGPublisher(db.Pool, cfg.Stream.Channel)
	}
	log.Printf("Режим доставки событий: %s", cfg.Stream.Mode)

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Reborn Market API",
		ErrorHandler: middleware.ErrorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendOrigin},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowCredentials: true,
	}))

	// Создаём сервисы
	notifier := notification.NewDispatcher(st, publisher)
	authService := auth.NewAuthService(cfg, st)
	offerService := offer.NewOfferService(st, token.NewGenerator(), notifier)
	handoffService := handoff.NewHandoffService(cfg, st, offerService)
	notificationService := notification.NewNotificationService(st, hub, cfg.Stream.Heartbeat)
	listingService := listing.NewListingService(st, notifier)

	// Настраиваем middleware для аутентификации
	authMiddleware := middleware.AuthMiddleware(authService)
	optionalAuth := middleware.OptionalAuth(authService)
	streamAuth := middleware.StreamAuth(authService)

	// Регистрируем маршруты
	authService.SetupRoutes(app)
	offerService.SetupRoutes(app, authMiddleware)
	handoffService.SetupRoutes(app, authMiddleware, optionalAuth)
	notificationService.SetupRoutes(app, authMiddleware, streamAuth)
	listingService.SetupRoutes(app, authMiddleware)

	go func() {
		<-ctx.Done()
		log.Println("Остановка сервера...")
		// Открытые потоки закрываются до Shutdown
		hub.Shutdown()
		if err := app.Shutdown(); err != nil {
			log.Printf("❌ Ошибка при остановке сервера: %v", err)
		}
	}()

	// Запускаем сервер
	log.Printf("✅ Reborn Market API запущен на порту %s (%s)", cfg.Port, cfg.AppEnv)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("❌ Ошибка сервера: %v", err)
	}
}
