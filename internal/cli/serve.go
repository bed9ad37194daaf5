package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/Ananth-NQI/hotelchat-backend/database"
	"github.com/Ananth-NQI/hotelchat-backend/internal/config"
	"github.com/Ananth-NQI/hotelchat-backend/internal/handlers"
	"github.com/Ananth-NQI/hotelchat-backend/internal/jobs"
	"github.com/Ananth-NQI/hotelchat-backend/internal/middleware"
	"github.com/Ananth-NQI/hotelchat-backend/internal/realtime"
	"github.com/Ananth-NQI/hotelchat-backend/internal/routes"
	"github.com/Ananth-NQI/hotelchat-backend/internal/services"
	"github.com/Ananth-NQI/hotelchat-backend/internal/storage"
	"github.com/Ananth-NQI/hotelchat-backend/internal/transport"
	"github.com/Ananth-NQI/hotelchat-backend/internal/utils"
)

const shutdownTimeout = 20 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime channel and tenant sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// server is the fully wired process
type server struct {
	app      *fiber.App
	sessions *services.SessionManager
	job      *jobs.SessionJob
	db       *gorm.DB
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := buildServer(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.job.Start(ctx)

	listenErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("environment", cfg.Environment).
			Str("storage", storageType(cfg)).
			Str("transport", cfg.Transport).
			Int("tenants", len(cfg.Tenants)).
			Msg("HotelChat Backend starting")
		listenErr <- srv.app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-listenErr:
		srv.shutdown(log)
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Gracefully shutting down...")
	srv.shutdown(log)
	return nil
}

func (s *server) shutdown(log zerolog.Logger) {
	s.job.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.sessions.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Sessions did not stop in time")
	}
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			log.Warn().Err(err).Msg("Closing database failed")
		}
	}
}

func buildServer(cfg *config.Config, log zerolog.Logger) (*server, error) {
	store, db, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log)
	normalizers := func(hotelID string) utils.PhoneNormalizer {
		return utils.NewPhoneNormalizer(cfg.CountryCode(hotelID))
	}

	contacts := services.NewContactResolver(store, log)
	chats := services.NewChatAggregator(store)
	messages := services.NewMessageStore(store)
	inbound := services.NewInboundPipeline(contacts, chats, messages, hub, normalizers, log)

	var (
		dialer transport.Dialer
		twilio *transport.TwilioDialer
	)
	switch cfg.Transport {
	case config.TransportTwilio:
		twilio, err = transport.NewTwilioDialer(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppFrom, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Twilio transport: %w", err)
		}
		dialer = twilio
	default:
		if err := os.MkdirAll(cfg.TokensDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create tokens dir: %w", err)
		}
		dialer = transport.NewWhatsmeowDialer(cfg.TokensDir, log)
	}

	sessions := services.NewSessionManager(store, dialer, services.NewSessionRegistry(), hub, inbound,
		services.SessionConfig{QRMaxAttempts: cfg.QRMaxAttempts, QRTimeout: cfg.QRTimeout}, log)
	outbound := services.NewOutboundPipeline(sessions, contacts, chats, messages, hub, normalizers, log)

	var authorize realtime.Authorizer
	if cfg.JWTSecret != "" {
		authorize = middleware.TokenAuthorizer(cfg.JWTSecret)
	}

	h := routes.Handlers{
		Health:   handlers.NewHealthHandler(version),
		Sessions: handlers.NewSessionHandler(sessions, log),
		Messages: handlers.NewMessageHandler(outbound, log),
		Chats:    handlers.NewChatHandler(chats, messages),
		Realtime: handlers.NewRealtimeHandler(hub, authorize),
	}
	if twilio != nil {
		h.WhatsApp = handlers.NewWhatsAppHandler(twilio, log)
	}

	app := newApp(cfg)
	routes.SetupRoutes(app, h, routes.Options{
		JWTSecret:                cfg.JWTSecret,
		TwilioAuthToken:          cfg.TwilioAuthToken,
		DisableWebhookValidation: cfg.DisableWebhookValidation,
	}, log)

	return &server{
		app:      app,
		sessions: sessions,
		job:      jobs.NewSessionJob(store, sessions, cfg.Tenants, cfg.StaleSessionInterval, log),
		db:       db,
	}, nil
}

func openStore(cfg *config.Config, log zerolog.Logger) (storage.Store, *gorm.DB, error) {
	if cfg.UseMemoryStore {
		log.Warn().Msg("Using in-memory storage (not for production!)")
		return storage.NewMemoryStore(), nil, nil
	}

	db, err := database.Connect(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Msg("Running database migrations...")
	if err := storage.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info().Msg("Database migrations completed")
	return storage.NewDatabaseStore(db), db, nil
}

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "HotelChat Backend v" + version,
		DisableStartupMessage: cfg.IsProduction(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	return app
}

func storageType(cfg *config.Config) string {
	if cfg.UseMemoryStore {
		return "In-Memory (Testing)"
	}
	return cfg.DBDriver
}
