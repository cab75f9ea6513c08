package bootstrap

import (
	"mailsync/adapter/in/http"
	"mailsync/config"
	"mailsync/infra/middleware"
	"mailsync/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewListener builds the Change Listener (C5): the HTTP surface providers
// push webhooks to, plus the operator-facing manual sync controls.
func NewListener(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "mailsync",
	})

	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not configured, every webhook delivery will be rejected (fail closed)")
	}
	if cfg.OperatorJWTSecret == "" {
		logger.Warn("OPERATOR_JWT_SECRET not configured, /sync/trigger and /sync/status are unauthenticated")
	}

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: 10 * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := ""
	for i, o := range cfg.AllowedOrigins {
		if i > 0 {
			allowOrigins += ","
		}
		allowOrigins += o
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,Signature,X-Delivery-Id,X-Request-ID",
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandlerWithDeps(deps.DBPool, deps.Redis, deps.Engine)
	healthHandler.Register(app)

	// Webhook ingress (no bearer auth - providers authenticate via the HMAC
	// body signature instead, verified inside the handler itself)
	webhookHandler := http.NewWebhookHandler(deps.Engine, deps.Locker, cfg.WebhookSecret)
	webhookHandler.Register(app)

	// Operator-facing manual sync controls, guarded by a bearer JWT
	operator := app.Group("/", middleware.OperatorAuth(cfg.OperatorJWTSecret))

	syncHandler := http.NewSyncHandler(deps.Engine, deps.Store)
	syncHandler.Register(operator)

	webhookHandler.RegisterManagement(operator)

	logger.Info("Change Listener initialized successfully")

	return app, cleanup, nil
}
