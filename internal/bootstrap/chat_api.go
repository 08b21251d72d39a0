package bootstrap

import (
	"context"
	"strings"

	httpin "mailchat_server/adapter/in/http"
	"mailchat_server/config"
	"mailchat_server/infra/database"
	"mailchat_server/infra/middleware"
	"mailchat_server/pkg/httputil"
	"mailchat_server/pkg/logger"
	"mailchat_server/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewAPI(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	sessionLimiter := middleware.NewRateLimiter(cfg.ChatRateLimitRPS, cfg.ChatRateLimitBurst)
	clientLimiter := middleware.NewRateLimiter(cfg.ChatIPRateLimitRPS, cfg.ChatIPRateLimitBurst)
	var perSession, perClient middleware.Limiter = sessionLimiter, clientLimiter
	limit := cfg.ChatRateLimitBurst
	if deps.Redis != nil {
		// replicas share one window per session and per client
		if cfg.ChatRateLimitRPS > 0 {
			window := ratelimit.NewSlidingWindow(deps.Redis, cfg.ChatRateLimitRPS, cfg.ChatRateLimitBurst)
			perSession, limit = window, window.Limit()
		}
		if cfg.ChatIPRateLimitRPS > 0 {
			perClient = ratelimit.NewSlidingWindow(deps.Redis, cfg.ChatIPRateLimitRPS, cfg.ChatIPRateLimitBurst)
		}
	}
	chatLimit := middleware.RateLimitAll(limit,
		middleware.Rule{Limiter: perClient, Key: middleware.Scoped("client", middleware.IPKey)},
		middleware.Rule{Limiter: perSession, Key: middleware.SessionKey},
	)

	app := newFiberApp(cfg)
	registerRoutes(app, deps, chatLimit)

	return app, func() {
		sessionLimiter.Close()
		clientLimiter.Close()
		cleanup()
	}, nil
}

func newFiberApp(cfg *config.Config) *fiber.App {
	bodyLimit := cfg.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 10
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 2~3배 빠른 JSON 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Body 제한 (메모리 보호)
		BodyLimit: bodyLimit * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())       // 1. Panic recovery
	app.Use(middleware.RequestID())     // 2. Request ID
	app.Use(middleware.RequestLogger()) // 3. Request logging
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequireJSON())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := allowOrigins != "" && allowOrigins != "*"
	if allowOrigins == "" {
		allowOrigins = "http://localhost:3000,http://localhost:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	return app
}

func registerRoutes(app *fiber.App, deps *Dependencies, chatLimit fiber.Handler) {
	httpin.NewHealthHandler(deps.Health).Register(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	if deps.Config.IsDevelopment() {
		app.Get("/debug/pools", func(c *fiber.Ctx) error {
			pools := fiber.Map{"http": httputil.GetAllPoolStats()}
			if deps.DB != nil {
				pools["postgres"] = database.GetPoolStats(deps.DB)
			}
			return c.JSON(pools)
		})
	}

	if deps.Gmail != nil {
		httpin.NewOAuthHandler(deps.Gmail, deps.OAuthStates, "").Register(app)
	}

	api := app.Group("/api/v1")
	httpin.NewChatHandler(deps.Chat, chatLimit).Register(api)
	httpin.NewCorpusHandler(
		deps.Corpus,
		deps.Resolver,
		deps.Queue,
		deps.Config.GmailMaxResults,
		deps.Config.SearchLimit,
	).Register(api, middleware.IPAllowlist(deps.Config.OperatorAllowedIPs))
}
