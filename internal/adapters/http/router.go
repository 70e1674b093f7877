package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/melih/lighthouse-ci/internal/logging"
)

// AppConfig configures the fiber application.
type AppConfig struct {
	// ClientID and ClientSecret enable HTTP basic auth on /api when set.
	ClientID     string
	ClientSecret string
}

// NewApp builds the fiber application serving the build API under /api.
func NewApp(cfg AppConfig, handler *BuildHandler, logger *slog.Logger) *fiber.App {
	logger = logging.Ensure(logger).With("component", "http")

	app := fiber.New(fiber.Config{
		AppName:               "lighthouse-ci",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(requestLogger(logger))

	api := app.Group("/api")
	if cfg.ClientID != "" {
		api.Use(basicauth.New(basicauth.Config{
			Users: map[string]string{cfg.ClientID: cfg.ClientSecret},
			Realm: "lighthouse-ci",
		}))
	}
	handler.Register(api)

	return app
}

func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"elapsed", time.Since(start),
			"request_id", c.Locals("requestid"),
		)
		return err
	}
}
