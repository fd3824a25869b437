package bootstrap

import (
	"claims_server/adapter/in/http"
	"claims_server/config"
	"claims_server/infra/middleware"
	"claims_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
)

// NewAPI builds the fiber app serving the intake endpoint and the review
// surface.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "claims-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,

		// go-json is noticeably faster than encoding/json for the fused
		// result payloads
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Attachments arrive base64 encoded inside the intake body
		BodyLimit: 16 * 1024 * 1024,

		StreamRequestBody: true,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Health endpoints, no envelope
	http.NewHealthHandlerWithDeps(deps.DB, deps.Redis, deps.MongoDB).Register(app)

	v1 := app.Group("/v1")
	http.NewIntakeHandler(deps.IntakeService).Register(v1)
	http.NewJobHandler(deps.QueryService, deps.ReviewService).Register(v1)

	return app, cleanup, nil
}
