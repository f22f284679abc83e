// routes.go - Route registration helpers
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiss-anexos/intake/internal/config"
	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/intake"
	"github.com/tiss-anexos/intake/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store     storage.Store
	Selection *intake.Selection
	Runs      RunManager
	Log       *events.Log
	Version   string
	Backend   string
	// RunContext bounds every run started over HTTP; it outlives requests.
	RunContext context.Context
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Files  FileHandler
	Runs   RunHandler
	Log    LogHandler

	gatherer prometheus.Gatherer
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	ctx := deps.RunContext
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handlers{
		Health:   NewHealthHandler(deps.Version, deps.Backend, deps.Runs),
		Files:    NewFileHandler(deps.Store, deps.Selection, deps.Runs, deps.Log),
		Runs:     NewRunHandler(ctx, deps.Runs),
		Log:      NewLogHandler(deps.Log),
		gatherer: deps.Gatherer,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Selection
	apiGroup.POST("/files", handlers.Files.HandleAddFiles)
	apiGroup.GET("/files", handlers.Files.HandleListFiles)
	apiGroup.DELETE("/files", handlers.Files.HandleClearFiles)
	apiGroup.GET("/files/readiness", handlers.Files.HandleReadiness)
	apiGroup.DELETE("/files/:id", handlers.Files.HandleRemoveFile)

	// Runs
	apiGroup.POST("/runs", handlers.Runs.HandleStartRun)
	apiGroup.GET("/runs/active", handlers.Runs.HandleActiveRun)
	apiGroup.GET("/runs/:id", handlers.Runs.HandleGetRun)
	apiGroup.GET("/runs/:id/progress", handlers.Runs.HandleRunProgressStream)
	apiGroup.GET("/runs/:id/results", handlers.Runs.HandleRunResults)
	apiGroup.GET("/runs/:id/results/msgpack", handlers.Runs.HandleRunResultsMsgpack)
	apiGroup.GET("/runs/:id/report", handlers.Runs.HandleRunReport)

	// Event log
	apiGroup.GET("/log", handlers.Log.HandleGetLog)
	apiGroup.POST("/log/clear", handlers.Log.HandleClearLog)
	apiGroup.GET("/ws/log", handlers.Log.HandleLogStream)

	if handlers.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(handlers.gatherer, promhttp.HandlerOpts{})))
	}
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig) {
	e.HTTPErrorHandler = ErrorHandler
	SetErrorDetails(cfg.Advanced.ShowErrorDetails)

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/progress") ||
				strings.HasSuffix(path, "/readiness") ||
				path == "/api/log" ||
				path == "/api/health" ||
				path == "/metrics"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
