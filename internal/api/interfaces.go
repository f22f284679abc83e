// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/report"
)

// FileHandler handles the run-scoped file selection
type FileHandler interface {
	HandleAddFiles(c echo.Context) error
	HandleListFiles(c echo.Context) error
	HandleRemoveFile(c echo.Context) error
	HandleClearFiles(c echo.Context) error
	HandleReadiness(c echo.Context) error
}

// RunHandler handles submission runs
type RunHandler interface {
	HandleStartRun(c echo.Context) error
	HandleActiveRun(c echo.Context) error
	HandleGetRun(c echo.Context) error
	HandleRunProgressStream(c echo.Context) error
	HandleRunResults(c echo.Context) error
	HandleRunResultsMsgpack(c echo.Context) error
	HandleRunReport(c echo.Context) error
}

// LogHandler handles the operator event log
type LogHandler interface {
	HandleGetLog(c echo.Context) error
	HandleClearLog(c echo.Context) error
	HandleLogStream(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// RunManager defines what the handlers need from the run manager
// This allows mocking in tests
type RunManager interface {
	Start(ctx context.Context, mode string) (*models.Run, error)
	GetRun(id string) (*models.Run, bool)
	ActiveRun() (*models.Run, bool)
	Busy() bool
	WhileIdle(fn func() error) error
	Report(id string) (report.Report, error)
}
