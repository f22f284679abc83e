// handlers_log.go - Event log handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/models"
)

// LogHandlerImpl implements the LogHandler interface
type LogHandlerImpl struct {
	log      *events.Log
	upgrader websocket.Upgrader
}

// NewLogHandler creates a new log handler
func NewLogHandler(log *events.Log) LogHandler {
	return &LogHandlerImpl{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Local tool; the UI may be served from a dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

type logResponse struct {
	Events  []models.Event `json:"events"`
	LastSeq int64          `json:"lastSeq"`
}

// HandleGetLog returns events newer than ?since=N
func (h *LogHandlerImpl) HandleGetLog(c echo.Context) error {
	since, err := parseSince(c)
	if err != nil {
		return err
	}

	evs := h.log.Since(since)
	last := since
	if len(evs) > 0 {
		last = evs[len(evs)-1].Seq
	}
	return c.JSON(http.StatusOK, logResponse{Events: evs, LastSeq: last})
}

// HandleClearLog empties the console
func (h *LogHandlerImpl) HandleClearLog(c echo.Context) error {
	h.log.Clear()
	return c.NoContent(http.StatusNoContent)
}

func parseSince(c echo.Context) (int64, error) {
	raw := c.QueryParam("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, NewValidationError("since")
	}
	return since, nil
}
