package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	e := echo.New()
	require.NoError(t, RegisterStaticRoutes(e))
	return e
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHasEmbeddedFiles(t *testing.T) {
	assert.True(t, HasEmbeddedFiles())
}

func TestStaticRoutes(t *testing.T) {
	e := newServer(t)

	tests := []struct {
		name     string
		target   string
		status   int
		contains string
	}{
		{"root serves console", "/", http.StatusOK, "TISS Attachment Intake"},
		{"script", "/app.js", http.StatusOK, "/api/files"},
		{"script polls a dropped progress stream", "/app.js", http.StatusOK, "source.onerror = () => {\n    source.close();\n    pollRun(id);"},
		{"stylesheet", "/style.css", http.StatusOK, ".log-error"},
		{"unknown route falls back to index", "/history", http.StatusOK, "<!DOCTYPE html>"},
		{"unknown api path", "/api/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(e, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}
