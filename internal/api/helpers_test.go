package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/intake"
	"github.com/tiss-anexos/intake/internal/loader"
	"github.com/tiss-anexos/intake/internal/metrics"
	"github.com/tiss-anexos/intake/internal/run"
	"github.com/tiss-anexos/intake/internal/submit"
	"github.com/tiss-anexos/intake/internal/testutil"
)

type testStack struct {
	e        *echo.Echo
	store    *testutil.MockStorage
	backend  *testutil.Backend
	manager  *run.Manager
	log      *events.Log
	registry *prometheus.Registry
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	s := &testStack{
		store:    testutil.NewMockStorage(),
		backend:  testutil.NewBackend(t),
		log:      events.NewLog(0),
		registry: prometheus.NewRegistry(),
	}

	selection := intake.NewSelection(s.log)
	s.manager = run.NewManager(run.Options{
		Selection: selection,
		Source:    loader.StoreSource{Store: s.store},
		Log:       s.log,
		Backend:   submit.NewClient(s.backend.SubmitURL(), s.backend.LegacyURL(), 5*time.Second),
		Metrics:   metrics.MustNew(s.registry),
		Settings: run.Settings{
			Submit: submit.Config{RetryDelay: time.Millisecond},
		},
	})

	s.e = echo.New()
	s.e.HTTPErrorHandler = ErrorHandler
	RegisterRoutes(s.e, NewHandlers(&Dependencies{
		Store:      s.store,
		Selection:  selection,
		Runs:       s.manager,
		Log:        s.log,
		Version:    "test",
		Backend:    s.backend.URL,
		RunContext: context.Background(),
		Gatherer:   s.registry,
	}))

	t.Cleanup(s.manager.Wait)
	return s
}

func (s *testStack) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type upload struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, target string, files ...upload) *http.Request {
	t.Helper()

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

// selectFiles uploads files and fails the test unless all were accepted.
func (s *testStack) selectFiles(t *testing.T, files ...upload) {
	t.Helper()
	rec := s.do(multipartRequest(t, "/api/files", files...))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotContains(t, rec.Body.String(), `"reason"`)
}

// busyRuns reports a run in progress and nothing else.
type busyRuns struct{ RunManager }

func (busyRuns) Busy() bool { return true }

func (busyRuns) WhileIdle(func() error) error { return run.ErrRunInProgress }
