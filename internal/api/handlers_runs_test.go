package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tiss-anexos/intake/internal/models"
)

func startRun(t *testing.T, s *testStack, body string) *models.Run {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := s.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var r models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return &r
}

func TestHandleStartRun_NotReady(t *testing.T) {
	s := newTestStack(t)
	s.selectFiles(t, upload{"lote.xml", "<guia/>"})

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	assert.Contains(t, rec.Body.String(), "Add at least 1 PDF file")
}

func TestHandleStartRun_InvalidMode(t *testing.T) {
	s := newTestStack(t)
	s.selectFiles(t, upload{"lote.xml", "<guia/>"}, upload{"a.pdf", "%PDF"})

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"mode":"fast"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation failed for field: mode")
}

func TestHandleRun_Lifecycle(t *testing.T) {
	s := newTestStack(t)
	s.selectFiles(t,
		upload{"lote.xml", "<guia/>"},
		upload{"111_GUIA_doc1.pdf", "%PDF-1"},
		upload{"222_GUIA_doc1.pdf", "%PDF-2"},
	)

	r := startRun(t, s, "")
	assert.Equal(t, "batch", r.Mode)
	s.manager.Wait()

	// Snapshot
	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+r.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.RunStatusComplete, got.Status)
	assert.Equal(t, models.RunSummary{TotalItems: 2, SuccessCount: 2}, got.Summary)

	// JSON and msgpack results agree
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+r.ID+"/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var fromJSON runResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fromJSON))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+r.ID+"/results/msgpack", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
	var fromMsgpack runResults
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &fromMsgpack))

	assert.Equal(t, fromJSON.Summary, fromMsgpack.Summary)
	require.Len(t, fromMsgpack.Results, 2)
	assert.Equal(t, fromJSON.Results, fromMsgpack.Results)
	assert.Equal(t, "111", fromMsgpack.Results[0].Patient.GuiaPrestador)

	// Text report
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+r.ID+"/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Body.String(), "Total: 2 | Successes: 2 | Errors: 0")
	assert.Contains(t, rec.Body.String(), "Guia 111")

	// JSON report
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+r.ID+"/report?format=json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"guiaPrestador":"222"`)

	// No run left active
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/runs/active", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Metrics were recorded
	rec = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `anexos_submit_batches_total{state="succeeded"} 1`)
}

func TestHandleStartRun_ConflictWhileRunning(t *testing.T) {
	s := newTestStack(t)
	s.backend.Gate = make(chan struct{})
	s.selectFiles(t, upload{"lote.xml", "<guia/>"}, upload{"a.pdf", "%PDF"})

	first := startRun(t, s, `{"mode":"batch"}`)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONFLICT")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/runs/active", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), first.ID)

	// The selection is frozen while the run executes.
	rec = s.do(httptest.NewRequest(http.MethodDelete, "/api/files", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(s.backend.Gate)
	s.manager.Wait()
}

func TestHandleRunProgressStream(t *testing.T) {
	s := newTestStack(t)
	s.selectFiles(t, upload{"lote.xml", "<guia/>"}, upload{"a.pdf", "%PDF"})

	r := startRun(t, s, "")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+r.ID+"/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var last runProgress
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
	}
	assert.Equal(t, models.RunStatusComplete, last.Status)
	assert.Equal(t, 100.0, last.Progress)
	assert.Equal(t, 1, last.Summary.TotalItems)
}

func TestHandleRunProgressStream_OutlivesWriteTimeout(t *testing.T) {
	s := newTestStack(t)
	gate := make(chan struct{})
	s.backend.Gate = gate
	s.selectFiles(t, upload{"lote.xml", "<guia/>"}, upload{"a.pdf", "%PDF"})

	r := startRun(t, s, "")

	srv := httptest.NewUnstartedServer(s.e)
	srv.Config.WriteTimeout = 200 * time.Millisecond
	srv.Start()
	defer srv.Close()

	// The run finishes well after the server's write deadline
	go func() {
		time.Sleep(700 * time.Millisecond)
		close(gate)
	}()

	resp, err := http.Get(srv.URL + "/api/runs/" + r.ID + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var last runProgress
	frames := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
		frames++
	}

	assert.Equal(t, models.RunStatusComplete, last.Status)
	assert.Greater(t, frames, 2)
}

func TestHandleRun_NotFound(t *testing.T) {
	s := newTestStack(t)

	for _, path := range []string{
		"/api/runs/missing",
		"/api/runs/missing/results",
		"/api/runs/missing/results/msgpack",
		"/api/runs/missing/report",
	} {
		rec := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "NOT_FOUND", path)
	}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/runs/missing/progress", nil))
	assert.Contains(t, rec.Body.String(), `"error":"run not found"`)
}

func TestHandleRun_Legacy(t *testing.T) {
	s := newTestStack(t)
	s.selectFiles(t, upload{"lote.xml", "<guia/>"}, upload{"333.pdf", "%PDF"})

	r := startRun(t, s, `{"mode":"legacy"}`)
	s.manager.Wait()

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+r.ID+"/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res runResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.RunStatusComplete, res.Status)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "333", res.Results[0].Patient.GuiaPrestador)
	assert.Equal(t, [][]string{{"lote.xml", "333.pdf"}}, s.backend.LegacyUploads())
}
