package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiss-anexos/intake/internal/intake"
	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/testutil"
)

func TestHandleAddFiles(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(multipartRequest(t, "/api/files",
		upload{"lote.xml", "<guia/>"},
		upload{"123_GUIA_doc1.pdf", "%PDF-1"},
		upload{"notes.txt", "hello"},
	))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp addFilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Accepted, 2)
	assert.Equal(t, models.FileKindXML, resp.Accepted[0].Kind)
	assert.Equal(t, models.FileKindPDF, resp.Accepted[1].Kind)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, intake.Rejection{Name: "notes.txt", Reason: intake.ReasonInvalidFormat}, resp.Rejected[0])
	assert.True(t, resp.Readiness.Ready)
	assert.Equal(t, "Process 1 XML + 1 PDF", resp.Readiness.Message)

	// Only accepted files reach the store.
	assert.Equal(t, 2, s.store.Count())
	data, ok := s.store.Data(resp.Accepted[0].ID)
	require.True(t, ok)
	assert.Equal(t, "<guia/>", string(data))
}

func TestHandleAddFiles_Duplicate(t *testing.T) {
	s := newTestStack(t)
	s.selectFiles(t, upload{"a.pdf", "same"})

	rec := s.do(multipartRequest(t, "/api/files", upload{"a.pdf", "same"}, upload{"a.pdf", "different"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp addFilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, intake.ReasonDuplicate, resp.Rejected[0].Reason)
	require.Len(t, resp.Accepted, 1)
	assert.Equal(t, int64(len("different")), resp.Accepted[0].Size)
}

func TestHandleAddFiles_StoreFailure(t *testing.T) {
	s := newTestStack(t)
	s.store.FailSave["b.pdf"] = errors.New("disk full")

	rec := s.do(multipartRequest(t, "/api/files", upload{"b.pdf", "x"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp addFilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, intake.ReasonStoreFailed, resp.Rejected[0].Reason)
	assert.Equal(t, "disk full", resp.Rejected[0].Detail)
	assert.Empty(t, s.manager.Selection().Files())
}

func TestHandleAddFiles_BadRequests(t *testing.T) {
	s := newTestStack(t)

	tests := []struct {
		name     string
		req      *http.Request
		wantCode string
	}{
		{
			name:     "not multipart",
			req:      httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader(`{}`)),
			wantCode: "BAD_REQUEST",
		},
		{
			name:     "no files",
			req:      multipartRequest(t, "/api/files"),
			wantCode: "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantCode)
		})
	}
}

func TestHandleListAndReadiness(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/files", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"files":[]`)
	assert.Contains(t, rec.Body.String(), "Select the XML and PDF files to process")

	s.selectFiles(t, upload{"lote.xml", "<guia/>"})

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/files/readiness", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var r intake.Readiness
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.False(t, r.Ready)
	assert.Equal(t, "Add at least 1 PDF file", r.Message)
}

func TestHandleRemoveFile(t *testing.T) {
	s := newTestStack(t)
	s.selectFiles(t, upload{"lote.xml", "<guia/>"}, upload{"a.pdf", "%PDF"})

	id := s.manager.Selection().PDF()[0].ID

	rec := s.do(httptest.NewRequest(http.MethodDelete, "/api/files/"+id, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, s.manager.Selection().Files(), 1)
	assert.Equal(t, 1, s.store.Count())

	rec = s.do(httptest.NewRequest(http.MethodDelete, "/api/files/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleClearFiles(t *testing.T) {
	s := newTestStack(t)
	s.selectFiles(t, upload{"lote.xml", "<guia/>"}, upload{"a.pdf", "%PDF"})

	rec := s.do(httptest.NewRequest(http.MethodDelete, "/api/files", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, s.manager.Selection().Files())
	assert.Equal(t, 0, s.store.Count())

	last := s.log.Since(0)
	assert.Equal(t, "Selection cleared (2 file(s))", last[len(last)-1].Message)
}

func TestFileHandlers_ConflictWhileBusy(t *testing.T) {
	e := echo.New()
	store := testutil.NewMockStorage()
	h := NewFileHandler(store, intake.NewSelection(nil), busyRuns{}, nil)

	req := multipartRequest(t, "/api/files", upload{"a.pdf", "x"})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.HandleAddFiles(c)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	req = httptest.NewRequest(http.MethodDelete, "/api/files", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	err = h.HandleClearFiles(c)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "CONFLICT", apiErr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/files/x", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("x")
	err = h.HandleRemoveFile(c)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, 0, store.Count())
}
