package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiss-anexos/intake/internal/models"
)

func TestHandleGetLog(t *testing.T) {
	s := newTestStack(t)
	s.log.Add(models.LevelInfo, "one")
	s.log.Add(models.LevelError, "two")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/log", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp logResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, resp.Events[1].Seq, resp.LastSeq)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/log?since=1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "two", resp.Events[0].Message)
	assert.Equal(t, models.LevelError, resp.Events[0].Level)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/log?since=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleClearLog(t *testing.T) {
	s := newTestStack(t)
	s.log.Add(models.LevelInfo, "one")

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/log/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	evs := s.log.Since(0)
	require.Len(t, evs, 1)
	assert.Equal(t, "Console cleared", evs[0].Message)
}

func TestHandleLogStream(t *testing.T) {
	s := newTestStack(t)
	s.log.Add(models.LevelInfo, "before connect")

	srv := httptest.NewServer(s.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/log"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() WSMessage {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg WSMessage
		require.NoError(t, ws.ReadJSON(&msg))
		return msg
	}
	payload := func(msg WSMessage) models.Event {
		t.Helper()
		var ev models.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		return ev
	}

	assert.Equal(t, MsgTypeConnected, read().Type)

	backlog := read()
	assert.Equal(t, MsgTypeEvent, backlog.Type)
	assert.Equal(t, "before connect", payload(backlog).Message)

	s.log.Add(models.LevelSuccess, "live event")
	live := read()
	assert.Equal(t, MsgTypeEvent, live.Type)
	assert.Equal(t, "live event", payload(live).Message)
	assert.Equal(t, models.LevelSuccess, payload(live).Level)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypePing, ID: "p1"}))
	pong := read()
	assert.Equal(t, MsgTypePong, pong.Type)
	assert.Equal(t, "p1", pong.ID)
}

func TestHandleHealth(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"busy":false`)
}
