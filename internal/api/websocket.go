package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tiss-anexos/intake/internal/models"
)

// WebSocket message types for the log stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeEvent     = "event"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

const (
	wsWriteWait      = 10 * time.Second
	wsSubscribeQueue = 256
)

// WSMessage is the envelope of every websocket frame
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error frame
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HandleLogStream upgrades to a websocket that replays events after ?since=N
// and then pushes new ones as they happen.
func (h *LogHandlerImpl) HandleLogStream(c echo.Context) error {
	since, err := parseSince(c)
	if err != nil {
		return err
	}

	// Subscribe before reading the backlog so nothing falls in between;
	// duplicates are filtered by sequence number.
	live, unsubscribe := h.log.Subscribe(wsSubscribeQueue)
	defer unsubscribe()

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Println("[WebSocket] Log client connected")

	if err := sendMessage(ws, WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()}); err != nil {
		return nil
	}

	last := since
	for _, ev := range h.log.Since(since) {
		if err := sendEvent(ws, ev); err != nil {
			return nil
		}
		last = ev.Seq
	}

	// Reads happen on their own goroutine; all writes stay on this one.
	incoming := make(chan WSMessage)
	closed := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(closed)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					fmt.Printf("[WebSocket] Connection error: %v\n", err)
				}
				return
			}
			select {
			case incoming <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			fmt.Println("[WebSocket] Log client disconnected")
			return nil

		case msg := <-incoming:
			switch msg.Type {
			case MsgTypePing:
				err = sendMessage(ws, WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
			default:
				err = sendError(ws, "Unknown message type: "+msg.Type, "INVALID_TYPE")
			}
			if err != nil {
				return nil
			}

		case ev, ok := <-live:
			if !ok {
				return nil
			}
			if ev.Seq <= last {
				continue
			}
			if err := sendEvent(ws, ev); err != nil {
				return nil
			}
			last = ev.Seq
		}
	}
}

func sendEvent(ws *websocket.Conn, ev models.Event) error {
	return sendMessage(ws, WSMessage{
		Type:      MsgTypeEvent,
		ID:        fmt.Sprintf("%d", ev.Seq),
		Payload:   mustJSON(ev),
		Timestamp: ev.Time.UnixMilli(),
	})
}

func sendMessage(ws *websocket.Conn, msg WSMessage) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
		return err
	}
	return nil
}

func sendError(ws *websocket.Conn, message, code string) error {
	return sendMessage(ws, WSMessage{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
