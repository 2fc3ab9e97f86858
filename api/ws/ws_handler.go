package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/service"
)

const subprotocol = "webnotes-v1"

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{subprotocol},
	}
}

// ServeWS handles websocket requests from the peer. The token travels as the
// second subprotocol value since browsers cannot set headers on the upgrade.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 || strings.TrimSpace(protocolsSplit[0]) != subprotocol {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slogx.Warn(r.Context(), "failed to upgrade ws connection", slogx.Err(err))
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.HandleWsMessage)
	enqueue(h.Hub, h.Hub.OpenCh, client)

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type watchMessage struct {
	NoteId string `json:"noteId"`
}

type responseMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		slogx.Debug(ctx, "invalid ws message", slogx.UserId(client.user.Id), slogx.Err(err))
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "watch":
		var watchMsg watchMessage
		if err := json.Unmarshal(msg.Data, &watchMsg); err != nil {
			slogx.Debug(ctx, "invalid watch data", slogx.Err(err))
			return
		}
		resp = h.handleWatch(ctx, client, watchMsg)

	case "unwatch":
		var watchMsg watchMessage
		if err := json.Unmarshal(msg.Data, &watchMsg); err != nil {
			slogx.Debug(ctx, "invalid unwatch data", slogx.Err(err))
			return
		}
		resp = h.handleUnwatch(client, watchMsg)

	default:
		slogx.Debug(ctx, "unknown ws message type", slogx.UserId(client.user.Id))
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			slogx.Error(ctx, "marshal ws response failed", slogx.Err(err))
			return
		}
		enqueue(h.Hub, h.Hub.ReplyCh, reply{client: client, message: respBytes})
	}
}

// handleWatch subscribes the client to change events for a note it can see
func (h *Handler) handleWatch(ctx context.Context, client *Client, watchMsg watchMessage) responseMessage {
	resp := responseMessage{
		Type: "watch_response",
	}

	if watchMsg.NoteId == "" {
		resp.Data = map[string]any{"success": false, "noteId": watchMsg.NoteId}
		return resp
	}

	visible, err := h.Service.NoteVisible(ctx, client.user.Id, watchMsg.NoteId)
	if err != nil {
		slogx.Error(ctx, "watch visibility check failed", slogx.NoteId(watchMsg.NoteId), slogx.Err(err))
	}
	if err != nil || !visible {
		resp.Data = map[string]any{"success": false, "noteId": watchMsg.NoteId}
		return resp
	}

	enqueue(h.Hub, h.Hub.WatchCh, subscription{client: client, noteId: watchMsg.NoteId})
	resp.Data = map[string]any{"success": true, "noteId": watchMsg.NoteId}
	return resp
}

func (h *Handler) handleUnwatch(client *Client, watchMsg watchMessage) responseMessage {
	enqueue(h.Hub, h.Hub.UnwatchCh, subscription{client: client, noteId: watchMsg.NoteId})
	return responseMessage{
		Type: "unwatch_response",
		Data: map[string]any{"success": true, "noteId": watchMsg.NoteId},
	}
}
