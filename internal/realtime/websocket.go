package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/crawl/internal/dungeon"
	"github.com/ashureev/crawl/internal/identity"
	"github.com/ashureev/crawl/internal/play"
	"github.com/coder/websocket"
)

// Message types.
const (
	typeStart    = "start"
	typeStop     = "stop"
	typeChoice   = "choice"
	typeSnapshot = "snapshot"
	typePing     = "ping"
	typePong     = "pong"
	typeResult   = "result"
	typeError    = "error"
)

const (
	readLimit    = 4 << 10
	writeTimeout = 5 * time.Second
)

// Commands is the interactive handler the socket drives.
type Commands interface {
	StartDungeon(ctx context.Context, ownerID string) play.Result
	StopDungeon(ctx context.Context, ownerID string) play.Result
	SubmitChoice(ctx context.Context, ownerID string, index int) play.Result
	GetSnapshot(ctx context.Context, ownerID string) (dungeon.Snapshot, error)
}

type inbound struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
}

type outbound struct {
	Type     string            `json:"type"`
	Outcome  play.Outcome      `json:"outcome,omitempty"`
	Message  string            `json:"message,omitempty"`
	Snapshot *dungeon.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func resultMessage(res play.Result) outbound {
	snap := res.Snapshot
	return outbound{Type: typeResult, Outcome: res.Outcome, Message: res.Message, Snapshot: &snap}
}

// WebSocketHandler serves GET /ws/dungeon.
type WebSocketHandler struct {
	commands      Commands
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(commands Commands, hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		commands:      commands,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.UserIDFromContext(r.Context())
	tabID := identity.SessionIDFromContext(r.Context())
	if ownerID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "owner_id", ownerID, "tab_id", tabID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "owner_id", ownerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "owner_id", ownerID)
		}
	}()
	ws.SetReadLimit(readLimit)

	h.hub.Register(ownerID, tabID, ws)
	defer h.hub.Unregister(ownerID, tabID, ws)

	ctx := r.Context()
	h.reply(ctx, ws, h.snapshot(ctx, ownerID))
	h.readLoop(ctx, ws, ownerID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, ownerID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "owner_id", ownerID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "owner_id", ownerID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, ws, outbound{Type: typeError, Error: "malformed message"})
			continue
		}
		h.reply(ctx, ws, h.dispatch(ctx, ownerID, msg))
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, ownerID string, msg inbound) outbound {
	switch msg.Type {
	case typeStart:
		return resultMessage(h.commands.StartDungeon(ctx, ownerID))
	case typeStop:
		return resultMessage(h.commands.StopDungeon(ctx, ownerID))
	case typeChoice:
		if msg.Index == nil {
			return outbound{Type: typeError, Error: "choice requires an index"}
		}
		return resultMessage(h.commands.SubmitChoice(ctx, ownerID, *msg.Index))
	case typeSnapshot:
		return h.snapshot(ctx, ownerID)
	case typePing:
		return outbound{Type: typePong}
	default:
		return outbound{Type: typeError, Error: "unknown message type"}
	}
}

func (h *WebSocketHandler) snapshot(ctx context.Context, ownerID string) outbound {
	snap, err := h.commands.GetSnapshot(ctx, ownerID)
	if err != nil {
		return outbound{Type: typeError, Error: err.Error()}
	}
	return outbound{Type: typeSnapshot, Snapshot: &snap}
}

func (h *WebSocketHandler) reply(ctx context.Context, ws *websocket.Conn, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode reply", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to send reply", "type", msg.Type, "error", err)
	}
}
