// Package realtime serves dungeon commands over WebSocket and pushes session
// snapshots to connected players.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/crawl/internal/dungeon"
	"github.com/coder/websocket"
)

const pushTimeout = 2 * time.Second

// Hub tracks live connections per owner and tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	items  dungeon.ItemLookup
	logger *slog.Logger
}

// NewHub creates an empty hub. items resolves loot in pushed snapshots.
func NewHub(items dungeon.ItemLookup, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
		items:  items,
		logger: logger,
	}
}

// GetActive returns the connection for an owner's tab.
func (h *Hub) GetActive(ownerID, tabID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tabs, ok := h.active[ownerID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Register adds a connection, closing any previous one for the same tab.
func (h *Hub) Register(ownerID, tabID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[ownerID]; !exists {
		h.active[ownerID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := h.active[ownerID][tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	h.active[ownerID][tabID] = conn
	h.logger.Info("Dungeon connection registered", "owner_id", ownerID, "tab_id", tabID)
}

// Unregister removes conn if it is still the tab's current connection.
func (h *Hub) Unregister(ownerID, tabID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.active[ownerID]
	if !ok {
		return
	}
	if current, exists := tabs[tabID]; exists && current == conn {
		delete(tabs, tabID)
		if len(tabs) == 0 {
			delete(h.active, ownerID)
		}
		h.logger.Info("Dungeon connection unregistered", "owner_id", ownerID, "tab_id", tabID)
	}
}

// Count returns the number of open connections for an owner.
func (h *Hub) Count(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[ownerID])
}

func (h *Hub) conns(ownerID string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tabs := h.active[ownerID]
	out := make([]*websocket.Conn, 0, len(tabs))
	for _, c := range tabs {
		out = append(out, c)
	}
	return out
}

// Broadcast sends v to every tab the owner has open. Slow tabs are skipped
// after pushTimeout.
func (h *Hub) Broadcast(ctx context.Context, ownerID string, v any) {
	conns := h.conns(ownerID)
	if len(conns) == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode push", "owner_id", ownerID, "error", err)
		return
	}
	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := c.Write(writeCtx, websocket.MessageText, data); err != nil {
			h.logger.Debug("Push failed", "owner_id", ownerID, "error", err)
		}
		cancel()
	}
}

// OnAdvance pushes the new snapshot of a session the sweeper just changed.
// It matches sweeper.AdvanceCallback.
func (h *Hub) OnAdvance(ownerID string, result dungeon.TickResult) {
	if result.Session == nil {
		return
	}
	snap := dungeon.NewSnapshot(h.items, result.Session)
	h.Broadcast(context.Background(), ownerID, outbound{Type: typeSnapshot, Snapshot: &snap})
}
