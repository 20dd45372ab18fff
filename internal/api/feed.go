package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/taskyield/taskyield/internal/domain"
)

// ─── Live Credit Feed ───────────────────────────────────────────────────────
// Every credit the engine applies is pushed to dashboards over
// Server-Sent Events: {type: "credit", email, category, amount, ...}

// CreditHub fans credit events out to connected SSE clients.
type CreditHub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

// NewCreditHub creates a new credit broadcast hub.
func NewCreditHub() *CreditHub {
	return &CreditHub{
		clients: make(map[chan []byte]struct{}),
	}
}

// CreditEvent is one applied credit as sent to clients.
type CreditEvent struct {
	Type        string `json:"type"` // "credit"
	ID          string `json:"id"`
	Email       string `json:"email"`
	Category    string `json:"category"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Timestamp   int64  `json:"timestamp"` // Unix epoch
}

// Publish converts an applied credit into an event and broadcasts it.
// Its signature matches the engine's listener hook.
func (h *CreditHub) Publish(a domain.Activity) {
	h.Broadcast(CreditEvent{
		Type:        "credit",
		ID:          a.ID,
		Email:       a.Email,
		Category:    string(a.Category),
		Amount:      a.Amount.String(),
		Description: a.Description,
		Timestamp:   a.CreatedAt.Unix(),
	})
}

// Broadcast sends an event to all connected clients.
func (h *CreditHub) Broadcast(event CreditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			// Client too slow; drop the message.
		}
	}
}

// Subscribe registers a new client. Returns the channel and an unsubscribe func.
func (h *CreditHub) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (h *CreditHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleCreditsSSE serves the live credit feed via Server-Sent Events.
// GET /api/credits/live
func (h *CreditHub) HandleCreditsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	ch, unsub := h.Subscribe()
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
