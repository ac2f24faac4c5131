// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/syncengine"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types.
const (
	MessageTypeSyncStatus     = "sync_status"
	MessageTypeInventoryAlert = "inventory_alert"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
)

// Message is the envelope of every frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// StatusSource is the engine's status stream.
type StatusSource interface {
	SubscribeStatus() (<-chan syncengine.Status, func())
}

// Hub tracks connected clients and broadcasts to all of them.
type Hub struct {
	source StatusSource

	clients      map[*Client]bool
	broadcast    chan Message
	register     chan *Client
	unregisterCh chan *Client
	done         chan struct{}
	doneOnce     sync.Once

	mu         sync.RWMutex
	lastStatus *Message
}

// NewHub creates a hub. source may be nil.
func NewHub(source StatusSource) *Hub {
	return &Hub{
		source:       source,
		clients:      make(map[*Client]bool),
		broadcast:    make(chan Message, 256),
		register:     make(chan *Client),
		unregisterCh: make(chan *Client),
		done:         make(chan struct{}),
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterCh <- c:
	case <-h.done:
	}
}

// RunWithContext runs the hub until ctx is done, then closes every client.
//
// Shutdown is checked first, then client lifecycle events, so a status
// broadcast never races a registration that was already pending.
func (h *Hub) RunWithContext(ctx context.Context) error {
	var statuses <-chan syncengine.Status
	if h.source != nil {
		ch, unsubscribe := h.source.SubscribeStatus()
		defer unsubscribe()
		statuses = ch
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregisterCh:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregisterCh:
			h.remove(c)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			msg := Message{Type: MessageTypeSyncStatus, Data: st}
			h.mu.Lock()
			h.lastStatus = &msg
			h.mu.Unlock()
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	last := h.lastStatus
	total := len(h.clients)
	h.mu.Unlock()

	if last != nil {
		select {
		case c.send <- *last:
		default:
		}
	}
	clientsGauge.Set(float64(total))
	logging.Debug().Uint64("client_id", c.id).Int("total_clients", total).Msg("Websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(total))
	logging.Debug().Uint64("client_id", c.id).Int("total_clients", total).Msg("Websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	h.doneOnce.Do(func() { close(h.done) })
	closed := h.closeAllClients()

	reason := ShutdownReasonContextCanceled
	if ctx.Err() == context.DeadlineExceeded {
		reason = ShutdownReasonContextDeadline
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(reason)).
		Int("clients_closed", closed).
		Msg("Websocket hub stopped")
}

// sortedClients must be called with mu held.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients delivers msg in client id order. Clients whose send
// buffer is full are dropped.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.sortedClients() {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
			droppedClientsTotal.Inc()
		}
	}
	messagesTotal.WithLabelValues(msg.Type).Inc()
	clientsGauge.Set(float64(len(h.clients)))
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sortedClients()
	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
	clientsGauge.Set(0)
	return len(clients)
}

// BroadcastJSON queues a message for every client. It drops the message if
// the queue is full.
func (h *Hub) BroadcastJSON(messageType string, data any) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		logging.Warn().Str("message_type", messageType).Msg("Broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
