package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/irisdrone/parkwatch/metrics"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Feed message types
const (
	FeedSubscribe   = "subscribe"
	FeedUnsubscribe = "unsubscribe"
	FeedPing        = "ping"
	FeedPong        = "pong"
	FeedOccupancy   = "occupancy"
	FeedZones       = "zones"
	FeedError       = "error"
)

// FeedHub relays per-camera occupancy and zone events from NATS to
// websocket viewers. One pair of NATS subscriptions exists per camera
// with at least one viewer.
type FeedHub struct {
	nc      *nats.Conn
	metrics *metrics.Metrics
	log     *zap.Logger

	clients   map[*FeedClient]bool
	clientsMu sync.RWMutex

	// cameraID -> subscription; guards the viewer sets as well
	subscriptions   map[string]*cameraSubscription
	subscriptionsMu sync.RWMutex

	register   chan *FeedClient
	unregister chan *FeedClient
	done       chan struct{}
}

type cameraSubscription struct {
	cameraID     string
	occupancySub *nats.Subscription
	zonesSub     *nats.Subscription
	viewers      map[*FeedClient]bool
}

func (s *cameraSubscription) close() {
	if s.occupancySub != nil {
		_ = s.occupancySub.Unsubscribe()
	}
	if s.zonesSub != nil {
		_ = s.zonesSub.Unsubscribe()
	}
}

// FeedClient is one websocket viewer
type FeedClient struct {
	hub        *FeedHub
	conn       *websocket.Conn
	send       chan []byte
	sendMu     sync.Mutex
	closed     bool
	cameras    map[string]bool
	camerasMu  sync.Mutex
	remoteAddr string
}

// FeedMessage is a message sent to/from clients
type FeedMessage struct {
	Type   string          `json:"type"`
	Camera string          `json:"camera,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HubStats is a point-in-time view of the hub
type HubStats struct {
	Clients       int      `json:"clients"`
	Subscriptions int      `json:"subscriptions"`
	ActiveCameras []string `json:"activeCameras"`
}

// NewFeedHub creates a hub on top of a NATS connection. Run must be started
// before clients are registered.
func NewFeedHub(nc *nats.Conn, m *metrics.Metrics, log *zap.Logger) *FeedHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedHub{
		nc:            nc,
		metrics:       m,
		log:           log.With(zap.String("component", "feedhub")),
		clients:       make(map[*FeedClient]bool),
		subscriptions: make(map[string]*cameraSubscription),
		register:      make(chan *FeedClient),
		unregister:    make(chan *FeedClient),
		done:          make(chan struct{}),
	}
}

// Run is the hub's main loop. When ctx is cancelled every client is
// disconnected and every NATS subscription dropped.
func (h *FeedHub) Run(ctx context.Context) {
	h.log.Info("📺 Feed hub started")
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.clientsMu.Unlock()
			h.metrics.SetFeedClients(n)
			h.log.Debug("📺 Client connected", zap.String("remote", client.remoteAddr))

		case client := <-h.unregister:
			h.drop(client)
			h.log.Debug("📺 Client disconnected", zap.String("remote", client.remoteAddr))

		case <-ctx.Done():
			h.shutdown()
			h.log.Info("📺 Feed hub stopped")
			return
		}
	}
}

// Register adds a client to the hub
func (h *FeedHub) Register(client *FeedClient) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

func (h *FeedHub) leave(client *FeedClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Serve registers a websocket connection and starts its pumps
func (h *FeedHub) Serve(conn *websocket.Conn, remoteAddr string) {
	client := NewFeedClient(h, conn, remoteAddr)
	h.Register(client)
	go client.WritePump()
	go client.ReadPump()
}

// drop removes the client from every camera before closing its send
// channel, so no broadcast can race the close.
func (h *FeedHub) drop(client *FeedClient) {
	h.clientsMu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.clientsMu.Unlock()
	if !ok {
		return
	}

	for _, cameraID := range client.cameraIDs() {
		h.Unsubscribe(client, cameraID)
	}
	client.close()
	h.metrics.SetFeedClients(n)
}

func (h *FeedHub) shutdown() {
	h.subscriptionsMu.Lock()
	for id, sub := range h.subscriptions {
		sub.close()
		delete(h.subscriptions, id)
	}
	h.subscriptionsMu.Unlock()

	h.clientsMu.Lock()
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.clientsMu.Unlock()
	h.metrics.SetFeedClients(0)
}

// Subscribe adds a client as viewer of a camera
func (h *FeedHub) Subscribe(client *FeedClient, cameraID string) error {
	if cameraID == "" {
		return fmt.Errorf("camera is required")
	}

	h.subscriptionsMu.Lock()
	defer h.subscriptionsMu.Unlock()

	sub, exists := h.subscriptions[cameraID]
	if !exists {
		sub = &cameraSubscription{
			cameraID: cameraID,
			viewers:  make(map[*FeedClient]bool),
		}

		var err error
		sub.occupancySub, err = h.nc.Subscribe(OccupancySubject(cameraID), func(msg *nats.Msg) {
			h.broadcast(FeedOccupancy, cameraID, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to occupancy: %w", err)
		}
		sub.zonesSub, err = h.nc.Subscribe(ZonesSubject(cameraID), func(msg *nats.Msg) {
			h.broadcast(FeedZones, cameraID, msg.Data)
		})
		if err != nil {
			sub.close()
			return fmt.Errorf("failed to subscribe to zones: %w", err)
		}

		h.subscriptions[cameraID] = sub
		h.log.Debug("📺 Created subscription", zap.String("camera_id", cameraID))
	}
	sub.viewers[client] = true

	client.camerasMu.Lock()
	client.cameras[cameraID] = true
	client.camerasMu.Unlock()
	return nil
}

// Unsubscribe removes a client from a camera; the NATS subscriptions go
// away with the last viewer.
func (h *FeedHub) Unsubscribe(client *FeedClient, cameraID string) {
	client.camerasMu.Lock()
	delete(client.cameras, cameraID)
	client.camerasMu.Unlock()

	h.subscriptionsMu.Lock()
	defer h.subscriptionsMu.Unlock()

	sub, exists := h.subscriptions[cameraID]
	if !exists {
		return
	}
	delete(sub.viewers, client)
	if len(sub.viewers) == 0 {
		sub.close()
		delete(h.subscriptions, cameraID)
		h.log.Debug("📺 Removed subscription (no viewers)", zap.String("camera_id", cameraID))
	}
}

func (h *FeedHub) broadcast(msgType, cameraID string, data []byte) {
	if !json.Valid(data) {
		h.log.Warn("⚠️ Dropping non-JSON event", zap.String("camera_id", cameraID))
		return
	}
	msg, err := json.Marshal(FeedMessage{Type: msgType, Camera: cameraID, Data: data})
	if err != nil {
		return
	}

	h.subscriptionsMu.RLock()
	defer h.subscriptionsMu.RUnlock()
	sub, exists := h.subscriptions[cameraID]
	if !exists {
		return
	}
	for client := range sub.viewers {
		// a full buffer skips the update; the next one supersedes it
		client.trySend(msg)
	}
}

// Stats returns hub statistics
func (h *FeedHub) Stats() HubStats {
	h.clientsMu.RLock()
	clientCount := len(h.clients)
	h.clientsMu.RUnlock()

	h.subscriptionsMu.RLock()
	cameras := make([]string, 0, len(h.subscriptions))
	viewers := 0
	for id, sub := range h.subscriptions {
		cameras = append(cameras, id)
		viewers += len(sub.viewers)
	}
	h.subscriptionsMu.RUnlock()
	sort.Strings(cameras)

	return HubStats{
		Clients:       clientCount,
		Subscriptions: viewers,
		ActiveCameras: cameras,
	}
}
