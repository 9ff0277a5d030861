// Package overlayhub implements the per-tenant authenticated WebSocket
// room the scheduler addresses by guildId: handshake auth, peer-list
// broadcasts, and the PLAY/STOP/PEERS outbound events plus the typed
// inbound events overlays send back.
package overlayhub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/domain/ports"
	"overlaydispatch/internal/metrics"
)

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	guildID     string
	clientID    string
	label       string
	authorName  *string
	authorImage *string
}

// schedulerFacade is the subset of *scheduler.Scheduler the hub drives.
// Declared locally so this package never imports the scheduler package
// directly, avoiding the obvious import cycle (scheduler depends on
// ports.Hub, which this package implements).
type schedulerFacade interface {
	OnJobEnqueued(guildID string)
	OnPlaybackStopped(guildID string, jobID *string)
	OnManualStop(guildID string)
	PreemptWithJob(guildID, preemptingJobID string)
}

// Hub is a single goroutine owning every tenant's room. It implements
// ports.Hub so the scheduler can address rooms without knowing about
// websockets.
type Hub struct {
	store  ports.Store
	sched  schedulerFacade
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	playCh     chan playRequest
	stopCh     chan stopRequest
	roomSizeCh chan roomSizeRequest
	done       chan struct{}

	rooms map[string]map[*client]bool

	onPlaybackState func(playbackStateEvent)
	createMemeJob   func(ctx context.Context, args domain.CreateJobArgs) (domain.PlaybackJob, error)
	memeJobPriority int
}

// playbackStateEvent mirrors scheduler.PlaybackStateEvent; kept as a
// local type so this package never imports the scheduler package.
type playbackStateEvent struct {
	GuildID     string
	JobID       *string
	State       string
	RemainingMs *int64
}

// SetPlaybackStateFunc wires the scheduler's OnPlaybackState handler.
func (h *Hub) SetPlaybackStateFunc(fn func(guildID string, jobID *string, state string, remainingMs *int64)) {
	h.onPlaybackState = func(evt playbackStateEvent) {
		fn(evt.GuildID, evt.JobID, evt.State, evt.RemainingMs)
	}
}

// SetMemeJobFactory wires job creation for MEME_TRIGGER handling.
func (h *Hub) SetMemeJobFactory(priority int, fn func(ctx context.Context, args domain.CreateJobArgs) (domain.PlaybackJob, error)) {
	h.memeJobPriority = priority
	h.createMemeJob = fn
}

type playRequest struct {
	guildID string
	event   ports.PlayEvent
	errCh   chan error
}

type stopRequest struct {
	guildID string
	jobID   string
	errCh   chan error
}

type roomSizeRequest struct {
	guildID string
	resp    chan int
}

// New constructs a Hub. Scheduler is wired in afterward via SetScheduler
// since the scheduler itself is constructed with this Hub as a
// dependency — a two-phase init avoids a circular constructor.
func New(store ports.Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:      store,
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		playCh:     make(chan playRequest),
		stopCh:     make(chan stopRequest),
		roomSizeCh: make(chan roomSizeRequest),
		done:       make(chan struct{}),
		rooms:      make(map[string]map[*client]bool),
	}
}

// SetScheduler completes construction. Must be called before Run.
func (h *Hub) SetScheduler(s schedulerFacade) {
	h.sched = s
}

// Run drives the hub's single goroutine until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(ctx, c)
		case req := <-h.playCh:
			req.errCh <- h.doEmitPlay(req.guildID, req.event)
		case req := <-h.stopCh:
			req.errCh <- h.doEmitStop(req.guildID, req.jobID)
		case req := <-h.roomSizeCh:
			req.resp <- len(h.rooms[req.guildID])
		}
	}
}

func (h *Hub) closeAll() {
	for guildID, room := range h.rooms {
		for c := range room {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(2*time.Second))
			close(c.send)
		}
		delete(h.rooms, guildID)
	}
	h.logger.Info("overlay hub stopped")
}

func (h *Hub) addClient(c *client) {
	room := h.rooms[c.guildID]
	if room == nil {
		room = make(map[*client]bool)
		h.rooms[c.guildID] = room
	}
	room[c] = true
	metrics.OverlayConnectedClients.Set(float64(h.totalClients()))
	h.broadcastPeers(c.guildID)
	if h.sched != nil {
		h.sched.OnJobEnqueued(c.guildID)
	}
}

func (h *Hub) removeClient(ctx context.Context, c *client) {
	room := h.rooms[c.guildID]
	if room == nil || !room[c] {
		return
	}
	delete(room, c)
	close(c.send)
	metrics.OverlayConnectedClients.Set(float64(h.totalClients()))

	if len(room) == 0 {
		delete(h.rooms, c.guildID)
		if err := h.store.UpsertGuildBusyUntil(ctx, c.guildID, nil); err != nil {
			h.logger.Warn("overlay hub: clear busy-lock on empty room failed", "guildId", c.guildID, "error", err)
		}
		return
	}
	h.broadcastPeers(c.guildID)
}

func (h *Hub) totalClients() int {
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

type peerEntry struct {
	ClientID string `json:"clientId"`
	Label    string `json:"label"`
}

type peersPayload struct {
	GuildID string      `json:"guildId"`
	Peers   []peerEntry `json:"peers"`
}

func (h *Hub) broadcastPeers(guildID string) {
	room := h.rooms[guildID]
	seen := make(map[string]bool, len(room))
	peers := make([]peerEntry, 0, len(room))
	for c := range room {
		if seen[c.clientID] {
			continue
		}
		seen[c.clientID] = true
		peers = append(peers, peerEntry{ClientID: c.clientID, Label: c.label})
	}
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Label != peers[j].Label {
			return peers[i].Label < peers[j].Label
		}
		return peers[i].ClientID < peers[j].ClientID
	})
	h.send(guildID, "overlay:peers", peersPayload{GuildID: guildID, Peers: peers})
}

func (h *Hub) send(guildID, eventType string, data interface{}) {
	room := h.rooms[guildID]
	if len(room) == 0 {
		return
	}
	payload, err := json.Marshal(wireMessageOf(eventType, data))
	if err != nil {
		h.logger.Error("overlay hub: marshal failed", "error", err)
		return
	}
	metrics.OverlayEventsOutTotal.WithLabelValues(eventType).Inc()
	for c := range room {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(room, c)
		}
	}
}

func wireMessageOf(eventType string, data interface{}) map[string]interface{} {
	return map[string]interface{}{"type": eventType, "data": data}
}

type mediaWire struct {
	AssetID        string          `json:"assetId"`
	URL            string          `json:"url"`
	Mime           string          `json:"mime"`
	Kind           string          `json:"kind"`
	DurationSec    int64           `json:"durationSec"`
	IsVertical     bool            `json:"isVertical"`
	StartOffsetSec int64           `json:"startOffsetSec,omitempty"`
}

type playWire struct {
	JobID       string           `json:"jobId"`
	Media       *mediaWire       `json:"media"`
	Text        ports.TextEvent  `json:"text"`
	Author      ports.AuthorEvent `json:"author"`
	TweetCard   *domain.TweetCard `json:"tweetCard"`
	DurationSec int64            `json:"durationSec"`
}

func (h *Hub) doEmitPlay(guildID string, event ports.PlayEvent) error {
	wire := playWire{
		JobID:       event.JobID,
		Text:        event.Text,
		Author:      event.Author,
		TweetCard:   event.TweetCard,
		DurationSec: event.DurationSec,
	}
	if event.Media != nil {
		wire.Media = &mediaWire{
			AssetID:        event.Media.AssetID,
			URL:            event.Media.URL,
			Mime:           event.Media.Mime,
			Kind:           string(event.Media.Kind),
			DurationSec:    event.Media.DurationSec,
			IsVertical:     event.Media.IsVertical,
			StartOffsetSec: event.Media.StartOffsetSec,
		}
	}
	h.send(guildID, "overlay:play", wire)
	return nil
}

func (h *Hub) doEmitStop(guildID, jobID string) error {
	h.send(guildID, "overlay:stop", map[string]string{"jobId": jobID})
	return nil
}

// RoomSize implements ports.Hub.
func (h *Hub) RoomSize(guildID string) int {
	resp := make(chan int, 1)
	select {
	case h.roomSizeCh <- roomSizeRequest{guildID: guildID, resp: resp}:
		return <-resp
	case <-h.done:
		return 0
	}
}

// EmitPlay implements ports.Hub.
func (h *Hub) EmitPlay(guildID string, event ports.PlayEvent) error {
	errCh := make(chan error, 1)
	select {
	case h.playCh <- playRequest{guildID: guildID, event: event, errCh: errCh}:
		return <-errCh
	case <-h.done:
		return nil
	}
}

// EmitStop implements ports.Hub.
func (h *Hub) EmitStop(guildID, jobID string) error {
	errCh := make(chan error, 1)
	select {
	case h.stopCh <- stopRequest{guildID: guildID, jobID: jobID, errCh: errCh}:
		return <-errCh
	case <-h.done:
		return nil
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
