package overlayhub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/domain/ports"
)

type fakeHubStore struct {
	clientsByHash map[string]domain.OverlayClient
	memeItems     map[string]domain.MemeBoardItem
	assets        map[string]domain.MediaAsset
	touchedIDs    []string
	busyCleared   bool
}

func newFakeHubStore() *fakeHubStore {
	return &fakeHubStore{
		clientsByHash: make(map[string]domain.OverlayClient),
		memeItems:     make(map[string]domain.MemeBoardItem),
		assets:        make(map[string]domain.MediaAsset),
	}
}

func (f *fakeHubStore) GetGuild(ctx context.Context, guildID string) (domain.Guild, error) {
	return domain.Guild{}, nil
}
func (f *fakeHubStore) UpsertGuildBusyUntil(ctx context.Context, guildID string, busyUntil *time.Time) error {
	if busyUntil == nil {
		f.busyCleared = true
	}
	return nil
}
func (f *fakeHubStore) ListGuildIDsWithNonTerminalJobs(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeHubStore) GetMediaAsset(ctx context.Context, id string) (domain.MediaAsset, error) {
	a, ok := f.assets[id]
	if !ok {
		return domain.MediaAsset{}, domain.ErrNotFound
	}
	return a, nil
}
func (f *fakeHubStore) GetOverlayClientByTokenHash(ctx context.Context, tokenHash string) (domain.OverlayClient, error) {
	c, ok := f.clientsByHash[tokenHash]
	if !ok {
		return domain.OverlayClient{}, domain.ErrNotFound
	}
	return c, nil
}
func (f *fakeHubStore) CreateOverlayClient(ctx context.Context, c domain.OverlayClient) error { return nil }
func (f *fakeHubStore) RevokeOverlayClients(ctx context.Context, guildID, label string) error { return nil }
func (f *fakeHubStore) TouchOverlayClientLastSeen(ctx context.Context, id string, at time.Time) error {
	f.touchedIDs = append(f.touchedIDs, id)
	return nil
}
func (f *fakeHubStore) GetMemeBoardItem(ctx context.Context, guildID, itemID string) (domain.MemeBoardItem, error) {
	item, ok := f.memeItems[itemID]
	if !ok || item.GuildID != guildID {
		return domain.MemeBoardItem{}, domain.ErrNotFound
	}
	return item, nil
}
func (f *fakeHubStore) FindMemeBoardItemByMediaAsset(ctx context.Context, guildID, mediaAssetID string) (domain.MemeBoardItem, error) {
	return domain.MemeBoardItem{}, domain.ErrNotFound
}
func (f *fakeHubStore) CreateJob(ctx context.Context, args domain.CreateJobArgs, now time.Time) (domain.PlaybackJob, error) {
	return domain.PlaybackJob{}, nil
}
func (f *fakeHubStore) GetJob(ctx context.Context, guildID, id string) (domain.PlaybackJob, error) {
	return domain.PlaybackJob{}, domain.ErrNotFound
}
func (f *fakeHubStore) FindActivePlayingJob(ctx context.Context, guildID string) (*domain.PlaybackJob, error) {
	return nil, nil
}
func (f *fakeHubStore) FindNextPendingRoot(ctx context.Context, guildID string, now time.Time) (*domain.PlaybackJob, error) {
	return nil, nil
}
func (f *fakeHubStore) FindResumedChildOf(ctx context.Context, guildID, parentID string) (*domain.PlaybackJob, error) {
	return nil, nil
}
func (f *fakeHubStore) FindOrphanedResumedChildren(ctx context.Context, guildID string) ([]domain.PlaybackJob, error) {
	return nil, nil
}
func (f *fakeHubStore) ListPendingRoots(ctx context.Context, guildID string) ([]domain.PlaybackJob, error) {
	return nil, nil
}
func (f *fakeHubStore) PromoteToPlaying(ctx context.Context, id, guildID string, data domain.PromoteArgs) (int64, error) {
	return 0, nil
}
func (f *fakeHubStore) SuspendForPreemption(ctx context.Context, id, guildID string, data domain.SuspendArgs) (int64, error) {
	return 0, nil
}
func (f *fakeHubStore) ReleaseJob(ctx context.Context, guildID string, jobID *string, terminal domain.JobStatus, finishedAt time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeHubStore) ReleaseJobPending(ctx context.Context, id, guildID string, terminal domain.JobStatus, finishedAt time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeHubStore) UpdatePlaybackSnapshot(ctx context.Context, guildID, jobID string, remainingMs int64, at time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeHubStore) RecomputeRootExecutionDates(ctx context.Context, guildID string, anchor time.Time, lockPadding time.Duration) error {
	return nil
}
func (f *fakeHubStore) DeleteTerminalJobsBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeHubStore) DeleteExpiredUnpinnedMedia(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

var _ ports.Store = (*fakeHubStore)(nil)

type fakeSchedulerFacade struct {
	enqueuedGuilds   []string
	stoppedGuilds    []string
	stoppedJobIDs    []*string
	manualStopGuilds []string
	preemptGuildIDs  []string
	preemptJobIDs    []string
}

func (f *fakeSchedulerFacade) OnJobEnqueued(guildID string) {
	f.enqueuedGuilds = append(f.enqueuedGuilds, guildID)
}
func (f *fakeSchedulerFacade) OnPlaybackStopped(guildID string, jobID *string) {
	f.stoppedGuilds = append(f.stoppedGuilds, guildID)
	f.stoppedJobIDs = append(f.stoppedJobIDs, jobID)
}
func (f *fakeSchedulerFacade) OnManualStop(guildID string) {
	f.manualStopGuilds = append(f.manualStopGuilds, guildID)
}
func (f *fakeSchedulerFacade) PreemptWithJob(guildID, preemptingJobID string) {
	f.preemptGuildIDs = append(f.preemptGuildIDs, guildID)
	f.preemptJobIDs = append(f.preemptJobIDs, preemptingJobID)
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func TestAuthenticateMissingToken(t *testing.T) {
	h := New(newFakeHubStore(), slog.New(slog.DiscardHandler))
	r := httptest.NewRequest(http.MethodGet, "/overlay/ws", nil)

	_, err := h.authenticate(context.Background(), r)
	if err != errMissingToken {
		t.Fatalf("expected errMissingToken, got %v", err)
	}
}

func TestAuthenticateInvalidToken(t *testing.T) {
	h := New(newFakeHubStore(), slog.New(slog.DiscardHandler))
	r := httptest.NewRequest(http.MethodGet, "/overlay/ws?token=unknown", nil)

	_, err := h.authenticate(context.Background(), r)
	if err != errInvalidToken {
		t.Fatalf("expected errInvalidToken, got %v", err)
	}
}

func TestAuthenticateRevokedToken(t *testing.T) {
	store := newFakeHubStore()
	revokedAt := time.Now().UTC()
	store.clientsByHash[tokenHash("tok")] = domain.OverlayClient{ID: "c1", GuildID: "g1", RevokedAt: &revokedAt}
	h := New(store, slog.New(slog.DiscardHandler))
	r := httptest.NewRequest(http.MethodGet, "/overlay/ws?token=tok", nil)

	_, err := h.authenticate(context.Background(), r)
	if err != errInvalidToken {
		t.Fatalf("expected errInvalidToken for revoked client, got %v", err)
	}
}

func TestAuthenticateSuccessViaBearerHeader(t *testing.T) {
	store := newFakeHubStore()
	store.clientsByHash[tokenHash("tok")] = domain.OverlayClient{ID: "c1", GuildID: "g1", Label: "tv"}
	h := New(store, slog.New(slog.DiscardHandler))
	r := httptest.NewRequest(http.MethodGet, "/overlay/ws", nil)
	r.Header.Set("Authorization", "Bearer tok")

	oc, err := h.authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if oc.ID != "c1" || oc.GuildID != "g1" {
		t.Fatalf("unexpected client: %+v", oc)
	}
}

func newTestHub() (*Hub, *fakeHubStore, *fakeSchedulerFacade) {
	store := newFakeHubStore()
	h := New(store, slog.New(slog.DiscardHandler))
	sched := &fakeSchedulerFacade{}
	h.SetScheduler(sched)
	return h, store, sched
}

func newTestClient(h *Hub, guildID, clientID, label string) *client {
	return &client{
		hub:      h,
		send:     make(chan []byte, 32),
		guildID:  guildID,
		clientID: clientID,
		label:    label,
	}
}

func TestAddClientBroadcastsPeersAndNotifiesScheduler(t *testing.T) {
	h, _, sched := newTestHub()
	c1 := newTestClient(h, "g1", "c1", "tv-1")

	h.addClient(c1)

	if len(h.rooms["g1"]) != 1 {
		t.Fatalf("expected client registered in room")
	}
	if len(sched.enqueuedGuilds) != 1 || sched.enqueuedGuilds[0] != "g1" {
		t.Fatalf("expected scheduler notified of enqueued guild, got %v", sched.enqueuedGuilds)
	}

	select {
	case msg := <-c1.send:
		var wire wireMessage
		if err := json.Unmarshal(msg, &wire); err != nil {
			t.Fatalf("unmarshal peers broadcast: %v", err)
		}
		if wire.Type != "overlay:peers" {
			t.Fatalf("expected overlay:peers broadcast, got %s", wire.Type)
		}
	default:
		t.Fatalf("expected a peers broadcast queued on the client")
	}
}

func TestRemoveClientLastInRoomClearsBusyLock(t *testing.T) {
	h, store, _ := newTestHub()
	c1 := newTestClient(h, "g1", "c1", "tv-1")
	h.addClient(c1)
	<-c1.send // drain the join broadcast

	h.removeClient(context.Background(), c1)

	if len(h.rooms["g1"]) != 0 {
		t.Fatalf("expected room emptied")
	}
	if !store.busyCleared {
		t.Fatalf("expected busy-lock cleared when the room empties")
	}
}

func TestDoEmitPlaySendsToAllClientsInRoom(t *testing.T) {
	h, _, _ := newTestHub()
	c1 := newTestClient(h, "g1", "c1", "tv-1")
	c2 := newTestClient(h, "g1", "c2", "tv-2")
	h.addClient(c1)
	h.addClient(c2)
	<-c1.send // c1's own join broadcast
	<-c1.send // c2's join broadcast also reaches c1
	<-c2.send

	if err := h.doEmitPlay("g1", ports.PlayEvent{JobID: "job-1", DurationSec: 10}); err != nil {
		t.Fatalf("doEmitPlay: %v", err)
	}

	for _, c := range []*client{c1, c2} {
		select {
		case msg := <-c.send:
			var wire wireMessage
			if err := json.Unmarshal(msg, &wire); err != nil {
				t.Fatalf("unmarshal play event: %v", err)
			}
			if wire.Type != "overlay:play" {
				t.Fatalf("expected overlay:play, got %s", wire.Type)
			}
		default:
			t.Fatalf("expected play event queued for client %s", c.clientID)
		}
	}
}

func TestDispatchInboundStopManualSentinelTriggersManualStop(t *testing.T) {
	h, _, sched := newTestHub()
	c1 := newTestClient(h, "g1", "c1", "tv-1")

	payload, _ := json.Marshal(stopPayload{JobID: manualStopSentinel})
	h.dispatchInbound(c1, wireMessage{Type: "overlay:stop", Data: payload})

	if len(sched.manualStopGuilds) != 1 || sched.manualStopGuilds[0] != "g1" {
		t.Fatalf("expected manual stop routed, got %v", sched.manualStopGuilds)
	}
	if len(sched.stoppedGuilds) != 0 {
		t.Fatalf("expected OnPlaybackStopped not called for manual stop")
	}
}

func TestDispatchInboundStopSpecificJobRoutesToPlaybackStopped(t *testing.T) {
	h, _, sched := newTestHub()
	c1 := newTestClient(h, "g1", "c1", "tv-1")

	payload, _ := json.Marshal(stopPayload{JobID: "job-42"})
	h.dispatchInbound(c1, wireMessage{Type: "overlay:stop", Data: payload})

	if len(sched.stoppedGuilds) != 1 || sched.stoppedGuilds[0] != "g1" {
		t.Fatalf("expected OnPlaybackStopped called, got %v", sched.stoppedGuilds)
	}
	if sched.stoppedJobIDs[0] == nil || *sched.stoppedJobIDs[0] != "job-42" {
		t.Fatalf("expected jobId passed through")
	}
}

func TestDispatchInboundMemeTriggerDispatchesPreemptingJob(t *testing.T) {
	h, store, sched := newTestHub()
	assetID := "asset-1"
	durationSec := int64(7)
	store.memeItems["item-1"] = domain.MemeBoardItem{ID: "item-1", GuildID: "g1", MediaAssetID: assetID, Label: "honk"}
	store.assets[assetID] = domain.MediaAsset{ID: assetID, Status: domain.MediaAssetReady, DurationSec: &durationSec}

	created := domain.PlaybackJob{ID: "meme-job-1", GuildID: "g1"}
	h.SetMemeJobFactory(100, func(ctx context.Context, args domain.CreateJobArgs) (domain.PlaybackJob, error) {
		if args.Priority != 100 || args.GuildID != "g1" {
			t.Fatalf("unexpected create args: %+v", args)
		}
		return created, nil
	})

	c1 := newTestClient(h, "g1", "c1", "tv-1")
	payload, _ := json.Marshal(memeTriggerPayload{ItemID: "item-1", Trigger: "reaction"})
	h.dispatchInbound(c1, wireMessage{Type: "overlay:meme-trigger", Data: payload})

	if len(sched.preemptJobIDs) != 1 || sched.preemptJobIDs[0] != "meme-job-1" {
		t.Fatalf("expected preempt called with the created job, got %v", sched.preemptJobIDs)
	}
}

func TestDispatchInboundMemeTriggerUnknownItemIsNoop(t *testing.T) {
	h, _, sched := newTestHub()
	called := false
	h.SetMemeJobFactory(100, func(ctx context.Context, args domain.CreateJobArgs) (domain.PlaybackJob, error) {
		called = true
		return domain.PlaybackJob{}, nil
	})

	c1 := newTestClient(h, "g1", "c1", "tv-1")
	payload, _ := json.Marshal(memeTriggerPayload{ItemID: "missing", Trigger: "reaction"})
	h.dispatchInbound(c1, wireMessage{Type: "overlay:meme-trigger", Data: payload})

	if called {
		t.Fatalf("expected job factory not called for an unknown meme-board item")
	}
	if len(sched.preemptJobIDs) != 0 {
		t.Fatalf("expected no preemption for an unknown meme-board item")
	}
}

// TestRoomSizeViaRunLoop runs the hub's real goroutine. Since the test
// client has a nil conn, the context is never cancelled here: Run's
// shutdown path writes a close frame to every registered client, which
// would panic on a nil conn. The goroutine is left to leak for the
// remainder of this (short-lived) test process, same as the hub this
// package's shape is grounded on does for fake-conn client tests.
func TestRoomSizeViaRunLoop(t *testing.T) {
	h, _, _ := newTestHub()
	go h.Run(context.Background())

	c1 := newTestClient(h, "g1", "c1", "tv-1")
	h.register <- c1
	<-c1.send // drain the join broadcast

	if got := h.RoomSize("g1"); got != 1 {
		t.Fatalf("expected room size 1, got %d", got)
	}
	if got := h.RoomSize("g2"); got != 0 {
		t.Fatalf("expected room size 0 for empty guild, got %d", got)
	}

	h.unregister <- c1
	time.Sleep(20 * time.Millisecond)
}
