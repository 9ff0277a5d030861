package overlayhub

import (
	"context"
	"encoding/json"
	"time"

	"overlaydispatch/internal/domain"
)

type heartbeatPayload struct {
	ClientID   string `json:"clientId"`
	GuildID    string `json:"guildId"`
	AppVersion string `json:"appVersion"`
}

type playbackStatePayload struct {
	JobID       *string `json:"jobId"`
	State       string  `json:"state"`
	RemainingMs *int64  `json:"remainingMs"`
}

type stopPayload struct {
	JobID string `json:"jobId"`
}

type memeTriggerPayload struct {
	ItemID  string `json:"itemId"`
	Trigger string `json:"trigger"`
}

type errorPayload struct {
	JobID   string `json:"jobId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const manualStopSentinel = "manual-stop"

// dispatchInbound decodes and routes a single client -> server event.
// Unknown event types are logged and dropped.
func (h *Hub) dispatchInbound(c *client, msg wireMessage) {
	ctx := context.Background()

	switch msg.Type {
	case "overlay:heartbeat":
		var p heartbeatPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		if err := h.store.TouchOverlayClientLastSeen(ctx, c.clientID, time.Now().UTC()); err != nil {
			h.logger.Warn("overlay hub: heartbeat touch failed", append(logAttr(c), "error", err)...)
		}

	case "overlay:error":
		var p errorPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		h.logger.Warn("overlay client reported error", append(logAttr(c), "jobId", p.JobID, "code", p.Code, "message", p.Message)...)

	case "overlay:playback-state":
		var p playbackStatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		h.handlePlaybackState(c, p)

	case "overlay:stop":
		var p stopPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		if h.sched == nil {
			return
		}
		if p.JobID == manualStopSentinel {
			h.sched.OnManualStop(c.guildID)
			return
		}
		jobID := p.JobID
		h.sched.OnPlaybackStopped(c.guildID, &jobID)

	case "overlay:meme-trigger":
		var p memeTriggerPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		h.handleMemeTrigger(ctx, c, p)

	default:
		h.logger.Warn("overlay hub: unknown inbound event type", append(logAttr(c), "type", msg.Type)...)
	}
}

// handlePlaybackState is a thin seam the scheduler's OnPlaybackState
// callback sits behind so this package stays free of a direct
// scheduler import; main wiring supplies it via SetPlaybackStateFunc.
func (h *Hub) handlePlaybackState(c *client, p playbackStatePayload) {
	if h.onPlaybackState == nil {
		return
	}
	state := normalizePlaybackState(p.State)
	h.onPlaybackState(playbackStateEvent{
		GuildID:     c.guildID,
		JobID:       p.JobID,
		State:       state,
		RemainingMs: p.RemainingMs,
	})
}

func normalizePlaybackState(raw string) string {
	switch raw {
	case "playing", "paused", "ended":
		return raw
	default:
		return "playing"
	}
}

// handleMemeTrigger resolves the meme-board item to its media asset,
// creates a high-priority job, and preempts the current job with it.
func (h *Hub) handleMemeTrigger(ctx context.Context, c *client, p memeTriggerPayload) {
	item, err := h.store.GetMemeBoardItem(ctx, c.guildID, p.ItemID)
	if err != nil {
		h.logger.Warn("overlay hub: meme trigger unknown item", append(logAttr(c), "itemId", p.ItemID, "error", err)...)
		return
	}
	asset, err := h.store.GetMediaAsset(ctx, item.MediaAssetID)
	if err != nil || !asset.Playable() {
		h.logger.Warn("overlay hub: meme trigger asset unavailable", append(logAttr(c), "itemId", p.ItemID)...)
		return
	}
	if h.createMemeJob == nil || h.sched == nil {
		return
	}
	assetID := asset.ID
	durationSec := int64(10)
	if asset.DurationSec != nil && *asset.DurationSec > 0 {
		durationSec = *asset.DurationSec
	}
	job, err := h.createMemeJob(ctx, domain.CreateJobArgs{
		GuildID:      c.guildID,
		MediaAssetID: &assetID,
		Text:         item.Label,
		ShowText:     true,
		DurationSec:  durationSec,
		Priority:     h.memeJobPriority,
	})
	if err != nil {
		h.logger.Warn("overlay hub: meme job create failed", append(logAttr(c), "itemId", p.ItemID, "error", err)...)
		return
	}
	h.sched.PreemptWithJob(c.guildID, job.ID)
}
