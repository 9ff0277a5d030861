package scheduler

import (
	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/domain/ports"
)

// buildPlayEvent assembles the wire payload for a dispatched job. The
// rich-text blob, if present, is decoded here so overlays never see
// the opaque encoding.
func (s *Scheduler) buildPlayEvent(job domain.PlaybackJob, asset *domain.MediaAsset, startOffsetSec, durationSec int64) ports.PlayEvent {
	event := ports.PlayEvent{
		JobID:       job.ID,
		DurationSec: durationSec,
		Text:        ports.TextEvent{Enabled: job.ShowText},
	}

	if job.AuthorName != nil {
		event.Author.Name = *job.AuthorName
		event.Author.Enabled = true
	}
	if job.AuthorImage != nil {
		event.Author.Image = *job.AuthorImage
	}

	rt, err := domain.DecodeRichText(job.Text)
	if err != nil {
		rt = domain.RichText{Kind: domain.RichTextPlain, Value: job.Text}
	}
	switch rt.Kind {
	case domain.RichTextTweet:
		event.TweetCard = rt.Tweet
		event.Text.Value = rt.Value
	default:
		event.Text.Value = rt.Value
	}

	if asset != nil {
		event.Media = &ports.MediaEvent{
			AssetID:        asset.ID,
			URL:            mediaURL(s.cfg.APIURL, asset.ID, startOffsetSec),
			Mime:           asset.Mime,
			Kind:           asset.Kind,
			DurationSec:    durationSec,
			IsVertical:     asset.IsVertical,
			StartOffsetSec: startOffsetSec,
		}
	}

	return event
}
