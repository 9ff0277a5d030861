package domain

import "time"

type MediaKind string

const (
	MediaKindImage MediaKind = "IMAGE"
	MediaKindAudio MediaKind = "AUDIO"
	MediaKindVideo MediaKind = "VIDEO"
)

type MediaAssetStatus string

const (
	MediaAssetProcessing MediaAssetStatus = "PROCESSING"
	MediaAssetReady      MediaAssetStatus = "READY"
	MediaAssetFailed     MediaAssetStatus = "FAILED"
)

// MediaAsset is produced by ingestion/transcoding, which is out of this
// service's scope; the scheduler only ever reads a READY asset by id.
type MediaAsset struct {
	ID             string
	SourceHash     string
	SourceURL      string
	Kind           MediaKind
	Mime           string
	DurationSec    *int64
	Width          int
	Height         int
	IsVertical     bool
	SizeBytes      int64
	StoragePath    string
	Status         MediaAssetStatus
	ExpiresAt      *time.Time
	LastAccessedAt *time.Time
}

func (m MediaAsset) Playable() bool {
	return m.Status == MediaAssetReady
}
