package domain

import "time"

// OverlayClient is a pairing record: one authenticated display endpoint
// subscribed to its tenant's overlay room.
type OverlayClient struct {
	ID          string
	GuildID     string
	Label       string
	TokenHash   string // sha256(token), hex-encoded
	RevokedAt   *time.Time
	LastSeenAt  *time.Time
	AuthorName  *string
	AuthorImage *string
}

func (c OverlayClient) Revoked() bool {
	return c.RevokedAt != nil
}

// MemeBoardItem references a pinned MediaAsset the meme-board surface
// exposes for preemption triggers. Curation of the board itself is out
// of scope; the scheduler only resolves an item's media.
type MemeBoardItem struct {
	ID           string
	GuildID      string
	MediaAssetID string
	Label        string
	CreatedAt    time.Time
}
