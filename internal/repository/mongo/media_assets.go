package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"overlaydispatch/internal/domain"
)

type mediaAssetDoc struct {
	ID             string     `bson:"_id"`
	SourceHash     string     `bson:"sourceHash"`
	SourceURL      string     `bson:"sourceUrl"`
	Kind           string     `bson:"kind"`
	Mime           string     `bson:"mime"`
	DurationSec    *int64     `bson:"durationSec,omitempty"`
	Width          int        `bson:"width"`
	Height         int        `bson:"height"`
	IsVertical     bool       `bson:"isVertical"`
	SizeBytes      int64      `bson:"sizeBytes"`
	StoragePath    string     `bson:"storagePath"`
	Status         string     `bson:"status"`
	ExpiresAt      *time.Time `bson:"expiresAt,omitempty"`
	LastAccessedAt *time.Time `bson:"lastAccessedAt,omitempty"`
}

func fromMediaAssetDoc(doc mediaAssetDoc) domain.MediaAsset {
	return domain.MediaAsset{
		ID:             doc.ID,
		SourceHash:     doc.SourceHash,
		SourceURL:      doc.SourceURL,
		Kind:           domain.MediaKind(doc.Kind),
		Mime:           doc.Mime,
		DurationSec:    doc.DurationSec,
		Width:          doc.Width,
		Height:         doc.Height,
		IsVertical:     doc.IsVertical,
		SizeBytes:      doc.SizeBytes,
		StoragePath:    doc.StoragePath,
		Status:         domain.MediaAssetStatus(doc.Status),
		ExpiresAt:      doc.ExpiresAt,
		LastAccessedAt: doc.LastAccessedAt,
	}
}

func (r *Repository) GetMediaAsset(ctx context.Context, id string) (domain.MediaAsset, error) {
	var doc mediaAssetDoc
	err := r.mediaAssets.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.MediaAsset{}, domain.ErrNotFound
		}
		return domain.MediaAsset{}, err
	}
	return fromMediaAssetDoc(doc), nil
}

// pinnedMediaAssetExpiry is the 100-year expiry horizon of a MediaAsset
// referenced by a MemeBoardItem. No code in this package writes it;
// DeleteExpiredUnpinnedMedia skips referenced assets by id whatever
// their expiresAt.
const pinnedMediaAssetExpiry = 100 * 365 * 24 * time.Hour

func (r *Repository) DeleteExpiredUnpinnedMedia(ctx context.Context, now time.Time) (int64, error) {
	cursor, err := r.memeBoard.Distinct(ctx, "mediaAssetId", bson.M{})
	if err != nil {
		return 0, err
	}
	pinned := make(bson.A, 0, len(cursor))
	pinned = append(pinned, cursor...)

	filter := bson.M{
		"expiresAt": bson.M{"$lt": now},
		"_id":       bson.M{"$nin": pinned},
	}
	res, err := r.mediaAssets.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
