package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"overlaydispatch/internal/domain"
)

type memeBoardItemDoc struct {
	ID           string    `bson:"_id"`
	GuildID      string    `bson:"guildId"`
	MediaAssetID string    `bson:"mediaAssetId"`
	Label        string    `bson:"label"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func fromMemeBoardItemDoc(doc memeBoardItemDoc) domain.MemeBoardItem {
	return domain.MemeBoardItem{
		ID:           doc.ID,
		GuildID:      doc.GuildID,
		MediaAssetID: doc.MediaAssetID,
		Label:        doc.Label,
		CreatedAt:    doc.CreatedAt,
	}
}

func (r *Repository) GetMemeBoardItem(ctx context.Context, guildID, itemID string) (domain.MemeBoardItem, error) {
	var doc memeBoardItemDoc
	err := r.memeBoard.FindOne(ctx, bson.M{"_id": itemID, "guildId": guildID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.MemeBoardItem{}, domain.ErrNotFound
		}
		return domain.MemeBoardItem{}, err
	}
	return fromMemeBoardItemDoc(doc), nil
}

// FindMemeBoardItemByMediaAsset backs the media-stream tenant-scoped
// access check (spec.md §4.8): a pinned meme-board item grants its
// guild read access to the asset it references.
func (r *Repository) FindMemeBoardItemByMediaAsset(ctx context.Context, guildID, mediaAssetID string) (domain.MemeBoardItem, error) {
	var doc memeBoardItemDoc
	err := r.memeBoard.FindOne(ctx, bson.M{"guildId": guildID, "mediaAssetId": mediaAssetID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.MemeBoardItem{}, domain.ErrNotFound
		}
		return domain.MemeBoardItem{}, err
	}
	return fromMemeBoardItemDoc(doc), nil
}
