package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"overlaydispatch/internal/domain"
)

type overlayClientDoc struct {
	ID          string     `bson:"_id"`
	GuildID     string     `bson:"guildId"`
	Label       string     `bson:"label"`
	TokenHash   string     `bson:"tokenHash"`
	RevokedAt   *time.Time `bson:"revokedAt,omitempty"`
	LastSeenAt  *time.Time `bson:"lastSeenAt,omitempty"`
	AuthorName  string     `bson:"authorName,omitempty"`
	AuthorImage string     `bson:"authorImage,omitempty"`
}

func toOverlayClientDoc(c domain.OverlayClient) overlayClientDoc {
	doc := overlayClientDoc{
		ID:         c.ID,
		GuildID:    c.GuildID,
		Label:      c.Label,
		TokenHash:  c.TokenHash,
		RevokedAt:  c.RevokedAt,
		LastSeenAt: c.LastSeenAt,
	}
	if c.AuthorName != nil {
		doc.AuthorName = *c.AuthorName
	}
	if c.AuthorImage != nil {
		doc.AuthorImage = *c.AuthorImage
	}
	return doc
}

func fromOverlayClientDoc(doc overlayClientDoc) domain.OverlayClient {
	c := domain.OverlayClient{
		ID:         doc.ID,
		GuildID:    doc.GuildID,
		Label:      doc.Label,
		TokenHash:  doc.TokenHash,
		RevokedAt:  doc.RevokedAt,
		LastSeenAt: doc.LastSeenAt,
	}
	if doc.AuthorName != "" {
		v := doc.AuthorName
		c.AuthorName = &v
	}
	if doc.AuthorImage != "" {
		v := doc.AuthorImage
		c.AuthorImage = &v
	}
	return c
}

func (r *Repository) GetOverlayClientByTokenHash(ctx context.Context, tokenHash string) (domain.OverlayClient, error) {
	var doc overlayClientDoc
	err := r.overlayClients.FindOne(ctx, bson.M{"tokenHash": tokenHash}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.OverlayClient{}, domain.ErrNotFound
		}
		return domain.OverlayClient{}, err
	}
	return fromOverlayClientDoc(doc), nil
}

func (r *Repository) CreateOverlayClient(ctx context.Context, c domain.OverlayClient) error {
	_, err := r.overlayClients.InsertOne(ctx, toOverlayClientDoc(c))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *Repository) RevokeOverlayClients(ctx context.Context, guildID, label string) error {
	now := time.Now().UTC()
	_, err := r.overlayClients.UpdateMany(ctx,
		bson.M{"guildId": guildID, "label": label, "revokedAt": nil},
		bson.M{"$set": bson.M{"revokedAt": now}},
	)
	return err
}

func (r *Repository) TouchOverlayClientLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.overlayClients.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"lastSeenAt": at}},
	)
	return err
}
