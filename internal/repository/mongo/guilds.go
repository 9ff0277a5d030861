package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"overlaydispatch/internal/domain"
)

type guildDoc struct {
	ID               string     `bson:"_id"`
	BusyUntil        *time.Time `bson:"busyUntil,omitempty"`
	DefaultMediaTime int64      `bson:"defaultMediaTime"`
	MaxMediaTime     *int64     `bson:"maxMediaTime,omitempty"`
}

func fromGuildDoc(doc guildDoc) domain.Guild {
	return domain.Guild{
		ID:               doc.ID,
		BusyUntil:        doc.BusyUntil,
		DefaultMediaTime: doc.DefaultMediaTime,
		MaxMediaTime:     doc.MaxMediaTime,
	}
}

// GetGuild returns the guild row, creating a default one on first
// access so callers never have to special-case "tenant unknown".
func (r *Repository) GetGuild(ctx context.Context, guildID string) (domain.Guild, error) {
	var doc guildDoc
	err := r.guilds.FindOne(ctx, bson.M{"_id": guildID}).Decode(&doc)
	if err == nil {
		return fromGuildDoc(doc), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Guild{}, err
	}

	doc = guildDoc{ID: guildID, DefaultMediaTime: 10}
	if _, insertErr := r.guilds.InsertOne(ctx, doc); insertErr != nil && !mongo.IsDuplicateKeyError(insertErr) {
		return domain.Guild{}, insertErr
	}
	return fromGuildDoc(doc), nil
}

func (r *Repository) UpsertGuildBusyUntil(ctx context.Context, guildID string, busyUntil *time.Time) error {
	opts := options.Update().SetUpsert(true)
	_, err := r.guilds.UpdateOne(ctx,
		bson.M{"_id": guildID},
		bson.M{"$set": bson.M{"busyUntil": busyUntil}},
		opts,
	)
	return err
}

// ListGuildIDsWithNonTerminalJobs enumerates tenants that have at
// least one PENDING or PLAYING job, for Bootstrap to re-arm.
func (r *Repository) ListGuildIDsWithNonTerminalJobs(ctx context.Context) ([]string, error) {
	ids, err := r.jobs.Distinct(ctx, "guildId", bson.M{
		"status": bson.M{"$in": bson.A{string(domain.JobPending), string(domain.JobPlaying)}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := id.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}
