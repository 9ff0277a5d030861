package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository is the Store implementation backed by MongoDB. It owns one
// collection per entity, mirroring the domain's five-entity model.
type Repository struct {
	jobs          *mongo.Collection
	guilds        *mongo.Collection
	mediaAssets   *mongo.Collection
	overlayClients *mongo.Collection
	memeBoard     *mongo.Collection
}

func NewRepository(client *mongo.Client, dbName string) *Repository {
	db := client.Database(dbName)
	return &Repository{
		jobs:           db.Collection("jobs"),
		guilds:         db.Collection("guilds"),
		mediaAssets:    db.Collection("media_assets"),
		overlayClients: db.Collection("overlay_clients"),
		memeBoard:      db.Collection("meme_board_items"),
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "guildId", Value: 1}, {Key: "status", Value: 1}, {Key: "finishedAt", Value: 1}}},
		{Keys: bson.D{{Key: "guildId", Value: 1}, {Key: "status", Value: 1}, {Key: "resumesAfterJobId", Value: 1}}},
		{Keys: bson.D{{Key: "guildId", Value: 1}, {Key: "status", Value: 1}, {Key: "executionDate", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := r.mediaAssets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sourceHash", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := r.overlayClients.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tokenHash", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := r.memeBoard.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "guildId", Value: 1}, {Key: "mediaAssetId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	return nil
}
