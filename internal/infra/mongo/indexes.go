package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	ttlIndexName = "timestamp_ttl"
	// indexOptionsConflict is returned when an index exists under the same name with other options.
	indexOptionsConflict = 85
)

// EnsureIndexes creates the challenge indexes if absent. The TTL index
// expires documents after retention independently of the sweeper; when the
// retention changed since the index was built it is updated in place.
func EnsureIndexes(ctx context.Context, db *mongo.Database, retention time.Duration) error {
	col := db.Collection(ChallengeCollection)

	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}, Options: options.Index().SetName("user_timestamp")},
		{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "timestamp", Value: -1}}, Options: options.Index().SetName("guild_timestamp")},
		{Keys: bson.D{{Key: "category", Value: 1}}, Options: options.Index().SetName("category")},
	})
	if err != nil {
		return fmt.Errorf("create challenge indexes: %w", err)
	}

	expireAfter := int32(retention / time.Second)
	_, err = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "timestamp", Value: 1}},
		Options: options.Index().SetName(ttlIndexName).SetExpireAfterSeconds(expireAfter),
	})
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == indexOptionsConflict {
		slog.Info("updating challenge ttl index", "expire_after_seconds", expireAfter)
		err = db.RunCommand(ctx, bson.D{
			{Key: "collMod", Value: ChallengeCollection},
			{Key: "index", Value: bson.D{
				{Key: "name", Value: ttlIndexName},
				{Key: "expireAfterSeconds", Value: expireAfter},
			}},
		}).Err()
	}
	if err != nil {
		return fmt.Errorf("create challenge ttl index: %w", err)
	}

	slog.Info("mongo indexes ensured", "collection", ChallengeCollection, "ttl_seconds", expireAfter)
	return nil
}
