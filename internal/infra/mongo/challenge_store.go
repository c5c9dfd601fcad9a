package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"prompt-coach/internal/domain"
)

// ChallengeCollection holds one document per challenge with solutions embedded.
const ChallengeCollection = "challenge_history"

type challengeDocument struct {
	ID          bson.ObjectID     `bson:"_id,omitempty"`
	GuildID     string            `bson:"guild_id"`
	UserID      string            `bson:"user_id,omitempty"`
	Title       string            `bson:"title"`
	Description string            `bson:"description"`
	Tips        []string          `bson:"tips"`
	Category    string            `bson:"category"`
	Difficulty  int               `bson:"difficulty,omitempty"`
	Behavior    map[string]any    `bson:"behavior,omitempty"`
	Timestamp   time.Time         `bson:"timestamp"`
	Solutions   []domain.Solution `bson:"solutions"`
}

func toDocument(c domain.Challenge) challengeDocument {
	solutions := c.Solutions
	if solutions == nil {
		solutions = []domain.Solution{}
	}
	return challengeDocument{
		GuildID:     c.GuildID,
		UserID:      c.CreatedBy,
		Title:       c.Title,
		Description: c.Description,
		Tips:        c.Tips,
		Category:    c.Category,
		Difficulty:  c.Difficulty,
		Behavior:    c.Behavior,
		Timestamp:   c.Timestamp,
		Solutions:   solutions,
	}
}

func (d challengeDocument) toDomain() domain.Challenge {
	return domain.Challenge{
		ID:          d.ID.Hex(),
		GuildID:     d.GuildID,
		CreatedBy:   d.UserID,
		Title:       d.Title,
		Description: d.Description,
		Tips:        d.Tips,
		Category:    d.Category,
		Difficulty:  d.Difficulty,
		Behavior:    d.Behavior,
		Timestamp:   d.Timestamp,
		Solutions:   d.Solutions,
	}
}

// ChallengeStore implements app.ChallengeRepository on MongoDB.
type ChallengeStore struct {
	col *mongo.Collection
}

func NewChallengeStore(db *mongo.Database) *ChallengeStore {
	return &ChallengeStore{col: db.Collection(ChallengeCollection)}
}

func (s *ChallengeStore) Insert(ctx context.Context, challenge domain.Challenge) (string, error) {
	res, err := s.col.InsertOne(ctx, toDocument(challenge))
	if err != nil {
		return "", fmt.Errorf("insert challenge: %w: %w", domain.ErrStorage, err)
	}
	id, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert challenge: %w: unexpected id type %T", domain.ErrStorage, res.InsertedID)
	}
	return id.Hex(), nil
}

// PushSolution appends with a single $push so concurrent submissions never overwrite each other.
func (s *ChallengeStore) PushSolution(ctx context.Context, challengeID string, solution domain.Solution) (string, error) {
	oid, err := bson.ObjectIDFromHex(challengeID)
	if err != nil {
		return "", fmt.Errorf("challenge %q: %w", challengeID, domain.ErrNotFound)
	}

	var owner struct {
		GuildID string `bson:"guild_id"`
	}
	err = s.col.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{"solutions": solution}},
		options.FindOneAndUpdate().SetProjection(bson.M{"guild_id": 1}),
	).Decode(&owner)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", fmt.Errorf("challenge %q: %w", challengeID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("push solution: %w: %w", domain.ErrStorage, err)
	}
	return owner.GuildID, nil
}

func (s *ChallengeStore) LatestSince(ctx context.Context, guildID string, since time.Time) (domain.Challenge, error) {
	var doc challengeDocument
	err := s.col.FindOne(ctx,
		bson.M{"guild_id": guildID, "timestamp": bson.M{"$gt": since}},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Challenge{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("find active challenge: %w: %w", domain.ErrStorage, err)
	}
	return doc.toDomain(), nil
}

func (s *ChallengeStore) Solutions(ctx context.Context, challengeID string, limit, offset int) ([]domain.Solution, error) {
	oid, err := bson.ObjectIDFromHex(challengeID)
	if err != nil {
		return []domain.Solution{}, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: oid}}}},
		{{Key: "$unwind", Value: "$solutions"}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$solutions"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
		{{Key: "$skip", Value: int64(offset)}},
		{{Key: "$limit", Value: int64(limit)}},
	}
	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate solutions: %w: %w", domain.ErrStorage, err)
	}
	defer cur.Close(ctx)

	solutions := make([]domain.Solution, 0, limit)
	if err := cur.All(ctx, &solutions); err != nil {
		return nil, fmt.Errorf("decode solutions: %w: %w", domain.ErrStorage, err)
	}
	return solutions, nil
}

// DeleteBefore removes challenges, and with them their solutions, older than cutoff.
func (s *ChallengeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w: %w", domain.ErrStorage, err)
	}
	return res.DeletedCount, nil
}
