package execlog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/andrejvysny/spendly-sub003/internal/rules"
)

// Repository persists the append-only execution log. Entries are never
// updated after insertion.
type Repository interface {
	Record(ctx context.Context, entries []rules.ExecutionLogEntry) error
	ListByRule(ctx context.Context, userID, ruleID int64, limit int64) ([]rules.ExecutionLogEntry, error)
	ListByTransaction(ctx context.Context, userID, transactionID int64, limit int64) ([]rules.ExecutionLogEntry, error)
	Stats(ctx context.Context, userID, ruleID int64) (*RuleStats, error)
}

// RuleStats aggregates a rule's execution history for the management UI.
type RuleStats struct {
	RuleID        int64      `json:"rule_id"`
	Evaluations   int64      `json:"evaluations"`
	Matches       int64      `json:"matches"`
	MatchRate     float64    `json:"match_rate"`
	LastMatchedAt *time.Time `json:"last_matched_at,omitempty"`
}

const collectionName = "rule_execution_logs"

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	return &MongoRepository{
		collection: client.Database(database).Collection(collectionName),
	}
}

func (r *MongoRepository) Record(ctx context.Context, entries []rules.ExecutionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, len(entries))
	for i, entry := range entries {
		docs[i] = entry
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert execution log entries: %w", err)
	}
	return nil
}

func (r *MongoRepository) ListByRule(ctx context.Context, userID, ruleID int64, limit int64) ([]rules.ExecutionLogEntry, error) {
	filter := bson.M{"user_id": userID, "rule_id": ruleID}
	return r.list(ctx, filter, limit)
}

func (r *MongoRepository) ListByTransaction(ctx context.Context, userID, transactionID int64, limit int64) ([]rules.ExecutionLogEntry, error) {
	filter := bson.M{"user_id": userID, "transaction_id": transactionID}
	return r.list(ctx, filter, limit)
}

func (r *MongoRepository) list(ctx context.Context, filter bson.M, limit int64) ([]rules.ExecutionLogEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []rules.ExecutionLogEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode execution logs: %w", err)
	}
	return entries, nil
}

func (r *MongoRepository) Stats(ctx context.Context, userID, ruleID int64) (*RuleStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID, "rule_id": ruleID}}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$rule_id",
			"evaluations": bson.M{"$sum": 1},
			"matches": bson.M{"$sum": bson.M{
				"$cond": bson.A{"$matched", 1, 0},
			}},
			"last_matched_at": bson.M{"$max": bson.M{
				"$cond": bson.A{"$matched", "$created_at", nil},
			}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate rule stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Evaluations   int64      `bson:"evaluations"`
		Matches       int64      `bson:"matches"`
		LastMatchedAt *time.Time `bson:"last_matched_at"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode rule stats: %w", err)
	}

	stats := &RuleStats{RuleID: ruleID}
	if len(results) > 0 {
		stats.Evaluations = results[0].Evaluations
		stats.Matches = results[0].Matches
		stats.LastMatchedAt = results[0].LastMatchedAt
		if stats.Evaluations > 0 {
			stats.MatchRate = float64(stats.Matches) / float64(stats.Evaluations)
		}
	}
	return stats, nil
}

// NoopRepository is used when MongoDB is not configured; the engine still
// runs, only the audit trail is dropped.
type NoopRepository struct{}

func (NoopRepository) Record(ctx context.Context, entries []rules.ExecutionLogEntry) error {
	return nil
}

func (NoopRepository) ListByRule(ctx context.Context, userID, ruleID int64, limit int64) ([]rules.ExecutionLogEntry, error) {
	return nil, nil
}

func (NoopRepository) ListByTransaction(ctx context.Context, userID, transactionID int64, limit int64) ([]rules.ExecutionLogEntry, error) {
	return nil, nil
}

func (NoopRepository) Stats(ctx context.Context, userID, ruleID int64) (*RuleStats, error) {
	return &RuleStats{RuleID: ruleID}, nil
}
