package anomaly

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "anomalies"

// MongoRepository implements Repository for MongoDB
type MongoRepository struct {
	db *mongo.Database
}

// NewMongoRepository creates a new MongoDB anomaly repository
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db}
}

func (r *MongoRepository) collection() *mongo.Collection {
	return r.db.Collection(collectionName)
}

// Insert persists a new anomaly record
func (r *MongoRepository) Insert(ctx context.Context, rec *Record) error {
	if _, err := r.collection().InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert anomaly record: %w", err)
	}
	return nil
}

// FindByID looks up a record by its ID
func (r *MongoRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := r.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find anomaly record: %w", err)
	}
	return &rec, nil
}

// FindByWorkspace returns records for a workspace since the given time
func (r *MongoRepository) FindByWorkspace(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*Record, error) {
	filter := bson.M{
		"workspaceId": workspaceID,
		"detectedAt":  bson.M{"$gte": since},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "detectedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find anomaly records: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]*Record, 0)
	for cursor.Next(ctx) {
		var rec Record
		if err := cursor.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode anomaly record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, cursor.Err()
}
