package event

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "webhook_events"

// MongoRepository implements Repository for MongoDB.
// Relies on the unique (provider, externalEventId) index for idempotency:
// concurrent duplicate deliveries race on Insert and exactly one wins.
type MongoRepository struct {
	db *mongo.Database
}

// NewMongoRepository creates a new MongoDB webhook event repository
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db}
}

func (r *MongoRepository) collection() *mongo.Collection {
	return r.db.Collection(collectionName)
}

// Insert persists a new webhook event
func (r *MongoRepository) Insert(ctx context.Context, ev *WebhookEvent) error {
	_, err := r.collection().InsertOne(ctx, ev)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// FindByExternalID looks up an event by its idempotency key
func (r *MongoRepository) FindByExternalID(ctx context.Context, provider, externalEventID string) (*WebhookEvent, error) {
	filter := bson.M{"provider": provider, "externalEventId": externalEventID}

	var ev WebhookEvent
	err := r.collection().FindOne(ctx, filter).Decode(&ev)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find webhook event by external id: %w", err)
	}
	return &ev, nil
}

// FindByID looks up an event by its ID
func (r *MongoRepository) FindByID(ctx context.Context, id string) (*WebhookEvent, error) {
	var ev WebhookEvent
	err := r.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&ev)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find webhook event: %w", err)
	}
	return &ev, nil
}

// MarkProcessed transitions the event to a terminal status
func (r *MongoRepository) MarkProcessed(ctx context.Context, id string, status Status, processedAt time.Time, lastError string) error {
	set := bson.M{
		"status":      status,
		"processedAt": processedAt,
	}
	if lastError != "" {
		set["lastError"] = lastError
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"attempts": 1},
	}

	result, err := r.collection().UpdateByID(ctx, id, update)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByWorkspaceAndType counts completed events for the metric computer
func (r *MongoRepository) CountByWorkspaceAndType(ctx context.Context, workspaceID, eventType string, since time.Time) (int64, error) {
	filter := bson.M{
		"workspaceId": workspaceID,
		"eventType":   eventType,
		"status":      StatusCompleted,
		"receivedAt":  bson.M{"$gte": since},
	}

	count, err := r.collection().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count webhook events: %w", err)
	}
	return count, nil
}

// FindByWorkspace returns completed events for a workspace since the given time
func (r *MongoRepository) FindByWorkspace(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*WebhookEvent, error) {
	filter := bson.M{
		"workspaceId": workspaceID,
		"status":      StatusCompleted,
		"receivedAt":  bson.M{"$gte": since},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "receivedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find webhook events by workspace: %w", err)
	}
	defer cursor.Close(ctx)

	events := make([]*WebhookEvent, 0)
	for cursor.Next(ctx) {
		var ev WebhookEvent
		if err := cursor.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode webhook event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, cursor.Err()
}
