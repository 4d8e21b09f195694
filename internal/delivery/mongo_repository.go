package delivery

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	endpointCollection = "webhook_endpoints"
	deliveryCollection = "webhook_deliveries"
)

// MongoEndpointRepository implements EndpointRepository for MongoDB
type MongoEndpointRepository struct {
	db *mongo.Database
}

// NewMongoEndpointRepository creates a new MongoDB endpoint repository
func NewMongoEndpointRepository(db *mongo.Database) *MongoEndpointRepository {
	return &MongoEndpointRepository{db: db}
}

func (r *MongoEndpointRepository) collection() *mongo.Collection {
	return r.db.Collection(endpointCollection)
}

// Insert persists a new endpoint
func (r *MongoEndpointRepository) Insert(ctx context.Context, e *WebhookEndpoint) error {
	if _, err := r.collection().InsertOne(ctx, e); err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// FindByID looks up an endpoint
func (r *MongoEndpointRepository) FindByID(ctx context.Context, id string) (*WebhookEndpoint, error) {
	var e WebhookEndpoint
	err := r.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("find webhook endpoint: %w", err)
	}
	return &e, nil
}

// FindActiveByEvent returns active endpoints subscribed to the event type
func (r *MongoEndpointRepository) FindActiveByEvent(ctx context.Context, workspaceID, eventType string) ([]*WebhookEndpoint, error) {
	filter := bson.M{
		"workspaceId": workspaceID,
		"isActive":    true,
		"events":      bson.M{"$in": bson.A{eventType, "*"}},
	}

	cursor, err := r.collection().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find webhook endpoints by event: %w", err)
	}
	defer cursor.Close(ctx)

	endpoints := make([]*WebhookEndpoint, 0)
	for cursor.Next(ctx) {
		var e WebhookEndpoint
		if err := cursor.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, &e)
	}
	return endpoints, cursor.Err()
}

// Update replaces a stored endpoint
func (r *MongoEndpointRepository) Update(ctx context.Context, e *WebhookEndpoint) error {
	result, err := r.collection().ReplaceOne(ctx, bson.M{"_id": e.ID}, e)
	if err != nil {
		return fmt.Errorf("update webhook endpoint: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// MongoDeliveryRepository implements DeliveryRepository for MongoDB
type MongoDeliveryRepository struct {
	db *mongo.Database
}

// NewMongoDeliveryRepository creates a new MongoDB delivery repository
func NewMongoDeliveryRepository(db *mongo.Database) *MongoDeliveryRepository {
	return &MongoDeliveryRepository{db: db}
}

func (r *MongoDeliveryRepository) collection() *mongo.Collection {
	return r.db.Collection(deliveryCollection)
}

// Insert persists a new delivery
func (r *MongoDeliveryRepository) Insert(ctx context.Context, d *WebhookDelivery) error {
	if _, err := r.collection().InsertOne(ctx, d); err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// FindByID looks up a delivery
func (r *MongoDeliveryRepository) FindByID(ctx context.Context, id string) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := r.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("find webhook delivery: %w", err)
	}
	return &d, nil
}

// Update replaces a stored delivery
func (r *MongoDeliveryRepository) Update(ctx context.Context, d *WebhookDelivery) error {
	result, err := r.collection().ReplaceOne(ctx, bson.M{"_id": d.ID}, d)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// FindDue returns retrying deliveries whose nextRetryAt has passed
func (r *MongoDeliveryRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*WebhookDelivery, error) {
	filter := bson.M{
		"status":      StatusRetrying,
		"nextRetryAt": bson.M{"$lte": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "nextRetryAt", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find due webhook deliveries: %w", err)
	}
	defer cursor.Close(ctx)

	deliveries := make([]*WebhookDelivery, 0)
	for cursor.Next(ctx) {
		var d WebhookDelivery
		if err := cursor.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode webhook delivery: %w", err)
		}
		deliveries = append(deliveries, &d)
	}
	return deliveries, cursor.Err()
}

// CountPending counts deliveries not yet in a terminal status
func (r *MongoDeliveryRepository) CountPending(ctx context.Context) (int64, error) {
	filter := bson.M{"status": bson.M{"$in": bson.A{StatusPending, StatusRetrying}}}

	count, err := r.collection().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count pending webhook deliveries: %w", err)
	}
	return count, nil
}
