package mongo

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexDefinition defines a MongoDB index
type IndexDefinition struct {
	Collection string
	Keys       bson.D
	Options    *options.IndexOptions
}

// IndexInitializer creates indexes on startup
type IndexInitializer struct {
	client *Client
}

// NewIndexInitializer creates a new index initializer
func NewIndexInitializer(client *Client) *IndexInitializer {
	return &IndexInitializer{client: client}
}

// Initialize creates all required indexes
func (i *IndexInitializer) Initialize(ctx context.Context) error {
	indexes := i.getIndexDefinitions()

	for _, idx := range indexes {
		if err := i.createIndex(ctx, idx); err != nil {
			slog.Warn("Failed to create index (may already exist)",
				"error", err,
				"collection", idx.Collection)
		}
	}

	slog.Info("Index initialization complete", "count", len(indexes))
	return nil
}

func (i *IndexInitializer) createIndex(ctx context.Context, idx IndexDefinition) error {
	collection := i.client.Collection(idx.Collection)

	indexModel := mongo.IndexModel{
		Keys:    idx.Keys,
		Options: idx.Options,
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

func (i *IndexInitializer) getIndexDefinitions() []IndexDefinition {
	return []IndexDefinition{
		// webhook_events: (provider, externalEventId) is the idempotency key
		{
			Collection: "webhook_events",
			Keys:       bson.D{{Key: "provider", Value: 1}, {Key: "externalEventId", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		{
			Collection: "webhook_events",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "receivedAt", Value: 1}},
		},

		// anomalies: queried by workspace + metric, newest first
		{
			Collection: "anomalies",
			Keys:       bson.D{{Key: "workspaceId", Value: 1}, {Key: "metricName", Value: 1}, {Key: "timestamp", Value: -1}},
		},

		// webhook_endpoints: active endpoints filtered by event type
		{
			Collection: "webhook_endpoints",
			Keys:       bson.D{{Key: "isActive", Value: 1}, {Key: "events", Value: 1}},
		},

		// webhook_deliveries: retry scheduler polls by status + nextRetryAt
		{
			Collection: "webhook_deliveries",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "nextRetryAt", Value: 1}},
		},
		{
			Collection: "webhook_deliveries",
			Keys:       bson.D{{Key: "endpointId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	}
}
