package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hanko-field/storefront/internal/domain"
)

const mongoOrdersCollection = "orders"

// ConnectMongoDB dials uri and verifies the connection with a ping.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

type orderDocument struct {
	ID        string    `bson:"_id"`
	Scope     string    `bson:"scope"`
	Total     string    `bson:"total"`
	CreatedAt time.Time `bson:"created_at"`
	Payload   string    `bson:"payload"`
}

// MongoOrderLog stores orders as documents keyed by their ULID, so _id order is append order.
type MongoOrderLog struct {
	collection *mongo.Collection
}

// NewMongoOrderLog uses the "orders" collection of db.
func NewMongoOrderLog(db *mongo.Database) *MongoOrderLog {
	return &MongoOrderLog{collection: db.Collection(mongoOrdersCollection)}
}

// EnsureIndexes creates the scope index used by List.
func (m *MongoOrderLog) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "scope", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

// Append inserts order; a reused id yields ErrDuplicateOrder.
func (m *MongoOrderLog) Append(ctx context.Context, scope string, order domain.PersistedOrder) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	payload, err := encodeOrder(order)
	if err != nil {
		return err
	}
	doc := orderDocument{
		ID:        order.ID,
		Scope:     scope,
		Total:     order.Capture.CapturedAmount.String(),
		CreatedAt: order.CreatedAt.UTC(),
		Payload:   string(payload),
	}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// List returns the scope's orders sorted by id.
func (m *MongoOrderLog) List(ctx context.Context, scope string) ([]domain.PersistedOrder, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return nil, err
	}
	cursor, err := m.collection.Find(ctx, bson.M{"scope": scope}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	orders := make([]domain.PersistedOrder, 0, len(docs))
	for _, doc := range docs {
		order, err := decodeOrder([]byte(doc.Payload))
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
