// services/payment-gateway/internal/audit/mongo_recorder.go
package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Receipt is one inbound confirmation as it was handled. It holds no key
// material and no ciphertext.
type Receipt struct {
	Channel        string         `bson:"channel" json:"channel"`
	Fingerprint    string         `bson:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	TradeReference string         `bson:"trade_reference,omitempty" json:"trade_reference,omitempty"`
	TransactionID  string         `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	Verified       bool           `bson:"verified" json:"verified"`
	Outcome        string         `bson:"outcome" json:"outcome"`
	Reason         string         `bson:"reason,omitempty" json:"reason,omitempty"`
	Payload        map[string]any `bson:"payload,omitempty" json:"payload,omitempty"`
	ReceivedAt     time.Time      `bson:"received_at" json:"received_at"`
}

// MongoRecorder archives receipts to a MongoDB collection.
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoRecorder(ctx context.Context, uri, database, collection string) (*MongoRecorder, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "trade_reference", Value: 1}}},
		{Keys: bson.D{{Key: "transaction_id", Value: 1}, {Key: "received_at", Value: -1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create receipt indexes: %w", err)
	}

	return &MongoRecorder{client: client, collection: coll}, nil
}

func (r *MongoRecorder) Record(ctx context.Context, receipt Receipt) error {
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now().UTC()
	}
	if _, err := r.collection.InsertOne(ctx, receipt); err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ByTransaction returns the newest receipts for a transaction first.
func (r *MongoRecorder) ByTransaction(ctx context.Context, transactionID string, limit int64) ([]Receipt, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}}).SetLimit(limit)
	cur, err := r.collection.Find(ctx, bson.D{{Key: "transaction_id", Value: transactionID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find receipts: %w", err)
	}
	defer cur.Close(ctx)

	var receipts []Receipt
	if err := cur.All(ctx, &receipts); err != nil {
		return nil, fmt.Errorf("decode receipts: %w", err)
	}
	return receipts, nil
}

func (r *MongoRecorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// NopRecorder discards receipts.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Receipt) error { return nil }
func (NopRecorder) Close(context.Context) error           { return nil }

func (NopRecorder) ByTransaction(context.Context, string, int64) ([]Receipt, error) {
	return nil, nil
}
