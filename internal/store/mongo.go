package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// immutableFields can never be modified through UpdateFields
var immutableFields = map[string]struct{}{
	"address":  {},
	"decimals": {},
	"_id":      {},
}

// MongoTokenStore implements TokenStore on a MongoDB collection
type MongoTokenStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoConfig contains MongoDB connection settings
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// NewMongoTokenStore connects to MongoDB and ensures the unique
// address index exists.
func NewMongoTokenStore(ctx context.Context, cfg MongoConfig) (*MongoTokenStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "address", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create address index: %w", err)
	}

	return &MongoTokenStore{
		client:     client,
		collection: collection,
	}, nil
}

func (s *MongoTokenStore) FindByAddress(ctx context.Context, address string) (*DiscoveredToken, error) {
	var token DiscoveredToken
	err := s.collection.FindOne(ctx, bson.M{"address": address}).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find token %s: %w", address, err)
	}
	return &token, nil
}

func (s *MongoTokenStore) Exists(ctx context.Context, address string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"address": address},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count token %s: %w", address, err)
	}
	return count > 0, nil
}

func (s *MongoTokenStore) FindByLaunchDateRange(ctx context.Context, from, to time.Time, limit int) ([]DiscoveredToken, error) {
	filter := bson.M{
		"launchDate": bson.M{
			"$gte": from,
			"$lt":  to,
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "launchDate", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find tokens by date range: %w", err)
	}
	defer cursor.Close(ctx)

	var tokens []DiscoveredToken
	if err := cursor.All(ctx, &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	return tokens, nil
}

func (s *MongoTokenStore) Insert(ctx context.Context, token *DiscoveredToken) error {
	now := time.Now().UTC()
	token.CreatedAt = now
	token.UpdatedAt = now

	if _, err := s.collection.InsertOne(ctx, token); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("token %s: %w", token.Address, ErrAlreadyExists)
		}
		return fmt.Errorf("insert token %s: %w", token.Address, err)
	}
	return nil
}

func (s *MongoTokenStore) UpdateFields(ctx context.Context, address string, fields map[string]interface{}) error {
	set := bson.M{}
	for key, value := range fields {
		if _, immutable := immutableFields[key]; immutable {
			continue
		}
		set[key] = value
	}
	if len(set) == 0 {
		return nil
	}
	set["updatedAt"] = time.Now().UTC()

	result, err := s.collection.UpdateOne(ctx,
		bson.M{"address": address},
		bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update token %s: %w", address, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("token %s not found", address)
	}
	return nil
}

func (s *MongoTokenStore) UpdateStatus(ctx context.Context, address string, status TokenStatus) error {
	token, err := s.FindByAddress(ctx, address)
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("token %s not found", address)
	}
	if !CanTransition(token.Status, status) {
		return fmt.Errorf("invalid status transition %s -> %s for %s", token.Status, status, address)
	}
	if token.Status == status {
		return nil
	}
	return s.UpdateFields(ctx, address, map[string]interface{}{"status": string(status)})
}

func (s *MongoTokenStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoTokenStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
