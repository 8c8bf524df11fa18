package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/maltedev/uniscrape/internal/models"
)

const (
	wishlistCollection     = "wishlists"
	subscriptionCollection = "watcher_subscriptions"
	historyCollection      = "search_history"

	DefaultMongoDatabase = "uniscrape"
)

type wishlistDoc struct {
	UserID string        `bson:"_id"`
	Books  []models.Book `bson:"books"`
}

type historyDoc struct {
	UserID string   `bson:"_id"`
	Terms  []string `bson:"terms"`
}

// Mongo stores one document per user in each collection; subscriptions are
// one document each with a unique (user_id, email) index.
type Mongo struct {
	client        *mongo.Client
	wishlists     *mongo.Collection
	subscriptions *mongo.Collection
	history       *mongo.Collection
	logger        *slog.Logger
}

func NewMongo(ctx context.Context, cfg Config, logger *slog.Logger) (*Mongo, error) {
	if cfg.MongoURI == "" {
		return nil, storageErr("open mongo", errors.New("connection string is required"))
	}
	dbName := cfg.MongoDatabase
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}

	clientOptions := options.Client().ApplyURI(cfg.MongoURI)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.MaxConns > 0 {
		clientOptions.SetMaxPoolSize(uint64(cfg.MaxConns))
	}
	if cfg.MaxConnIdle > 0 {
		clientOptions.SetMaxConnIdleTime(cfg.MaxConnIdle)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, storageErr("open mongo", fmt.Errorf("failed to connect: %w", err))
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, storageErr("open mongo", fmt.Errorf("failed to ping: %w", err))
	}

	db := client.Database(dbName)
	m := &Mongo{
		client:        client,
		wishlists:     db.Collection(wishlistCollection),
		subscriptions: db.Collection(subscriptionCollection),
		history:       db.Collection(historyCollection),
		logger:        logger.With("component", "store"),
	}

	_, err = m.subscriptions.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_email_unique"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, storageErr("open mongo", fmt.Errorf("failed to create index: %w", err))
	}

	m.logger.Info("mongo store ready", "database", dbName)
	return m, nil
}

func (m *Mongo) Wishlist(ctx context.Context, userID string) ([]models.Book, error) {
	var doc wishlistDoc
	err := m.wishlists.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []models.Book{}, nil
	}
	if err != nil {
		return nil, storageErr("read wishlist", err)
	}
	if doc.Books == nil {
		doc.Books = []models.Book{}
	}
	return doc.Books, nil
}

func (m *Mongo) SaveWishlist(ctx context.Context, userID string, books []models.Book) error {
	if books == nil {
		books = []models.Book{}
	}
	_, err := m.wishlists.ReplaceOne(ctx,
		bson.M{"_id": userID},
		wishlistDoc{UserID: userID, Books: books},
		options.Replace().SetUpsert(true))
	if err != nil {
		return storageErr("save wishlist", err)
	}
	return nil
}

func (m *Mongo) Subscriptions(ctx context.Context) ([]models.Subscription, error) {
	subs, err := m.findSubscriptions(ctx, bson.M{})
	if err != nil {
		return nil, storageErr("list subscriptions", err)
	}
	return subs, nil
}

func (m *Mongo) UserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	subs, err := m.findSubscriptions(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, storageErr("list user subscriptions", err)
	}
	return subs, nil
}

func (m *Mongo) AddSubscription(ctx context.Context, sub models.Subscription) error {
	filter := bson.M{"user_id": sub.UserID, "email": sub.Email}
	_, err := m.subscriptions.UpdateOne(ctx, filter,
		bson.M{"$setOnInsert": filter},
		options.Update().SetUpsert(true))
	if err != nil {
		return storageErr("add subscription", err)
	}
	return nil
}

func (m *Mongo) RemoveSubscription(ctx context.Context, userID, email string) (bool, error) {
	res, err := m.subscriptions.DeleteOne(ctx, bson.M{"user_id": userID, "email": email})
	if err != nil {
		return false, storageErr("remove subscription", err)
	}
	return res.DeletedCount > 0, nil
}

func (m *Mongo) SearchHistory(ctx context.Context, userID string) ([]string, error) {
	var doc historyDoc
	err := m.history.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []string{}, nil
	}
	if err != nil {
		return nil, storageErr("read search history", err)
	}
	if doc.Terms == nil {
		doc.Terms = []string{}
	}
	return doc.Terms, nil
}

func (m *Mongo) SaveSearchHistory(ctx context.Context, userID string, terms []string) error {
	if terms == nil {
		terms = []string{}
	}
	_, err := m.history.ReplaceOne(ctx,
		bson.M{"_id": userID},
		historyDoc{UserID: userID, Terms: terms},
		options.Replace().SetUpsert(true))
	if err != nil {
		return storageErr("save search history", err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return storageErr("close mongo", err)
	}
	return nil
}

func (m *Mongo) findSubscriptions(ctx context.Context, filter bson.M) ([]models.Subscription, error) {
	cursor, err := m.subscriptions.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	subs := []models.Subscription{}
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}
