package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	transactionsCollection = "transactions"
	settingsCollection     = "settings"
)

// Store is a MongoDB implementation of store.Store. ReplaceUserTransactions
// uses a multi-document transaction and therefore needs a replica set.
type Store struct {
	client       *mongo.Client
	transactions *mongo.Collection
	settings     *mongo.Collection
	now          func() time.Time
}

// Open connects to uri and prepares the collections of database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb.Open: connecting: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb.Open: ping: %w", err)
	}

	s := New(client, database)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New wraps a connected client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:       client,
		transactions: db.Collection(transactionsCollection),
		settings:     db.Collection(settingsCollection),
		now:          time.Now,
	}
}

// EnsureIndexes creates the unique keys the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user", Value: 1}, {Key: "ID", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("user_id_unique"),
		},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes: transactions: %w", err)
	}

	_, err = s.settings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_unique"),
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes: settings: %w", err)
	}
	return nil
}

// InsertTransactions implements store.TransactionStore.
func (s *Store) InsertTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	if _, err := s.transactions.InsertMany(ctx, toDocuments(userID, txs)); err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

// DeleteUserTransactions implements store.TransactionStore.
func (s *Store) DeleteUserTransactions(ctx context.Context, userID string) (int64, error) {
	res, err := s.transactions.DeleteMany(ctx, userFilter(userID))
	if err != nil {
		return 0, fmt.Errorf("DeleteUserTransactions: %w", err)
	}
	return res.DeletedCount, nil
}

// ListUserTransactions implements store.TransactionStore.
func (s *Store) ListUserTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	cur, err := s.transactions.Find(ctx, userFilter(userID), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("ListUserTransactions: find: %w", err)
	}
	defer cur.Close(ctx)

	result := []domain.Transaction{}
	if err := cur.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("ListUserTransactions: decode: %w", err)
	}
	return result, nil
}

// CountUserTransactions implements store.TransactionStore.
func (s *Store) CountUserTransactions(ctx context.Context, userID string) (int64, error) {
	n, err := s.transactions.CountDocuments(ctx, userFilter(userID))
	if err != nil {
		return 0, fmt.Errorf("CountUserTransactions: %w", err)
	}
	return n, nil
}

// ReplaceUserTransactions implements store.TransactionStore inside a session transaction.
func (s *Store) ReplaceUserTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("ReplaceUserTransactions: starting session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.transactions.DeleteMany(sc, userFilter(userID)); err != nil {
			return nil, fmt.Errorf("deleting: %w", err)
		}
		if len(txs) == 0 {
			return nil, nil
		}
		if _, err := s.transactions.InsertMany(sc, toDocuments(userID, txs)); err != nil {
			return nil, fmt.Errorf("inserting: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("ReplaceUserTransactions: %w", err)
	}
	return nil
}

// GetSettings implements store.SettingsStore.
func (s *Store) GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	settings := domain.DefaultSettings(userID)
	err := s.settings.FindOne(ctx, userFilter(userID)).Decode(settings)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("GetSettings: user %q: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSettings: %w", err)
	}
	return settings, nil
}

// SaveSettings implements store.SettingsStore. The stored version acts as
// the filter of the replace so a concurrent writer makes it match nothing.
func (s *Store) SaveSettings(ctx context.Context, settings *domain.UserSettings) error {
	doc := settings.Clone()
	doc.Version = settings.Version + 1
	doc.UpdatedAt = s.now().UTC()

	if settings.Version == 0 {
		_, err := s.settings.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("SaveSettings: user %q already has settings: %w", settings.UserID, store.ErrVersionConflict)
		}
		if err != nil {
			return fmt.Errorf("SaveSettings: insert: %w", err)
		}
	} else {
		filter := bson.D{{Key: "user", Value: settings.UserID}, {Key: "version", Value: settings.Version}}
		res, err := s.settings.ReplaceOne(ctx, filter, doc)
		if err != nil {
			return fmt.Errorf("SaveSettings: replace: %w", err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("SaveSettings: user %q at version %d: %w", settings.UserID, settings.Version, store.ErrVersionConflict)
		}
	}

	settings.Version = doc.Version
	settings.UpdatedAt = doc.UpdatedAt
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func userFilter(userID string) bson.D {
	return bson.D{{Key: "user", Value: userID}}
}

func toDocuments(userID string, txs []domain.Transaction) []interface{} {
	docs := make([]interface{}, len(txs))
	for i, tx := range txs {
		tx.UserID = userID
		docs[i] = tx
	}
	return docs
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
