package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/pkg/config"
	"edubook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *model.BookingTransaction) error
	FindByID(ctx context.Context, id string) (*model.BookingTransaction, error)
	// Transition moves a pending transaction to a terminal status. It returns
	// ErrInvalidTransition if the transaction is missing or already terminal.
	Transition(ctx context.Context, id string, update model.TransactionUpdate) error
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.BookingTransaction, error)
}

type mongoTransactionRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoTransactionRepository(cfg *config.Config) TransactionRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoTransactionRepository{
		cfg:        cfg,
		collection: db.Collection(TransactionsCollection),
	}
}

func (r *mongoTransactionRepository) Create(ctx context.Context, tx *model.BookingTransaction) error {
	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, tx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: transaction %s", appointmentserrors.ErrDuplicate, tx.ID)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *mongoTransactionRepository) FindByID(ctx context.Context, id string) (*model.BookingTransaction, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var tx model.BookingTransaction
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appointmentserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &tx, nil
}

func (r *mongoTransactionRepository) Transition(ctx context.Context, id string, update model.TransactionUpdate) error {
	if !model.TransactionPending.CanTransitionTo(update.Status) {
		return fmt.Errorf("%w: cannot move to %s", appointmentserrors.ErrInvalidTransition, update.Status)
	}

	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "status": model.TransactionPending}
	result, err := r.collection.UpdateOne(ctx, filter, transitionDocument(update))
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidTransition, id)
	}
	return nil
}

func transitionDocument(update model.TransactionUpdate) bson.M {
	completedAt := update.CompletedAt
	if completedAt.IsZero() {
		completedAt = now()
	}

	set := bson.M{
		"status":       update.Status,
		"completed_at": completedAt,
	}
	if update.AppointmentID != "" {
		set["appointment_id"] = update.AppointmentID
	}
	if update.FailureCode != "" {
		set["failure_code"] = update.FailureCode
	}
	return bson.M{"$set": set}
}

func (r *mongoTransactionRepository) FindExpiredPending(ctx context.Context, at time.Time, limit int) ([]*model.BookingTransaction, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"status":     model.TransactionPending,
		"expires_at": bson.M{"$lt": at},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "expires_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []*model.BookingTransaction
	if err = cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txs, nil
}
