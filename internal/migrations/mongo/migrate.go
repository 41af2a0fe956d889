package mongo

import (
	"context"
	"fmt"

	"edubook/internal/appointments/lock"
	"edubook/internal/appointments/repository"
	"edubook/internal/migrations/mongo/validators"
	"edubook/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection describes one collection the booking services rely on. A nil
// Validator leaves the collection schemaless.
type Collection struct {
	Name      string
	Indexes   []mongo.IndexModel
	Validator bson.M
}

var (
	AppointmentsIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_transaction_id"),
		},
		{Keys: bson.D{
			{Key: "instructor_id", Value: 1},
			{Key: "date", Value: 1},
			{Key: "status", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "date", Value: 1},
		}},
	}

	TransactionsIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "expires_at", Value: 1},
		}},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	}

	LocksIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at"),
		},
	}

	AuditIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "timestamp", Value: -1},
		}},
		{Keys: bson.D{{Key: "transaction_id", Value: 1}}},
		{Keys: bson.D{
			{Key: "event_type", Value: 1},
			{Key: "timestamp", Value: -1},
		}},
	}

	AvailabilityIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "instructor_id", Value: 1},
			{Key: "day_of_week", Value: 1},
			{Key: "active", Value: 1},
		}},
	}

	BlockedPeriodsIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "instructor_id", Value: 1},
			{Key: "date", Value: 1},
		}},
	}

	AppointmentTypesIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "instructor_id", Value: 1}}},
	}
)

// Collections lists every collection in creation order.
func Collections() []Collection {
	return []Collection{
		{Name: repository.AppointmentsCollection, Indexes: AppointmentsIndexes, Validator: validators.AppointmentValidator},
		{Name: repository.TransactionsCollection, Indexes: TransactionsIndexes, Validator: validators.TransactionValidator},
		{Name: repository.AuditCollection, Indexes: AuditIndexes, Validator: validators.AuditValidator},
		{Name: lock.CollectionName, Indexes: LocksIndexes},
		{Name: repository.AvailabilityWindowsCollection, Indexes: AvailabilityIndexes},
		{Name: repository.BlockedPeriodsCollection, Indexes: BlockedPeriodsIndexes},
		{Name: repository.AppointmentTypesCollection, Indexes: AppointmentTypesIndexes},
		{Name: repository.UsersCollection},
		{Name: repository.InstructorsCollection},
	}
}

func RunMigration(ctx context.Context, db *mongo.Database, log *logger.Logger) error {
	log.Info("Running mongo migrations", "database", db.Name())

	for _, def := range Collections() {
		if err := ensureCollection(ctx, db, def.Name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", def.Name, err)
		}
		if err := ensureIndexes(ctx, db, def.Name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", def.Name, err)
		}
	}

	log.Info("All migrations applied", "collections", len(Collections()))
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection()
		if validator != nil {
			opts.SetValidator(validator)
		}
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	if validator == nil {
		return nil
	}
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	if len(models) == 0 {
		return nil
	}
	if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
