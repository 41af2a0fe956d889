package repository

import (
	"context"
	"errors"
	"fmt"

	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/pkg/config"
	"edubook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository reads the platform's users, instructors and schedules.
// The booking engine never writes these collections.
type CatalogRepository interface {
	FindUser(ctx context.Context, id string) (*model.User, error)
	FindInstructor(ctx context.Context, id string) (*model.Instructor, error)
	FindAppointmentType(ctx context.Context, id string) (*model.AppointmentType, error)
	FindAvailability(ctx context.Context, instructorID string, dayOfWeek int) ([]*model.AvailabilityWindow, error)
	FindBlockedPeriods(ctx context.Context, instructorID, date string) ([]*model.BlockedPeriod, error)
}

type mongoCatalogRepository struct {
	cfg *config.Config
	db  *mongo.Database
}

func NewMongoCatalogRepository(cfg *config.Config) CatalogRepository {
	return &mongoCatalogRepository{
		cfg: cfg,
		db:  cfg.Client.Mongo.Database(cfg.MongoDatabaseName),
	}
}

func (r *mongoCatalogRepository) findByObjectID(ctx context.Context, collection, id string, out any) error {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidID, id)
	}

	err = r.db.Collection(collection).FindOne(ctx, bson.M{"_id": objectID}).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appointmentserrors.ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", collection, err)
	}
	return nil
}

func (r *mongoCatalogRepository) FindUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.findByObjectID(ctx, UsersCollection, id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *mongoCatalogRepository) FindInstructor(ctx context.Context, id string) (*model.Instructor, error) {
	var instructor model.Instructor
	if err := r.findByObjectID(ctx, InstructorsCollection, id, &instructor); err != nil {
		return nil, err
	}
	return &instructor, nil
}

func (r *mongoCatalogRepository) FindAppointmentType(ctx context.Context, id string) (*model.AppointmentType, error) {
	var apptType model.AppointmentType
	if err := r.findByObjectID(ctx, AppointmentTypesCollection, id, &apptType); err != nil {
		return nil, err
	}
	return &apptType, nil
}

func (r *mongoCatalogRepository) FindAvailability(ctx context.Context, instructorID string, dayOfWeek int) ([]*model.AvailabilityWindow, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"instructor_id": instructorID,
		"day_of_week":   dayOfWeek,
		"active":        true,
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})

	cursor, err := r.db.Collection(AvailabilityWindowsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find availability: %w", err)
	}
	defer cursor.Close(ctx)

	var windows []*model.AvailabilityWindow
	if err = cursor.All(ctx, &windows); err != nil {
		return nil, fmt.Errorf("failed to decode availability: %w", err)
	}
	return windows, nil
}

func (r *mongoCatalogRepository) FindBlockedPeriods(ctx context.Context, instructorID, date string) ([]*model.BlockedPeriod, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"instructor_id": instructorID,
		"date":          date,
	}

	cursor, err := r.db.Collection(BlockedPeriodsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find blocked periods: %w", err)
	}
	defer cursor.Close(ctx)

	var periods []*model.BlockedPeriod
	if err = cursor.All(ctx, &periods); err != nil {
		return nil, fmt.Errorf("failed to decode blocked periods: %w", err)
	}
	return periods, nil
}
