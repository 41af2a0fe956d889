package lock

import (
	"context"
	"fmt"
	"time"

	"edubook/pkg/logger"
	"edubook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const CollectionName = "booking_locks"

// mongoManager stores one document per held key. The unique _id makes the
// insert an atomic test-and-set; a TTL index on expires_at removes leftovers.
type mongoManager struct {
	collection   *mongo.Collection
	ttl          time.Duration
	pollInterval time.Duration
	log          *logger.Logger
	now          func() time.Time
}

func NewMongoManager(collection *mongo.Collection, ttl, pollInterval time.Duration, log *logger.Logger) Manager {
	return &mongoManager{
		collection:   collection,
		ttl:          ttl,
		pollInterval: pollInterval,
		log:          log,
		now:          time.Now,
	}
}

func (m *mongoManager) Acquire(ctx context.Context, key Key, timeout time.Duration) (*Handle, error) {
	token := newToken()
	var acquiredAt time.Time

	err := poll(ctx, m.log, key, timeout, m.pollInterval, func(ctx context.Context) (bool, error) {
		now := m.now().UTC().Truncate(time.Millisecond)
		ok, err := m.tryAcquire(ctx, key, token, now)
		if ok {
			acquiredAt = now
		}
		return ok, err
	})
	if err != nil {
		return nil, err
	}

	return &Handle{
		Key:        key,
		Token:      token,
		AcquiredAt: acquiredAt,
		ExpiresAt:  acquiredAt.Add(m.ttl),
	}, nil
}

// tryAcquire inserts the lock document, or takes over one whose lease has
// run out. The TTL monitor only runs once a minute so expired documents can
// linger.
func (m *mongoManager) tryAcquire(ctx context.Context, key Key, token string, now time.Time) (bool, error) {
	doc := model.BookingLock{
		ID:        key.String(),
		Token:     token,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}

	_, err := m.collection.InsertOne(ctx, doc)
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, fmt.Errorf("failed to insert lock: %w", err)
	}

	filter := bson.M{
		"_id":        doc.ID,
		"expires_at": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{
		"token":      token,
		"expires_at": doc.ExpiresAt,
		"created_at": now,
	}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to take over expired lock: %w", err)
	}
	if result.ModifiedCount == 1 {
		m.log.Warn("Took over expired lock", "key", doc.ID)
		return true, nil
	}
	return false, nil
}

// Confirm matches on token alone. Inside a transaction the update conflicts
// with any concurrent takeover, and once it commits the extended expires_at
// keeps the takeover filter from matching.
func (m *mongoManager) Confirm(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrLockLost
	}

	expiresAt := m.now().UTC().Truncate(time.Millisecond).Add(m.ttl)
	result, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": h.Key.String(), "token": h.Token},
		bson.M{"$set": bson.M{"expires_at": expiresAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to confirm lock %s: %w", h.Key, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, h.Key)
	}

	h.ExpiresAt = expiresAt
	return nil
}

func (m *mongoManager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": h.Key.String(), "token": h.Token})
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", h.Key, err)
	}
	return nil
}
