package mongo

import (
	"context"
	"errors"
	"fmt"

	apperrors "edubook/pkg/errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	DefaultMaxAttempts = 3

	labelTransient     = "TransientTransactionError"
	labelUnknownCommit = "UnknownTransactionCommitResult"
)

// TransactionFunc runs inside a multi-document transaction. The context it
// receives carries the session, so repositories called with it join the
// transaction without knowing about sessions.
type TransactionFunc func(ctx context.Context) error

type TransactionManager interface {
	ExecuteTransaction(ctx context.Context, fn TransactionFunc) error
}

type mongoTransactionManager struct {
	client      *mongo.Client
	maxAttempts int
	txOpts      *options.TransactionOptions
}

type Option func(*mongoTransactionManager)

// WithMaxAttempts bounds how often a transaction hit by a transient error is
// replayed, and how often an unknown commit result is re-committed.
func WithMaxAttempts(n int) Option {
	return func(m *mongoTransactionManager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func NewTransactionManager(client *mongo.Client, opts ...Option) TransactionManager {
	m := &mongoTransactionManager{
		client:      client,
		maxAttempts: DefaultMaxAttempts,
		txOpts: options.Transaction().
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExecuteTransaction runs fn in a transaction. Unlike session.WithTransaction
// it gives up after maxAttempts instead of retrying for two minutes, since
// callers hold a booking lock for the whole call.
func (m *mongoTransactionManager) ExecuteTransaction(ctx context.Context, fn TransactionFunc) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	for attempt := 1; ; attempt++ {
		err = m.runOnce(ctx, session, fn)
		if err == nil {
			return nil
		}
		if attempt >= m.maxAttempts || !hasLabel(err, labelTransient) || ctx.Err() != nil {
			break
		}
	}

	if apperrors.IsAppError(err) {
		return err
	}
	return fmt.Errorf("transaction failed: %w", err)
}

func (m *mongoTransactionManager) runOnce(ctx context.Context, session mongo.Session, fn TransactionFunc) error {
	if err := session.StartTransaction(m.txOpts); err != nil {
		return err
	}
	sessCtx := mongo.NewSessionContext(ctx, session)

	if err := fn(sessCtx); err != nil {
		_ = session.AbortTransaction(context.WithoutCancel(ctx))
		return err
	}

	var err error
	for i := 0; i < m.maxAttempts; i++ {
		err = session.CommitTransaction(sessCtx)
		if err == nil || !hasLabel(err, labelUnknownCommit) {
			return err
		}
	}
	return err
}

func hasLabel(err error, label string) bool {
	var labeled mongo.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel(label)
}
