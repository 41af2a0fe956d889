package repository

import (
	"context"
	"testing"
	"time"

	"edubook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
)

func TestWithTimeout(t *testing.T) {
	t.Run("adds deadline", func(t *testing.T) {
		ctx, cancel := withTimeout(context.Background(), time.Second)
		defer cancel()

		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("expected a deadline")
		}
		if time.Until(deadline) > time.Second {
			t.Errorf("deadline too far: %s", time.Until(deadline))
		}
	})

	t.Run("keeps shorter parent deadline", func(t *testing.T) {
		parent, cancelParent := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancelParent()
		want, _ := parent.Deadline()

		ctx, cancel := withTimeout(parent, time.Minute)
		defer cancel()

		got, _ := ctx.Deadline()
		if !got.Equal(want) {
			t.Errorf("deadline = %s, want parent's %s", got, want)
		}
	})
}

func TestTransitionDocument(t *testing.T) {
	completed := time.Date(2025, 9, 16, 14, 0, 0, 0, time.UTC)

	doc := transitionDocument(model.TransactionUpdate{
		Status:        model.TransactionCommitted,
		AppointmentID: "a1",
		CompletedAt:   completed,
	})
	set := doc["$set"].(bson.M)

	if set["status"] != model.TransactionCommitted {
		t.Errorf("status = %v", set["status"])
	}
	if set["appointment_id"] != "a1" {
		t.Errorf("appointment_id = %v", set["appointment_id"])
	}
	if set["completed_at"] != completed {
		t.Errorf("completed_at = %v", set["completed_at"])
	}
	if _, ok := set["failure_code"]; ok {
		t.Error("empty failure_code must not be written")
	}

	doc = transitionDocument(model.TransactionUpdate{Status: model.TransactionRolledBack, FailureCode: "SLOT_NOT_AVAILABLE"})
	set = doc["$set"].(bson.M)
	if set["failure_code"] != "SLOT_NOT_AVAILABLE" {
		t.Errorf("failure_code = %v", set["failure_code"])
	}
	if set["completed_at"].(time.Time).IsZero() {
		t.Error("completed_at must default to now")
	}
}

func TestTransition_RejectsNonTerminalTarget(t *testing.T) {
	r := &mongoTransactionRepository{}
	err := r.Transition(context.Background(), "tx", model.TransactionUpdate{Status: model.TransactionPending})
	if err == nil {
		t.Fatal("expected error moving to pending")
	}
}
