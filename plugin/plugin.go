// Package plugin lets integrations observe enrollment and fee events.
//
// A plugin implements Plugin plus any number of the hook interfaces below.
// Hooks run after the corresponding write has been committed; a failing or
// slow hook is logged and never undoes the write.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// OnInit is called from Bursar.Start with the engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called from Bursar.Stop.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Enrollment hooks
// ──────────────────────────────────────────────────

type OnStudentEnrolled interface {
	Plugin
	OnStudentEnrolled(ctx context.Context, b *batch.Batch, p *student.Profile) error
}

type OnStudentRemoved interface {
	Plugin
	OnStudentRemoved(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error
}

// OnEnrollmentRejected receives capacity and duplicate rejections.
type OnEnrollmentRejected interface {
	Plugin
	OnEnrollmentRejected(ctx context.Context, batchID id.BatchID, studentID id.StudentID, reason error) error
}

type OnBulkEnrollCompleted interface {
	Plugin
	OnBulkEnrollCompleted(ctx context.Context, batchID id.BatchID, enrolled, failed int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Fee hooks
// ──────────────────────────────────────────────────

type OnFeeStructureCreated interface {
	Plugin
	OnFeeStructureCreated(ctx context.Context, s *fee.Structure) error
}

type OnPaymentRecorded interface {
	Plugin
	OnPaymentRecorded(ctx context.Context, p *fee.Payment, s *fee.Structure) error
}

// OnFeeStructureSettled fires once, for the payment that clears the balance.
type OnFeeStructureSettled interface {
	Plugin
	OnFeeStructureSettled(ctx context.Context, s *fee.Structure) error
}

// ──────────────────────────────────────────────────
// Strategies
// ──────────────────────────────────────────────────

// ReceiptNumberer replaces the built-in receipt number generator. The
// first registered numberer wins. Returned numbers must still be unique;
// the store rejects duplicates and the engine asks again.
type ReceiptNumberer interface {
	Plugin
	ReceiptNumber(ctx context.Context, p *fee.Payment, at time.Time) (string, error)
}
