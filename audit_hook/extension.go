// Package audithook bridges Bursar enrollment and fee events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/student"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnStudentEnrolled     = (*Extension)(nil)
	_ plugin.OnStudentRemoved      = (*Extension)(nil)
	_ plugin.OnEnrollmentRejected  = (*Extension)(nil)
	_ plugin.OnBulkEnrollCompleted = (*Extension)(nil)
	_ plugin.OnFeeStructureCreated = (*Extension)(nil)
	_ plugin.OnPaymentRecorded     = (*Extension)(nil)
	_ plugin.OnFeeStructureSettled = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Bursar events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Enrollment hooks
// ──────────────────────────────────────────────────

// OnStudentEnrolled implements plugin.OnStudentEnrolled.
func (e *Extension) OnStudentEnrolled(ctx context.Context, b *batch.Batch, p *student.Profile) error {
	return e.record(ctx, ActionStudentEnrolled, SeverityInfo, OutcomeSuccess,
		ResourceBatch, b.ID.String(), CategoryEnrollment, nil,
		"student_id", p.StudentID.String(),
		"enrollment_number", p.EnrollmentNumber,
		"seats_left", b.SeatsLeft(),
	)
}

// OnStudentRemoved implements plugin.OnStudentRemoved.
func (e *Extension) OnStudentRemoved(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error {
	return e.record(ctx, ActionStudentRemoved, SeverityInfo, OutcomeSuccess,
		ResourceBatch, batchID.String(), CategoryEnrollment, nil,
		"student_id", studentID.String(),
	)
}

// OnEnrollmentRejected implements plugin.OnEnrollmentRejected. A full
// batch is worth a warning; a repeated enrollment is not.
func (e *Extension) OnEnrollmentRejected(ctx context.Context, batchID id.BatchID, studentID id.StudentID, reason error) error {
	severity := SeverityInfo
	if errors.Is(reason, bursar.ErrCapacityExceeded) {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionEnrollmentRejected, severity, OutcomeFailure,
		ResourceBatch, batchID.String(), CategoryEnrollment, reason,
		"student_id", studentID.String(),
	)
}

// OnBulkEnrollCompleted implements plugin.OnBulkEnrollCompleted.
func (e *Extension) OnBulkEnrollCompleted(ctx context.Context, batchID id.BatchID, enrolled, failed int, elapsed time.Duration) error {
	outcome := OutcomeSuccess
	if failed > 0 {
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionBulkEnrolled, SeverityInfo, outcome,
		ResourceBatch, batchID.String(), CategoryEnrollment, nil,
		"enrolled", enrolled,
		"failed", failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Fee hooks
// ──────────────────────────────────────────────────

// OnFeeStructureCreated implements plugin.OnFeeStructureCreated.
func (e *Extension) OnFeeStructureCreated(ctx context.Context, s *fee.Structure) error {
	return e.record(ctx, ActionFeeStructureCreated, SeverityInfo, OutcomeSuccess,
		ResourceFeeStructure, s.ID.String(), CategoryBilling, nil,
		"student_id", s.StudentID.String(),
		"batch_id", s.BatchID.String(),
		"net_due", s.NetDue().String(),
		"installments", len(s.Installments),
	)
}

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (e *Extension) OnPaymentRecorded(ctx context.Context, p *fee.Payment, s *fee.Structure) error {
	return e.record(ctx, ActionPaymentRecorded, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID.String(), CategoryPayment, nil,
		"receipt_number", p.ReceiptNumber,
		"fee_structure_id", s.ID.String(),
		"amount", p.Amount.String(),
		"method", string(p.Method),
		"pending", s.PendingAmount.String(),
	)
}

// OnFeeStructureSettled implements plugin.OnFeeStructureSettled.
func (e *Extension) OnFeeStructureSettled(ctx context.Context, s *fee.Structure) error {
	return e.record(ctx, ActionFeeStructureSettled, SeverityInfo, OutcomeSuccess,
		ResourceFeeStructure, s.ID.String(), CategoryBilling, nil,
		"student_id", s.StudentID.String(),
		"paid", s.PaidAmount.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
