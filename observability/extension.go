// Package observability provides a metrics extension for Bursar that records
// enrollment and fee event counts through a MetricFactory.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/student"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnStudentEnrolled     = (*MetricsExtension)(nil)
	_ plugin.OnStudentRemoved      = (*MetricsExtension)(nil)
	_ plugin.OnEnrollmentRejected  = (*MetricsExtension)(nil)
	_ plugin.OnBulkEnrollCompleted = (*MetricsExtension)(nil)
	_ plugin.OnFeeStructureCreated = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRecorded     = (*MetricsExtension)(nil)
	_ plugin.OnFeeStructureSettled = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics. Names are dot separated, e.g.
// "bursar.payment.recorded".
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records enrollment and fee metrics.
// Register it as a Bursar plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Enrollment metrics
	StudentEnrolled      Counter
	StudentRemoved       Counter
	RejectedCapacity     Counter
	RejectedDuplicate    Counter
	BulkEnrolled         Counter
	BulkFailed           Counter
	BulkEnrollLatency    Histogram
	SeatsLeftAfterEnroll Histogram

	// Fee metrics
	FeeStructureCreated Counter
	FeeStructureSettled Counter
	PaymentRecorded     Counter
	PaymentAmount       Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		StudentEnrolled:      factory.Counter("bursar.enrollment.created"),
		StudentRemoved:       factory.Counter("bursar.enrollment.removed"),
		RejectedCapacity:     factory.Counter("bursar.enrollment.rejected.capacity"),
		RejectedDuplicate:    factory.Counter("bursar.enrollment.rejected.duplicate"),
		BulkEnrolled:         factory.Counter("bursar.enrollment.bulk.enrolled"),
		BulkFailed:           factory.Counter("bursar.enrollment.bulk.failed"),
		BulkEnrollLatency:    factory.Histogram("bursar.enrollment.bulk.latency_ms"),
		SeatsLeftAfterEnroll: factory.Histogram("bursar.batch.seats_left"),

		FeeStructureCreated: factory.Counter("bursar.fee_structure.created"),
		FeeStructureSettled: factory.Counter("bursar.fee_structure.settled"),
		PaymentRecorded:     factory.Counter("bursar.payment.recorded"),
		PaymentAmount:       factory.Histogram("bursar.payment.amount_minor"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnStudentEnrolled implements plugin.OnStudentEnrolled.
func (m *MetricsExtension) OnStudentEnrolled(_ context.Context, b *batch.Batch, _ *student.Profile) error {
	m.StudentEnrolled.Inc()
	m.SeatsLeftAfterEnroll.Observe(float64(b.SeatsLeft()))
	return nil
}

// OnStudentRemoved implements plugin.OnStudentRemoved.
func (m *MetricsExtension) OnStudentRemoved(_ context.Context, _ id.BatchID, _ id.StudentID) error {
	m.StudentRemoved.Inc()
	return nil
}

// OnEnrollmentRejected implements plugin.OnEnrollmentRejected.
func (m *MetricsExtension) OnEnrollmentRejected(_ context.Context, _ id.BatchID, _ id.StudentID, reason error) error {
	switch {
	case errors.Is(reason, bursar.ErrCapacityExceeded):
		m.RejectedCapacity.Inc()
	case errors.Is(reason, bursar.ErrAlreadyEnrolled):
		m.RejectedDuplicate.Inc()
	}
	return nil
}

// OnBulkEnrollCompleted implements plugin.OnBulkEnrollCompleted.
func (m *MetricsExtension) OnBulkEnrollCompleted(_ context.Context, _ id.BatchID, enrolled, failed int, elapsed time.Duration) error {
	m.BulkEnrolled.Add(float64(enrolled))
	m.BulkFailed.Add(float64(failed))
	m.BulkEnrollLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnFeeStructureCreated implements plugin.OnFeeStructureCreated.
func (m *MetricsExtension) OnFeeStructureCreated(_ context.Context, _ *fee.Structure) error {
	m.FeeStructureCreated.Inc()
	return nil
}

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (m *MetricsExtension) OnPaymentRecorded(_ context.Context, p *fee.Payment, _ *fee.Structure) error {
	m.PaymentRecorded.Inc()
	m.PaymentAmount.Observe(float64(p.Amount.Amount))
	return nil
}

// OnFeeStructureSettled implements plugin.OnFeeStructureSettled.
func (m *MetricsExtension) OnFeeStructureSettled(_ context.Context, _ *fee.Structure) error {
	m.FeeStructureSettled.Inc()
	return nil
}
