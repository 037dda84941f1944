package audithook

// Action constants for audit events.
const (
	// Enrollment actions
	ActionStudentEnrolled    = "enrollment.created"
	ActionStudentRemoved     = "enrollment.removed"
	ActionEnrollmentRejected = "enrollment.rejected"
	ActionBulkEnrolled       = "enrollment.bulk_completed"

	// Fee actions
	ActionFeeStructureCreated = "fee_structure.created"
	ActionFeeStructureSettled = "fee_structure.settled"
	ActionPaymentRecorded     = "payment.recorded"
)

// Resource constants for audit events.
const (
	ResourceBatch        = "batch"
	ResourceFeeStructure = "fee_structure"
	ResourcePayment      = "payment"
)

// Category constants for audit events.
const (
	CategoryEnrollment = "enrollment"
	CategoryBilling    = "billing"
	CategoryPayment    = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
