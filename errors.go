package bursar

import (
	"errors"
	"fmt"

	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/id"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("bursar: not found")
	ErrAlreadyExists = errors.New("bursar: already exists")
	ErrInvalidInput  = errors.New("bursar: invalid input")
	ErrInvalidAmount = errors.New("bursar: invalid amount")

	// Enrollment errors
	ErrBatchNotFound    = errors.New("bursar: batch not found")
	ErrStudentNotFound  = errors.New("bursar: student not found")
	ErrProfileNotFound  = errors.New("bursar: student profile not found")
	ErrCapacityExceeded = errors.New("bursar: batch capacity exceeded")
	ErrAlreadyEnrolled  = errors.New("bursar: student already enrolled in batch")

	ErrDuplicateEnrollmentNumber = errors.New("bursar: duplicate enrollment number")

	// Fee errors
	ErrFeeStructureNotFound = errors.New("bursar: fee structure not found")
	ErrFeeStructureExists   = errors.New("bursar: fee structure already exists for enrollment")
	ErrPaymentNotFound      = errors.New("bursar: fee payment not found")
	ErrDuplicateReceipt     = errors.New("bursar: duplicate receipt number")
	ErrDuplicatePayment     = errors.New("bursar: duplicate payment idempotency key")
	ErrCurrencyMismatch     = errors.New("bursar: currency mismatch")

	// Store errors
	ErrConcurrentUpdate = errors.New("bursar: concurrent update")
	ErrStoreClosed      = errors.New("bursar: store is closed")
)

// ValidationError names the input field that failed. It matches
// ErrInvalidAmount for money fields and ErrInvalidInput otherwise.
type ValidationError struct {
	Field   string
	Message string
	Amount  bool
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("bursar: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	if e.Amount {
		return ErrInvalidAmount
	}
	return ErrInvalidInput
}

// RowError is a bulk-enrollment failure for one input row.
type RowError struct {
	Row   int    `json:"row"` // 1-based, excluding the header
	Email string `json:"email"`
	Err   error  `json:"-"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("bursar: row %d (%s): %v", e.Row, e.Email, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrFeeStructureNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsEnrollmentRejected reports a roster precondition failure.
func IsEnrollmentRejected(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrAlreadyEnrolled)
}

// IsRetryable returns true if the operation may succeed when repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate) ||
		errors.Is(err, ErrDuplicateReceipt) ||
		errors.Is(err, ErrDuplicateEnrollmentNumber)
}

// CheckRoster reports why studentID cannot join b, checking capacity
// before membership. It returns nil when the add is allowed. Stores use it
// to classify a conditional roster update that matched nothing.
func CheckRoster(b *batch.Batch, studentID id.StudentID) error {
	if b.IsFull() {
		return ErrCapacityExceeded
	}
	if b.Has(studentID) {
		return ErrAlreadyEnrolled
	}
	return nil
}
