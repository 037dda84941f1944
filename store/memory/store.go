// Package memory is an in-process store backed by maps. It implements the
// same conditional-write semantics as the database stores and is the
// store used by tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps deep copies of every record, so callers can never mutate
// stored state through a returned pointer.
type Store struct {
	mu     sync.RWMutex
	closed bool

	batches    map[id.BatchID]*batch.Batch
	students   map[id.StudentID]*student.Student
	emails     map[string]id.StudentID
	profiles   map[id.StudentID]*student.Profile
	numbers    map[string]id.StudentID
	structures map[id.FeeStructureID]*fee.Structure
	payments   map[id.FeePaymentID]*fee.Payment
	receipts   map[string]id.FeePaymentID
}

func New() *Store {
	return &Store{
		batches:    make(map[id.BatchID]*batch.Batch),
		students:   make(map[id.StudentID]*student.Student),
		emails:     make(map[string]id.StudentID),
		profiles:   make(map[id.StudentID]*student.Profile),
		numbers:    make(map[string]id.StudentID),
		structures: make(map[id.FeeStructureID]*fee.Structure),
		payments:   make(map[id.FeePaymentID]*fee.Payment),
		receipts:   make(map[string]id.FeePaymentID),
	}
}

// ──────────────────────────────────────────────────
// Batches
// ──────────────────────────────────────────────────

func (s *Store) CreateBatch(_ context.Context, b *batch.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[b.ID]; exists {
		return bursar.ErrAlreadyExists
	}
	s.batches[b.ID] = cloneBatch(b)
	return nil
}

func (s *Store) GetBatch(_ context.Context, batchID id.BatchID) (*batch.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.batches[batchID]; ok {
		return cloneBatch(b), nil
	}
	return nil, bursar.ErrBatchNotFound
}

func (s *Store) ListBatches(_ context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*batch.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		if opts.Status != "" && b.Status != opts.Status {
			continue
		}
		if !opts.CourseID.IsNil() && b.CourseID != opts.CourseID {
			continue
		}
		result = append(result, cloneBatch(b))
	}
	slices.SortFunc(result, func(a, b *batch.Batch) int {
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateBatchStatus(_ context.Context, batchID id.BatchID, status batch.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return bursar.ErrBatchNotFound
	}
	b.Status = status
	b.Touch()
	return nil
}

func (s *Store) AddToRoster(_ context.Context, batchID id.BatchID, studentID id.StudentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return bursar.ErrBatchNotFound
	}
	if err := bursar.CheckRoster(b, studentID); err != nil {
		return err
	}
	b.EnrolledStudents = append(b.EnrolledStudents, studentID)
	b.Touch()
	return nil
}

func (s *Store) RemoveFromRoster(_ context.Context, batchID id.BatchID, studentID id.StudentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return bursar.ErrBatchNotFound
	}
	if i := slices.Index(b.EnrolledStudents, studentID); i >= 0 {
		b.EnrolledStudents = slices.Delete(b.EnrolledStudents, i, i+1)
		b.Touch()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Students
// ──────────────────────────────────────────────────

func (s *Store) CreateStudent(_ context.Context, st *student.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(st.Email)
	if _, exists := s.students[st.ID]; exists {
		return bursar.ErrAlreadyExists
	}
	if _, taken := s.emails[email]; taken {
		return bursar.ErrAlreadyExists
	}
	c := *st
	s.students[st.ID] = &c
	s.emails[email] = st.ID
	return nil
}

func (s *Store) GetStudent(_ context.Context, studentID id.StudentID) (*student.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.students[studentID]; ok {
		c := *st
		return &c, nil
	}
	return nil, bursar.ErrStudentNotFound
}

func (s *Store) GetStudentByEmail(_ context.Context, email string) (*student.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sid, ok := s.emails[strings.ToLower(email)]; ok {
		c := *s.students[sid]
		return &c, nil
	}
	return nil, bursar.ErrStudentNotFound
}

func (s *Store) CreateProfile(_ context.Context, p *student.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[p.StudentID]; exists {
		return bursar.ErrAlreadyExists
	}
	if _, taken := s.numbers[p.EnrollmentNumber]; taken {
		return bursar.ErrDuplicateEnrollmentNumber
	}
	s.profiles[p.StudentID] = cloneProfile(p)
	s.numbers[p.EnrollmentNumber] = p.StudentID
	return nil
}

func (s *Store) GetProfile(_ context.Context, studentID id.StudentID) (*student.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[studentID]; ok {
		return cloneProfile(p), nil
	}
	return nil, bursar.ErrProfileNotFound
}

func (s *Store) AssignBatch(_ context.Context, template *student.Profile, batchID id.BatchID, courseID id.CourseID) (*student.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[template.StudentID]
	if !ok {
		if _, taken := s.numbers[template.EnrollmentNumber]; taken {
			return nil, bursar.ErrDuplicateEnrollmentNumber
		}
		p = cloneProfile(template)
		s.profiles[p.StudentID] = p
		s.numbers[p.EnrollmentNumber] = p.StudentID
	}
	p.BatchID = batchID
	p.AddCourse(courseID)
	p.Touch()
	return cloneProfile(p), nil
}

func (s *Store) ClearBatch(_ context.Context, studentID id.StudentID, batchID id.BatchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[studentID]
	if !ok {
		return bursar.ErrProfileNotFound
	}
	if p.BatchID == batchID {
		p.BatchID = id.Nil
		p.Touch()
	}
	return nil
}

func (s *Store) UndoAssign(_ context.Context, studentID id.StudentID, previousBatch id.BatchID, dropCourse id.CourseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[studentID]
	if !ok {
		return bursar.ErrProfileNotFound
	}
	p.BatchID = previousBatch
	if !dropCourse.IsNil() {
		p.EnrolledCourses = slices.DeleteFunc(p.EnrolledCourses, func(c id.CourseID) bool { return c == dropCourse })
	}
	p.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// Fee structures
// ──────────────────────────────────────────────────

func (s *Store) CreateFeeStructure(_ context.Context, fs *fee.Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.structures[fs.ID]; exists {
		return bursar.ErrAlreadyExists
	}
	for _, other := range s.structures {
		if other.StudentID == fs.StudentID && other.BatchID == fs.BatchID {
			return bursar.ErrFeeStructureExists
		}
	}
	s.structures[fs.ID] = cloneStructure(fs)
	return nil
}

func (s *Store) GetFeeStructure(_ context.Context, structureID id.FeeStructureID) (*fee.Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if fs, ok := s.structures[structureID]; ok {
		return cloneStructure(fs), nil
	}
	return nil, bursar.ErrFeeStructureNotFound
}

func (s *Store) GetFeeStructureByEnrollment(_ context.Context, studentID id.StudentID, batchID id.BatchID) (*fee.Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, fs := range s.structures {
		if fs.StudentID == studentID && fs.BatchID == batchID {
			return cloneStructure(fs), nil
		}
	}
	return nil, bursar.ErrFeeStructureNotFound
}

func (s *Store) ListFeeStructures(_ context.Context, studentID id.StudentID) ([]*fee.Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*fee.Structure, 0)
	for _, fs := range s.structures {
		if fs.StudentID == studentID {
			result = append(result, cloneStructure(fs))
		}
	}
	slices.SortFunc(result, byStructureID)
	return result, nil
}

func (s *Store) ListPendingFeeStructures(_ context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	after := opts.After.String()
	result := make([]*fee.Structure, 0)
	for _, fs := range s.structures {
		if !fs.PendingAmount.IsPositive() {
			continue
		}
		if after != "" && fs.ID.String() <= after {
			continue
		}
		result = append(result, cloneStructure(fs))
	}
	slices.SortFunc(result, byStructureID)
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateFeeStructure(_ context.Context, fs *fee.Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.structures[fs.ID]
	if !ok {
		return bursar.ErrFeeStructureNotFound
	}
	if current.Version != fs.Version {
		return bursar.ErrConcurrentUpdate
	}
	fs.Version++
	s.structures[fs.ID] = cloneStructure(fs)
	return nil
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

func (s *Store) CreateFeePayment(_ context.Context, p *fee.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return bursar.ErrAlreadyExists
	}
	if _, taken := s.receipts[p.ReceiptNumber]; taken {
		return bursar.ErrDuplicateReceipt
	}
	if p.IdempotencyKey != "" {
		for _, other := range s.payments {
			if other.FeeStructureID == p.FeeStructureID && other.IdempotencyKey == p.IdempotencyKey {
				return bursar.ErrDuplicatePayment
			}
		}
	}
	c := *p
	s.payments[p.ID] = &c
	s.receipts[p.ReceiptNumber] = p.ID
	return nil
}

func (s *Store) GetFeePaymentByIdempotencyKey(_ context.Context, structureID id.FeeStructureID, key string) (*fee.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.FeeStructureID == structureID && p.IdempotencyKey == key {
			c := *p
			return &c, nil
		}
	}
	return nil, bursar.ErrPaymentNotFound
}

func (s *Store) ListFeePayments(_ context.Context, studentID id.StudentID, opts fee.ListOpts) ([]*fee.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*fee.Payment, 0)
	for _, p := range s.payments {
		if p.StudentID == studentID {
			c := *p
			result = append(result, &c)
		}
	}
	// newest first
	slices.SortFunc(result, func(a, b *fee.Payment) int {
		if c := b.PaidAt.Compare(a.PaidAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) FeeTotals(_ context.Context, currency string) (*fee.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := &fee.Totals{Collected: types.Zero(currency), Pending: types.Zero(currency)}
	for _, p := range s.payments {
		if p.Amount.Currency == totals.Collected.Currency {
			totals.Collected = totals.Collected.Add(p.Amount)
		}
	}
	for _, fs := range s.structures {
		if fs.PendingAmount.Currency == totals.Pending.Currency {
			totals.Pending = totals.Pending.Add(fs.PendingAmount)
		}
	}
	return totals, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return bursar.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func page[T any](items []T, offset, limit int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}

func byStructureID(a, b *fee.Structure) int {
	return cmp.Compare(a.ID.String(), b.ID.String())
}

func cloneBatch(b *batch.Batch) *batch.Batch {
	c := *b
	c.EnrolledStudents = slices.Clone(b.EnrolledStudents)
	if c.EnrolledStudents == nil {
		c.EnrolledStudents = []id.StudentID{}
	}
	return &c
}

func cloneProfile(p *student.Profile) *student.Profile {
	c := *p
	c.EnrolledCourses = slices.Clone(p.EnrolledCourses)
	if c.EnrolledCourses == nil {
		c.EnrolledCourses = []id.CourseID{}
	}
	return &c
}

func cloneStructure(fs *fee.Structure) *fee.Structure {
	c := *fs
	c.Installments = slices.Clone(fs.Installments)
	return &c
}
