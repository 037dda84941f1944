package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	bursarstore "github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// Unique index names used to classify constraint violations.
const (
	idxEnrollmentNumber  = "idx_bursar_profiles_enrollment_number"
	idxEnrollment        = "idx_bursar_fee_structures_enrollment"
	idxPaymentReceipt    = "idx_bursar_fee_payments_receipt"
	idxPaymentIdempotent = "idx_bursar_fee_payments_idempotency"
)

// compile-time interface check
var _ bursarstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("bursar/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("bursar/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Batch Store ====================

func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch) error {
	_, err := s.pg.NewInsert(toBatchModel(b)).Exec(ctx)
	if isUniqueViolation(err) {
		return bursar.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	m := new(batchModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", batchID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrBatchNotFound
		}
		return nil, err
	}
	return fromBatchModel(m)
}

func (s *Store) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	var models []batchModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.CourseID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("course_id = $%d", argIdx), opts.CourseID.String())
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*batch.Batch, len(models))
	for i := range models {
		b, err := fromBatchModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID id.BatchID, status batch.Status) error {
	res, err := s.pg.NewUpdate((*batchModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", now()).
		Where("id = $3", batchID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, bursar.ErrBatchNotFound)
}

// AddToRoster appends the student in one UPDATE guarded by the capacity
// and membership predicates. When no row matches, the batch is re-read to
// report why.
func (s *Store) AddToRoster(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error {
	sid := studentID.String()
	res, err := s.pg.NewUpdate((*batchModel)(nil)).
		Set("enrolled_students = enrolled_students || jsonb_build_array($1::text)", sid).
		Set("updated_at = $2", now()).
		Where("id = $3", batchID.String()).
		Where("jsonb_array_length(enrolled_students) < max_students").
		Where("NOT enrolled_students @> jsonb_build_array($4::text)", sid).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	return s.rosterRejection(ctx, batchID, studentID)
}

func (s *Store) rosterRejection(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := bursar.CheckRoster(b, studentID); err != nil {
		return err
	}
	// the roster changed between the update and the read
	return bursar.ErrConcurrentUpdate
}

func (s *Store) RemoveFromRoster(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error {
	res, err := s.pg.NewUpdate((*batchModel)(nil)).
		Set("enrolled_students = enrolled_students - $1::text", studentID.String()).
		Set("updated_at = $2", now()).
		Where("id = $3", batchID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, bursar.ErrBatchNotFound)
}

// ==================== Student Store ====================

func (s *Store) CreateStudent(ctx context.Context, st *student.Student) error {
	_, err := s.pg.NewInsert(toStudentModel(st)).Exec(ctx)
	if isUniqueViolation(err) {
		return bursar.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	m := new(studentModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", studentID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrStudentNotFound
		}
		return nil, err
	}
	return fromStudentModel(m)
}

func (s *Store) GetStudentByEmail(ctx context.Context, email string) (*student.Student, error) {
	m := new(studentModel)
	err := s.pg.NewSelect(m).
		Where("email = $1", email).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrStudentNotFound
		}
		return nil, err
	}
	return fromStudentModel(m)
}

func (s *Store) CreateProfile(ctx context.Context, p *student.Profile) error {
	_, err := s.pg.NewInsert(toProfileModel(p)).Exec(ctx)
	if constraint, ok := uniqueViolation(err); ok {
		if constraint == idxEnrollmentNumber {
			return bursar.ErrDuplicateEnrollmentNumber
		}
		return bursar.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetProfile(ctx context.Context, studentID id.StudentID) (*student.Profile, error) {
	m := new(profileModel)
	err := s.pg.NewSelect(m).
		Where("student_id = $1", studentID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrProfileNotFound
		}
		return nil, err
	}
	return fromProfileModel(m)
}

// AssignBatch upserts the profile keyed by student: a new row is taken
// from template, an existing one only moves batch and gains the course.
func (s *Store) AssignBatch(ctx context.Context, template *student.Profile, batchID id.BatchID, courseID id.CourseID) (*student.Profile, error) {
	m := toProfileModel(template)
	t := now()

	var profileID string
	err := s.pg.NewRaw(`
		INSERT INTO bursar_student_profiles
			(id, student_id, enrollment_number, batch_id, enrolled_courses, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $5 = '' THEN '[]'::jsonb ELSE jsonb_build_array($5::text) END, $6, $7, $7)
		ON CONFLICT (student_id) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			enrolled_courses = CASE
				WHEN $5 = '' OR bursar_student_profiles.enrolled_courses @> jsonb_build_array($5::text)
				THEN bursar_student_profiles.enrolled_courses
				ELSE bursar_student_profiles.enrolled_courses || jsonb_build_array($5::text)
			END,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, m.ID, m.StudentID, m.EnrollmentNumber, batchID.String(), courseID.String(), m.Status, t).Scan(ctx, &profileID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, bursar.ErrDuplicateEnrollmentNumber
		}
		return nil, err
	}
	return s.GetProfile(ctx, template.StudentID)
}

func (s *Store) ClearBatch(ctx context.Context, studentID id.StudentID, batchID id.BatchID) error {
	res, err := s.pg.NewUpdate((*profileModel)(nil)).
		Set("batch_id = ''").
		Set("updated_at = $1", now()).
		Where("student_id = $2", studentID.String()).
		Where("batch_id = $3", batchID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// nothing to clear; still report a missing profile
		_, err := s.GetProfile(ctx, studentID)
		return err
	}
	return nil
}

func (s *Store) UndoAssign(ctx context.Context, studentID id.StudentID, previousBatch id.BatchID, dropCourse id.CourseID) error {
	res, err := s.pg.NewUpdate((*profileModel)(nil)).
		Set("batch_id = $1", previousBatch.String()).
		Set("enrolled_courses = enrolled_courses - $2::text", dropCourse.String()).
		Set("updated_at = $3", now()).
		Where("student_id = $4", studentID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, bursar.ErrProfileNotFound)
}

// ==================== Fee Store ====================

func (s *Store) CreateFeeStructure(ctx context.Context, fs *fee.Structure) error {
	_, err := s.pg.NewInsert(toFeeStructureModel(fs)).Exec(ctx)
	if constraint, ok := uniqueViolation(err); ok {
		if constraint == idxEnrollment {
			return bursar.ErrFeeStructureExists
		}
		return bursar.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetFeeStructure(ctx context.Context, structureID id.FeeStructureID) (*fee.Structure, error) {
	m := new(feeStructureModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", structureID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrFeeStructureNotFound
		}
		return nil, err
	}
	return fromFeeStructureModel(m)
}

func (s *Store) GetFeeStructureByEnrollment(ctx context.Context, studentID id.StudentID, batchID id.BatchID) (*fee.Structure, error) {
	m := new(feeStructureModel)
	err := s.pg.NewSelect(m).
		Where("student_id = $1", studentID.String()).
		Where("batch_id = $2", batchID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrFeeStructureNotFound
		}
		return nil, err
	}
	return fromFeeStructureModel(m)
}

func (s *Store) ListFeeStructures(ctx context.Context, studentID id.StudentID) ([]*fee.Structure, error) {
	var models []feeStructureModel
	err := s.pg.NewSelect(&models).
		Where("student_id = $1", studentID.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromFeeStructureModels(models)
}

func (s *Store) ListPendingFeeStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	var models []feeStructureModel
	q := s.pg.NewSelect(&models).Where("pending_amount > 0")

	if !opts.After.IsNil() {
		q = q.Where("id > $1", opts.After.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromFeeStructureModels(models)
}

// UpdateFeeStructure writes the balance fields only while the stored
// version still matches.
func (s *Store) UpdateFeeStructure(ctx context.Context, fs *fee.Structure) error {
	m := toFeeStructureModel(fs)
	res, err := s.pg.NewUpdate((*feeStructureModel)(nil)).
		Set("paid_amount = $1", m.PaidAmount).
		Set("pending_amount = $2", m.PendingAmount).
		Set("installments = $3::jsonb", string(m.Installments)).
		Set("version = $4", fs.Version+1).
		Set("updated_at = $5", m.UpdatedAt).
		Where("id = $6", m.ID).
		Where("version = $7", fs.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetFeeStructure(ctx, fs.ID); err != nil {
			return err
		}
		return bursar.ErrConcurrentUpdate
	}
	fs.Version++
	return nil
}

func (s *Store) CreateFeePayment(ctx context.Context, p *fee.Payment) error {
	_, err := s.pg.NewInsert(toFeePaymentModel(p)).Exec(ctx)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case idxPaymentReceipt:
			return bursar.ErrDuplicateReceipt
		case idxPaymentIdempotent:
			return bursar.ErrDuplicatePayment
		default:
			return bursar.ErrAlreadyExists
		}
	}
	return err
}

func (s *Store) GetFeePaymentByIdempotencyKey(ctx context.Context, structureID id.FeeStructureID, key string) (*fee.Payment, error) {
	m := new(feePaymentModel)
	err := s.pg.NewSelect(m).
		Where("fee_structure_id = $1", structureID.String()).
		Where("idempotency_key = $2", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromFeePaymentModel(m)
}

func (s *Store) ListFeePayments(ctx context.Context, studentID id.StudentID, opts fee.ListOpts) ([]*fee.Payment, error) {
	var models []feePaymentModel
	q := s.pg.NewSelect(&models).Where("student_id = $1", studentID.String())

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("paid_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*fee.Payment, len(models))
	for i := range models {
		p, err := fromFeePaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) FeeTotals(ctx context.Context, currency string) (*fee.Totals, error) {
	var collected, pending int64
	err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(amount), 0) FROM bursar_fee_payments WHERE currency = $1
	`, currency).Scan(ctx, &collected)
	if err != nil {
		return nil, err
	}
	err = s.pg.NewRaw(`
		SELECT COALESCE(SUM(pending_amount), 0) FROM bursar_fee_structures WHERE currency = $1
	`, currency).Scan(ctx, &pending)
	if err != nil {
		return nil, err
	}
	return &fee.Totals{
		Collected: types.Money{Amount: collected, Currency: currency},
		Pending:   types.Money{Amount: pending, Currency: currency},
	}, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

func fromFeeStructureModels(models []feeStructureModel) ([]*fee.Structure, error) {
	result := make([]*fee.Structure, len(models))
	for i := range models {
		fs, err := fromFeeStructureModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = fs
	}
	return result, nil
}

// rowsAffected is the part of a grove exec result used here.
type rowsAffected interface {
	RowsAffected() (int64, error)
}

// requireRow maps an update or delete that touched nothing to notFound.
func requireRow(res rowsAffected, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// uniqueViolation reports a unique_violation (23505) and the index it hit.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}
