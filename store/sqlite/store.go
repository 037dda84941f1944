package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	modsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	bursarstore "github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// compile-time interface check
var _ bursarstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("bursar/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("bursar/sqlite: migration failed: %w", err)
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
	_, err := s.sdb.NewInsert(toBatchModel(b)).Exec(ctx)
	if isUniqueViolation(err) {
		return bursar.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	m := new(batchModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", batchID.String()).
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
	q := s.sdb.NewSelect(&models)

	if !opts.CourseID.IsNil() {
		q = q.Where("course_id = ?", opts.CourseID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	res, err := s.sdb.NewUpdate((*batchModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", now()).
		Where("id = ?", batchID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, bursar.ErrBatchNotFound)
}

// AddToRoster appends the student with json_insert in one UPDATE guarded by
// the capacity and membership predicates.
func (s *Store) AddToRoster(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error {
	sid := studentID.String()
	res, err := s.sdb.NewUpdate((*batchModel)(nil)).
		Set("enrolled_students = json_insert(enrolled_students, '$[#]', ?)", sid).
		Set("updated_at = ?", now()).
		Where("id = ?", batchID.String()).
		Where("json_array_length(enrolled_students) < max_students").
		Where("NOT EXISTS (SELECT 1 FROM json_each(enrolled_students) WHERE value = ?)", sid).
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

	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if err := bursar.CheckRoster(b, studentID); err != nil {
		return err
	}
	return bursar.ErrConcurrentUpdate
}

func (s *Store) RemoveFromRoster(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error {
	res, err := s.sdb.NewUpdate((*batchModel)(nil)).
		Set("enrolled_students = (SELECT json_group_array(value) FROM json_each(enrolled_students) WHERE value != ?)", studentID.String()).
		Set("updated_at = ?", now()).
		Where("id = ?", batchID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, bursar.ErrBatchNotFound)
}

// ==================== Student Store ====================

func (s *Store) CreateStudent(ctx context.Context, st *student.Student) error {
	_, err := s.sdb.NewInsert(toStudentModel(st)).Exec(ctx)
	if isUniqueViolation(err) {
		return bursar.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	m := new(studentModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", studentID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("email = ?", email).
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
	_, err := s.sdb.NewInsert(toProfileModel(p)).Exec(ctx)
	if constraint, ok := uniqueViolation(err); ok {
		if strings.Contains(constraint, "enrollment_number") {
			return bursar.ErrDuplicateEnrollmentNumber
		}
		return bursar.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetProfile(ctx context.Context, studentID id.StudentID) (*student.Profile, error) {
	m := new(profileModel)
	err := s.sdb.NewSelect(m).
		Where("student_id = ?", studentID.String()).
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
	course := courseID.String()
	t := now()

	var profileID string
	err := s.sdb.NewRaw(`
		INSERT INTO bursar_student_profiles
			(id, student_id, enrollment_number, batch_id, enrolled_courses, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, CASE WHEN ? = '' THEN '[]' ELSE json_array(?) END, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			batch_id = excluded.batch_id,
			enrolled_courses = CASE
				WHEN ? = '' OR EXISTS (SELECT 1 FROM json_each(bursar_student_profiles.enrolled_courses) WHERE value = ?)
				THEN bursar_student_profiles.enrolled_courses
				ELSE json_insert(bursar_student_profiles.enrolled_courses, '$[#]', ?)
			END,
			updated_at = excluded.updated_at
		RETURNING id
	`, m.ID, m.StudentID, m.EnrollmentNumber, batchID.String(), course, course, m.Status, t, t,
		course, course, course).Scan(ctx, &profileID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, bursar.ErrDuplicateEnrollmentNumber
		}
		return nil, err
	}
	return s.GetProfile(ctx, template.StudentID)
}

func (s *Store) ClearBatch(ctx context.Context, studentID id.StudentID, batchID id.BatchID) error {
	res, err := s.sdb.NewUpdate((*profileModel)(nil)).
		Set("batch_id = ''").
		Set("updated_at = ?", now()).
		Where("student_id = ?", studentID.String()).
		Where("batch_id = ?", batchID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		_, err := s.GetProfile(ctx, studentID)
		return err
	}
	return nil
}

func (s *Store) UndoAssign(ctx context.Context, studentID id.StudentID, previousBatch id.BatchID, dropCourse id.CourseID) error {
	res, err := s.sdb.NewUpdate((*profileModel)(nil)).
		Set("batch_id = ?", previousBatch.String()).
		Set("enrolled_courses = (SELECT json_group_array(value) FROM json_each(enrolled_courses) WHERE value != ?)", dropCourse.String()).
		Set("updated_at = ?", now()).
		Where("student_id = ?", studentID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, bursar.ErrProfileNotFound)
}

// ==================== Fee Store ====================

func (s *Store) CreateFeeStructure(ctx context.Context, fs *fee.Structure) error {
	_, err := s.sdb.NewInsert(toFeeStructureModel(fs)).Exec(ctx)
	if constraint, ok := uniqueViolation(err); ok {
		if strings.Contains(constraint, "batch_id") {
			return bursar.ErrFeeStructureExists
		}
		return bursar.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetFeeStructure(ctx context.Context, structureID id.FeeStructureID) (*fee.Structure, error) {
	m := new(feeStructureModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", structureID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("student_id = ?", studentID.String()).
		Where("batch_id = ?", batchID.String()).
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
	err := s.sdb.NewSelect(&models).
		Where("student_id = ?", studentID.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromFeeStructureModels(models)
}

func (s *Store) ListPendingFeeStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	var models []feeStructureModel
	q := s.sdb.NewSelect(&models).Where("pending_amount > 0")

	if !opts.After.IsNil() {
		q = q.Where("id > ?", opts.After.String())
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

func (s *Store) UpdateFeeStructure(ctx context.Context, fs *fee.Structure) error {
	m := toFeeStructureModel(fs)
	res, err := s.sdb.NewUpdate((*feeStructureModel)(nil)).
		Set("paid_amount = ?", m.PaidAmount).
		Set("pending_amount = ?", m.PendingAmount).
		Set("installments = ?", m.Installments).
		Set("version = ?", fs.Version+1).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Where("version = ?", fs.Version).
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
	_, err := s.sdb.NewInsert(toFeePaymentModel(p)).Exec(ctx)
	if constraint, ok := uniqueViolation(err); ok {
		switch {
		case strings.Contains(constraint, "receipt_number"):
			return bursar.ErrDuplicateReceipt
		case strings.Contains(constraint, "idempotency_key"):
			return bursar.ErrDuplicatePayment
		default:
			return bursar.ErrAlreadyExists
		}
	}
	return err
}

func (s *Store) GetFeePaymentByIdempotencyKey(ctx context.Context, structureID id.FeeStructureID, key string) (*fee.Payment, error) {
	m := new(feePaymentModel)
	err := s.sdb.NewSelect(m).
		Where("fee_structure_id = ?", structureID.String()).
		Where("idempotency_key = ?", key).
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
	q := s.sdb.NewSelect(&models).Where("student_id = ?", studentID.String())

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
	err := s.sdb.NewRaw(`
		SELECT COALESCE(SUM(amount), 0) FROM bursar_fee_payments WHERE currency = ?
	`, currency).Scan(ctx, &collected)
	if err != nil {
		return nil, err
	}
	err = s.sdb.NewRaw(`
		SELECT COALESCE(SUM(pending_amount), 0) FROM bursar_fee_structures WHERE currency = ?
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

// uniqueViolation reports a UNIQUE or PRIMARY KEY failure and the message
// naming the columns involved.
func uniqueViolation(err error) (string, bool) {
	var sqliteErr *modsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return sqliteErr.Error(), true
	default:
		return "", false
	}
}

func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}
