package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	bursarstore "github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// Collection name constants.
const (
	colBatches       = "bursar_batches"
	colStudents      = "bursar_students"
	colProfiles      = "bursar_student_profiles"
	colFeeStructures = "bursar_fee_structures"
	colFeePayments   = "bursar_fee_payments"
)

// Unique index names used to classify duplicate key errors.
const (
	idxStudentEmail      = "idx_bursar_students_email"
	idxProfileStudent    = "idx_bursar_profiles_student"
	idxEnrollmentNumber  = "idx_bursar_profiles_enrollment_number"
	idxEnrollment        = "idx_bursar_fee_structures_enrollment"
	idxPaymentReceipt    = "idx_bursar_fee_payments_receipt"
	idxPaymentIdempotent = "idx_bursar_fee_payments_idempotency"
)

// compile-time interface check
var _ bursarstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all bursar collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("bursar/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(toBatchModel(b)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return bursar.ErrAlreadyExists
		}
		return fmt.Errorf("bursar/mongo: create batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	var m batchModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": batchID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrBatchNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get batch: %w", err)
	}
	return fromBatchModel(&m)
}

func (s *Store) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	var models []batchModel

	filter := bson.M{}
	if !opts.CourseID.IsNil() {
		filter["course_id"] = opts.CourseID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bursar/mongo: list batches: %w", err)
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
	res, err := s.mdb.NewUpdate((*batchModel)(nil)).
		Filter(bson.M{"_id": batchID.String()}).
		Set("status", string(status)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: update batch status: %w", err)
	}
	if res.MatchedCount() == 0 {
		return bursar.ErrBatchNotFound
	}
	return nil
}

// AddToRoster pushes the student with a filter that only matches while the
// roster is below max_students and does not hold the student yet.
func (s *Store) AddToRoster(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error {
	sid := studentID.String()
	res, err := s.mdb.NewUpdate((*batchModel)(nil)).
		Filter(bson.M{
			"_id":               batchID.String(),
			"enrolled_students": bson.M{"$ne": sid},
			"$expr": bson.M{
				"$lt": bson.A{bson.M{"$size": "$enrolled_students"}, "$max_students"},
			},
		}).
		SetUpdate(bson.M{
			"$push": bson.M{"enrolled_students": sid},
			"$set":  bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: add to roster: %w", err)
	}
	if res.MatchedCount() > 0 {
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
	res, err := s.mdb.NewUpdate((*batchModel)(nil)).
		Filter(bson.M{"_id": batchID.String()}).
		SetUpdate(bson.M{
			"$pull": bson.M{"enrolled_students": studentID.String()},
			"$set":  bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: remove from roster: %w", err)
	}
	if res.MatchedCount() == 0 {
		return bursar.ErrBatchNotFound
	}
	return nil
}

// ==================== Student Store ====================

func (s *Store) CreateStudent(ctx context.Context, st *student.Student) error {
	_, err := s.mdb.NewInsert(toStudentModel(st)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return bursar.ErrAlreadyExists
		}
		return fmt.Errorf("bursar/mongo: create student: %w", err)
	}
	return nil
}

func (s *Store) GetStudent(ctx context.Context, studentID id.StudentID) (*student.Student, error) {
	var m studentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": studentID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrStudentNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get student: %w", err)
	}
	return fromStudentModel(&m)
}

func (s *Store) GetStudentByEmail(ctx context.Context, email string) (*student.Student, error) {
	var m studentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"email": email}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrStudentNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get student by email: %w", err)
	}
	return fromStudentModel(&m)
}

func (s *Store) CreateProfile(ctx context.Context, p *student.Profile) error {
	_, err := s.mdb.NewInsert(toProfileModel(p)).Exec(ctx)
	if err != nil {
		if duplicateOn(err, idxEnrollmentNumber) {
			return bursar.ErrDuplicateEnrollmentNumber
		}
		if mongo.IsDuplicateKeyError(err) {
			return bursar.ErrAlreadyExists
		}
		return fmt.Errorf("bursar/mongo: create profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, studentID id.StudentID) (*student.Profile, error) {
	var m profileModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"student_id": studentID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrProfileNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get profile: %w", err)
	}
	return fromProfileModel(&m)
}

// AssignBatch upserts the profile keyed by student_id. Template fields are
// only written on insert.
func (s *Store) AssignBatch(ctx context.Context, template *student.Profile, batchID id.BatchID, courseID id.CourseID) (*student.Profile, error) {
	m := toProfileModel(template)
	t := now()

	onInsert := bson.M{
		"_id":               m.ID,
		"enrollment_number": m.EnrollmentNumber,
		"status":            m.Status,
		"created_at":        t,
	}
	update := bson.M{
		"$set":         bson.M{"batch_id": batchID.String(), "updated_at": t},
		"$setOnInsert": onInsert,
	}
	if courseID.IsNil() {
		onInsert["enrolled_courses"] = []string{}
	} else {
		update["$addToSet"] = bson.M{"enrolled_courses": courseID.String()}
	}

	_, err := s.mdb.NewUpdate((*profileModel)(nil)).
		Filter(bson.M{"student_id": m.StudentID}).
		SetUpdate(update).
		Upsert().
		Exec(ctx)
	if err != nil {
		switch {
		case duplicateOn(err, idxEnrollmentNumber):
			return nil, bursar.ErrDuplicateEnrollmentNumber
		case duplicateOn(err, idxProfileStudent):
			// two upserts raced to insert the same student
			return nil, bursar.ErrConcurrentUpdate
		default:
			return nil, fmt.Errorf("bursar/mongo: assign batch: %w", err)
		}
	}
	return s.GetProfile(ctx, template.StudentID)
}

func (s *Store) ClearBatch(ctx context.Context, studentID id.StudentID, batchID id.BatchID) error {
	res, err := s.mdb.NewUpdate((*profileModel)(nil)).
		Filter(bson.M{"student_id": studentID.String(), "batch_id": batchID.String()}).
		Set("batch_id", "").
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: clear batch: %w", err)
	}
	if res.MatchedCount() == 0 {
		_, err := s.GetProfile(ctx, studentID)
		return err
	}
	return nil
}

func (s *Store) UndoAssign(ctx context.Context, studentID id.StudentID, previousBatch id.BatchID, dropCourse id.CourseID) error {
	update := bson.M{
		"$set": bson.M{"batch_id": previousBatch.String(), "updated_at": now()},
	}
	if !dropCourse.IsNil() {
		update["$pull"] = bson.M{"enrolled_courses": dropCourse.String()}
	}
	res, err := s.mdb.NewUpdate((*profileModel)(nil)).
		Filter(bson.M{"student_id": studentID.String()}).
		SetUpdate(update).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: undo assign: %w", err)
	}
	if res.MatchedCount() == 0 {
		return bursar.ErrProfileNotFound
	}
	return nil
}

// ==================== Fee Store ====================

func (s *Store) CreateFeeStructure(ctx context.Context, fs *fee.Structure) error {
	_, err := s.mdb.NewInsert(toFeeStructureModel(fs)).Exec(ctx)
	if err != nil {
		if duplicateOn(err, idxEnrollment) {
			return bursar.ErrFeeStructureExists
		}
		if mongo.IsDuplicateKeyError(err) {
			return bursar.ErrAlreadyExists
		}
		return fmt.Errorf("bursar/mongo: create fee structure: %w", err)
	}
	return nil
}

func (s *Store) GetFeeStructure(ctx context.Context, structureID id.FeeStructureID) (*fee.Structure, error) {
	var m feeStructureModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": structureID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrFeeStructureNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get fee structure: %w", err)
	}
	return fromFeeStructureModel(&m)
}

func (s *Store) GetFeeStructureByEnrollment(ctx context.Context, studentID id.StudentID, batchID id.BatchID) (*fee.Structure, error) {
	var m feeStructureModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"student_id": studentID.String(), "batch_id": batchID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrFeeStructureNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get fee structure by enrollment: %w", err)
	}
	return fromFeeStructureModel(&m)
}

func (s *Store) ListFeeStructures(ctx context.Context, studentID id.StudentID) ([]*fee.Structure, error) {
	var models []feeStructureModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"student_id": studentID.String()}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: list fee structures: %w", err)
	}
	return fromFeeStructureModels(models)
}

func (s *Store) ListPendingFeeStructures(ctx context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	var models []feeStructureModel

	filter := bson.M{"pending_amount": bson.M{"$gt": 0}}
	if !opts.After.IsNil() {
		filter["_id"] = bson.M{"$gt": opts.After.String()}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bursar/mongo: list pending fee structures: %w", err)
	}
	return fromFeeStructureModels(models)
}

// UpdateFeeStructure matches on the expected version and bumps it in the
// same write.
func (s *Store) UpdateFeeStructure(ctx context.Context, fs *fee.Structure) error {
	m := toFeeStructureModel(fs)
	res, err := s.mdb.NewUpdate((*feeStructureModel)(nil)).
		Filter(bson.M{"_id": m.ID, "version": fs.Version}).
		SetUpdate(bson.M{"$set": bson.M{
			"paid_amount":    m.PaidAmount,
			"pending_amount": m.PendingAmount,
			"installments":   m.Installments,
			"version":        fs.Version + 1,
			"updated_at":     m.UpdatedAt,
		}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: update fee structure: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetFeeStructure(ctx, fs.ID); err != nil {
			return err
		}
		return bursar.ErrConcurrentUpdate
	}
	fs.Version++
	return nil
}

func (s *Store) CreateFeePayment(ctx context.Context, p *fee.Payment) error {
	_, err := s.mdb.NewInsert(toFeePaymentModel(p)).Exec(ctx)
	if err != nil {
		switch {
		case duplicateOn(err, idxPaymentReceipt):
			return bursar.ErrDuplicateReceipt
		case duplicateOn(err, idxPaymentIdempotent):
			return bursar.ErrDuplicatePayment
		case mongo.IsDuplicateKeyError(err):
			return bursar.ErrAlreadyExists
		default:
			return fmt.Errorf("bursar/mongo: create fee payment: %w", err)
		}
	}
	return nil
}

func (s *Store) GetFeePaymentByIdempotencyKey(ctx context.Context, structureID id.FeeStructureID, key string) (*fee.Payment, error) {
	var m feePaymentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"fee_structure_id": structureID.String(), "idempotency_key": key}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get fee payment: %w", err)
	}
	return fromFeePaymentModel(&m)
}

func (s *Store) ListFeePayments(ctx context.Context, studentID id.StudentID, opts fee.ListOpts) ([]*fee.Payment, error) {
	var models []feePaymentModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"student_id": studentID.String()}).
		Sort(bson.D{{Key: "paid_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bursar/mongo: list fee payments: %w", err)
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
	collected, err := s.sum(ctx, colFeePayments, currency, "$amount")
	if err != nil {
		return nil, err
	}
	pending, err := s.sum(ctx, colFeeStructures, currency, "$pending_amount")
	if err != nil {
		return nil, err
	}
	return &fee.Totals{
		Collected: types.Money{Amount: collected, Currency: currency},
		Pending:   types.Money{Amount: pending, Currency: currency},
	}, nil
}

// sum totals one field over the documents of col in the given currency.
func (s *Store) sum(ctx context.Context, col, currency, field string) (int64, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"currency": currency}},
		bson.M{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": field}}},
	}

	cursor, err := s.mdb.Collection(col).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("bursar/mongo: aggregate %s: %w", col, err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("bursar/mongo: aggregate decode: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// duplicateOn reports a duplicate key error raised by the named index.
// The server names the index in the error message.
func duplicateOn(err error, index string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), index)
}

// migrationIndexes returns the index definitions for all bursar collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colBatches: {
			{Keys: bson.D{{Key: "course_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colStudents: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxStudentEmail),
			},
		},
		colProfiles: {
			{
				Keys:    bson.D{{Key: "student_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxProfileStudent),
			},
			{
				Keys:    bson.D{{Key: "enrollment_number", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxEnrollmentNumber),
			},
			{Keys: bson.D{{Key: "batch_id", Value: 1}}},
		},
		colFeeStructures: {
			{
				Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "batch_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxEnrollment),
			},
			{
				Keys:    bson.D{{Key: "_id", Value: 1}, {Key: "pending_amount", Value: 1}},
				Options: options.Index().SetPartialFilterExpression(bson.M{"pending_amount": bson.M{"$gt": 0}}),
			},
		},
		colFeePayments: {
			{
				Keys:    bson.D{{Key: "receipt_number", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxPaymentReceipt),
			},
			{
				Keys: bson.D{{Key: "fee_structure_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName(idxPaymentIdempotent).
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "paid_at", Value: -1}}},
		},
	}
}
