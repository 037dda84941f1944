package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// ==================== Batch models ====================

type batchModel struct {
	grove.BaseModel `grove:"table:bursar_batches"`

	ID               string    `grove:"id,pk"`
	Name             string    `grove:"name"`
	CourseID         string    `grove:"course_id"`
	TeacherID        string    `grove:"teacher_id"`
	Schedule         string    `grove:"schedule"`
	StartDate        time.Time `grove:"start_date"`
	EndDate          time.Time `grove:"end_date"`
	MaxStudents      int       `grove:"max_students"`
	EnrolledStudents string    `grove:"enrolled_students"`
	Status           string    `grove:"status"`
	CreatedAt        time.Time `grove:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"`
}

func toBatchModel(b *batch.Batch) *batchModel {
	return &batchModel{
		ID:               b.ID.String(),
		Name:             b.Name,
		CourseID:         b.CourseID.String(),
		TeacherID:        b.TeacherID.String(),
		Schedule:         b.Schedule,
		StartDate:        b.StartDate.UTC(),
		EndDate:          b.EndDate.UTC(),
		MaxStudents:      b.MaxStudents,
		EnrolledStudents: marshalIDs(b.EnrolledStudents),
		Status:           string(b.Status),
		CreatedAt:        b.CreatedAt.UTC(),
		UpdatedAt:        b.UpdatedAt.UTC(),
	}
}

func fromBatchModel(m *batchModel) (*batch.Batch, error) {
	batchID, err := id.ParseBatchID(m.ID)
	if err != nil {
		return nil, err
	}
	courseID, err := parseOptional(m.CourseID)
	if err != nil {
		return nil, err
	}
	teacherID, err := parseOptional(m.TeacherID)
	if err != nil {
		return nil, err
	}
	roster, err := unmarshalIDs(m.EnrolledStudents)
	if err != nil {
		return nil, fmt.Errorf("bursar/sqlite: batch %s roster: %w", m.ID, err)
	}
	return &batch.Batch{
		Entity:           types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:               batchID,
		Name:             m.Name,
		CourseID:         courseID,
		TeacherID:        teacherID,
		Schedule:         m.Schedule,
		StartDate:        m.StartDate,
		EndDate:          m.EndDate,
		MaxStudents:      m.MaxStudents,
		EnrolledStudents: roster,
		Status:           batch.Status(m.Status),
	}, nil
}

// ==================== Student models ====================

type studentModel struct {
	grove.BaseModel `grove:"table:bursar_students"`

	ID        string    `grove:"id,pk"`
	Name      string    `grove:"name"`
	Email     string    `grove:"email"`
	Phone     string    `grove:"phone"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toStudentModel(s *student.Student) *studentModel {
	return &studentModel{
		ID:        s.ID.String(),
		Name:      s.Name,
		Email:     s.Email,
		Phone:     s.Phone,
		CreatedAt: s.CreatedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
	}
}

func fromStudentModel(m *studentModel) (*student.Student, error) {
	studentID, err := id.ParseStudentID(m.ID)
	if err != nil {
		return nil, err
	}
	return &student.Student{
		Entity: types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:     studentID,
		Name:   m.Name,
		Email:  m.Email,
		Phone:  m.Phone,
	}, nil
}

type profileModel struct {
	grove.BaseModel `grove:"table:bursar_student_profiles"`

	ID               string    `grove:"id,pk"`
	StudentID        string    `grove:"student_id"`
	EnrollmentNumber string    `grove:"enrollment_number"`
	BatchID          string    `grove:"batch_id"`
	EnrolledCourses  string    `grove:"enrolled_courses"`
	Status           string    `grove:"status"`
	CreatedAt        time.Time `grove:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"`
}

func toProfileModel(p *student.Profile) *profileModel {
	return &profileModel{
		ID:               p.ID.String(),
		StudentID:        p.StudentID.String(),
		EnrollmentNumber: p.EnrollmentNumber,
		BatchID:          p.BatchID.String(),
		EnrolledCourses:  marshalIDs(p.EnrolledCourses),
		Status:           string(p.Status),
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func fromProfileModel(m *profileModel) (*student.Profile, error) {
	profileID, err := id.ParseProfileID(m.ID)
	if err != nil {
		return nil, err
	}
	studentID, err := id.ParseStudentID(m.StudentID)
	if err != nil {
		return nil, err
	}
	batchID, err := parseOptional(m.BatchID)
	if err != nil {
		return nil, err
	}
	courses, err := unmarshalIDs(m.EnrolledCourses)
	if err != nil {
		return nil, fmt.Errorf("bursar/sqlite: profile %s courses: %w", m.ID, err)
	}
	return &student.Profile{
		Entity:           types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:               profileID,
		StudentID:        studentID,
		EnrollmentNumber: m.EnrollmentNumber,
		BatchID:          batchID,
		EnrolledCourses:  courses,
		Status:           student.Status(m.Status),
	}, nil
}

// ==================== Fee models ====================

type feeStructureModel struct {
	grove.BaseModel `grove:"table:bursar_fee_structures"`

	ID            string    `grove:"id,pk"`
	StudentID     string    `grove:"student_id"`
	CourseID      string    `grove:"course_id"`
	BatchID       string    `grove:"batch_id"`
	Currency      string    `grove:"currency"`
	TotalFee      int64     `grove:"total_fee"`
	Discount      int64     `grove:"discount"`
	PaidAmount    int64     `grove:"paid_amount"`
	PendingAmount int64     `grove:"pending_amount"`
	Installments  string    `grove:"installments"`
	Version       int64     `grove:"version"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

// installmentModel is the stored form of one installment. Amounts share
// the structure's currency.
type installmentModel struct {
	Number  int       `json:"number"`
	Amount  int64     `json:"amount"`
	DueDate time.Time `json:"due_date"`
	Status  string    `json:"status"`
}

func toFeeStructureModel(s *fee.Structure) *feeStructureModel {
	installments := make([]installmentModel, len(s.Installments))
	for i, in := range s.Installments {
		installments[i] = installmentModel{
			Number:  in.Number,
			Amount:  in.Amount.Amount,
			DueDate: in.DueDate.UTC(),
			Status:  string(in.Status),
		}
	}
	raw, _ := json.Marshal(installments) //nolint:errcheck // plain struct slice

	return &feeStructureModel{
		ID:            s.ID.String(),
		StudentID:     s.StudentID.String(),
		CourseID:      s.CourseID.String(),
		BatchID:       s.BatchID.String(),
		Currency:      s.TotalFee.Currency,
		TotalFee:      s.TotalFee.Amount,
		Discount:      s.Discount.Amount,
		PaidAmount:    s.PaidAmount.Amount,
		PendingAmount: s.PendingAmount.Amount,
		Installments:  string(raw),
		Version:       s.Version,
		CreatedAt:     s.CreatedAt.UTC(),
		UpdatedAt:     s.UpdatedAt.UTC(),
	}
}

func fromFeeStructureModel(m *feeStructureModel) (*fee.Structure, error) {
	structureID, err := id.ParseFeeStructureID(m.ID)
	if err != nil {
		return nil, err
	}
	studentID, err := id.ParseStudentID(m.StudentID)
	if err != nil {
		return nil, err
	}
	courseID, err := parseOptional(m.CourseID)
	if err != nil {
		return nil, err
	}
	batchID, err := id.ParseBatchID(m.BatchID)
	if err != nil {
		return nil, err
	}

	var stored []installmentModel
	if len(m.Installments) > 0 {
		if err := json.Unmarshal([]byte(m.Installments), &stored); err != nil {
			return nil, fmt.Errorf("bursar/sqlite: fee structure %s installments: %w", m.ID, err)
		}
	}
	installments := make([]fee.Installment, len(stored))
	for i, in := range stored {
		installments[i] = fee.Installment{
			Number:  in.Number,
			Amount:  types.Money{Amount: in.Amount, Currency: m.Currency},
			DueDate: in.DueDate,
			Status:  fee.InstallmentStatus(in.Status),
		}
	}

	return &fee.Structure{
		Entity:        types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:            structureID,
		StudentID:     studentID,
		CourseID:      courseID,
		BatchID:       batchID,
		TotalFee:      types.Money{Amount: m.TotalFee, Currency: m.Currency},
		Discount:      types.Money{Amount: m.Discount, Currency: m.Currency},
		PaidAmount:    types.Money{Amount: m.PaidAmount, Currency: m.Currency},
		PendingAmount: types.Money{Amount: m.PendingAmount, Currency: m.Currency},
		Installments:  installments,
		Version:       m.Version,
	}, nil
}

type feePaymentModel struct {
	grove.BaseModel `grove:"table:bursar_fee_payments"`

	ID                string    `grove:"id,pk"`
	FeeStructureID    string    `grove:"fee_structure_id"`
	StudentID         string    `grove:"student_id"`
	Amount            int64     `grove:"amount"`
	Currency          string    `grove:"currency"`
	Method            string    `grove:"payment_method"`
	TransactionID     string    `grove:"transaction_id"`
	InstallmentNumber int       `grove:"installment_number"`
	ReceiptNumber     string    `grove:"receipt_number"`
	IdempotencyKey    string    `grove:"idempotency_key"`
	Notes             string    `grove:"notes"`
	PaidAt            time.Time `grove:"paid_at"`
}

func toFeePaymentModel(p *fee.Payment) *feePaymentModel {
	return &feePaymentModel{
		ID:                p.ID.String(),
		FeeStructureID:    p.FeeStructureID.String(),
		StudentID:         p.StudentID.String(),
		Amount:            p.Amount.Amount,
		Currency:          p.Amount.Currency,
		Method:            string(p.Method),
		TransactionID:     p.TransactionID,
		InstallmentNumber: p.InstallmentNumber,
		ReceiptNumber:     p.ReceiptNumber,
		IdempotencyKey:    p.IdempotencyKey,
		Notes:             p.Notes,
		PaidAt:            p.PaidAt.UTC(),
	}
}

func fromFeePaymentModel(m *feePaymentModel) (*fee.Payment, error) {
	paymentID, err := id.ParseFeePaymentID(m.ID)
	if err != nil {
		return nil, err
	}
	structureID, err := id.ParseFeeStructureID(m.FeeStructureID)
	if err != nil {
		return nil, err
	}
	studentID, err := id.ParseStudentID(m.StudentID)
	if err != nil {
		return nil, err
	}
	return &fee.Payment{
		ID:                paymentID,
		FeeStructureID:    structureID,
		StudentID:         studentID,
		Amount:            types.Money{Amount: m.Amount, Currency: m.Currency},
		Method:            fee.Method(m.Method),
		TransactionID:     m.TransactionID,
		InstallmentNumber: m.InstallmentNumber,
		ReceiptNumber:     m.ReceiptNumber,
		IdempotencyKey:    m.IdempotencyKey,
		Notes:             m.Notes,
		PaidAt:            m.PaidAt,
	}, nil
}

// ==================== Helpers ====================

// marshalIDs encodes an ID list as JSON array text; nil encodes as [].
func marshalIDs(ids []id.ID) string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	raw, _ := json.Marshal(out) //nolint:errcheck // []string always marshals
	return string(raw)
}

func unmarshalIDs(raw string) ([]id.ID, error) {
	var strs []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &strs); err != nil {
			return nil, err
		}
	}
	out := make([]id.ID, 0, len(strs))
	for _, s := range strs {
		v, err := id.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseOptional parses a stored ID column where "" means Nil.
func parseOptional(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}
