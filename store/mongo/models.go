package mongo

import (
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

	ID               string    `grove:"id,pk"             bson:"_id"`
	Name             string    `grove:"name"              bson:"name"`
	CourseID         string    `grove:"course_id"         bson:"course_id"`
	TeacherID        string    `grove:"teacher_id"        bson:"teacher_id"`
	Schedule         string    `grove:"schedule"          bson:"schedule"`
	StartDate        time.Time `grove:"start_date"        bson:"start_date"`
	EndDate          time.Time `grove:"end_date"          bson:"end_date"`
	MaxStudents      int       `grove:"max_students"      bson:"max_students"`
	EnrolledStudents []string  `grove:"enrolled_students" bson:"enrolled_students"`
	Status           string    `grove:"status"            bson:"status"`
	CreatedAt        time.Time `grove:"created_at"        bson:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"        bson:"updated_at"`
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
		EnrolledStudents: idStrings(b.EnrolledStudents),
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
	roster, err := parseIDs(m.EnrolledStudents)
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: batch %s roster: %w", m.ID, err)
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

	ID        string    `grove:"id,pk"      bson:"_id"`
	Name      string    `grove:"name"       bson:"name"`
	Email     string    `grove:"email"      bson:"email"`
	Phone     string    `grove:"phone"      bson:"phone,omitempty"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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

	ID               string    `grove:"id,pk"             bson:"_id"`
	StudentID        string    `grove:"student_id"        bson:"student_id"`
	EnrollmentNumber string    `grove:"enrollment_number" bson:"enrollment_number"`
	BatchID          string    `grove:"batch_id"          bson:"batch_id"`
	EnrolledCourses  []string  `grove:"enrolled_courses"  bson:"enrolled_courses"`
	Status           string    `grove:"status"            bson:"status"`
	CreatedAt        time.Time `grove:"created_at"        bson:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"        bson:"updated_at"`
}

func toProfileModel(p *student.Profile) *profileModel {
	return &profileModel{
		ID:               p.ID.String(),
		StudentID:        p.StudentID.String(),
		EnrollmentNumber: p.EnrollmentNumber,
		BatchID:          p.BatchID.String(),
		EnrolledCourses:  idStrings(p.EnrolledCourses),
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
	courses, err := parseIDs(m.EnrolledCourses)
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: profile %s courses: %w", m.ID, err)
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

	ID            string             `grove:"id,pk"          bson:"_id"`
	StudentID     string             `grove:"student_id"     bson:"student_id"`
	CourseID      string             `grove:"course_id"      bson:"course_id"`
	BatchID       string             `grove:"batch_id"       bson:"batch_id"`
	Currency      string             `grove:"currency"       bson:"currency"`
	TotalFee      int64              `grove:"total_fee"      bson:"total_fee"`
	Discount      int64              `grove:"discount"       bson:"discount"`
	PaidAmount    int64              `grove:"paid_amount"    bson:"paid_amount"`
	PendingAmount int64              `grove:"pending_amount" bson:"pending_amount"`
	Installments  []installmentModel `grove:"installments"   bson:"installments"`
	Version       int64              `grove:"version"        bson:"version"`
	CreatedAt     time.Time          `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time          `grove:"updated_at"     bson:"updated_at"`
}

type installmentModel struct {
	Number  int       `bson:"number"`
	Amount  int64     `bson:"amount"`
	DueDate time.Time `bson:"due_date"`
	Status  string    `bson:"status"`
}

func toInstallmentModels(in []fee.Installment) []installmentModel {
	out := make([]installmentModel, len(in))
	for i, inst := range in {
		out[i] = installmentModel{
			Number:  inst.Number,
			Amount:  inst.Amount.Amount,
			DueDate: inst.DueDate.UTC(),
			Status:  string(inst.Status),
		}
	}
	return out
}

func toFeeStructureModel(s *fee.Structure) *feeStructureModel {
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
		Installments:  toInstallmentModels(s.Installments),
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

	money := func(amount int64) types.Money { return types.Money{Amount: amount, Currency: m.Currency} }
	installments := make([]fee.Installment, len(m.Installments))
	for i, in := range m.Installments {
		installments[i] = fee.Installment{
			Number:  in.Number,
			Amount:  money(in.Amount),
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
		TotalFee:      money(m.TotalFee),
		Discount:      money(m.Discount),
		PaidAmount:    money(m.PaidAmount),
		PendingAmount: money(m.PendingAmount),
		Installments:  installments,
		Version:       m.Version,
	}, nil
}

type feePaymentModel struct {
	grove.BaseModel `grove:"table:bursar_fee_payments"`

	ID                string    `grove:"id,pk"              bson:"_id"`
	FeeStructureID    string    `grove:"fee_structure_id"   bson:"fee_structure_id"`
	StudentID         string    `grove:"student_id"         bson:"student_id"`
	Amount            int64     `grove:"amount"             bson:"amount"`
	Currency          string    `grove:"currency"           bson:"currency"`
	Method            string    `grove:"payment_method"     bson:"payment_method"`
	TransactionID     string    `grove:"transaction_id"     bson:"transaction_id,omitempty"`
	InstallmentNumber int       `grove:"installment_number" bson:"installment_number"`
	ReceiptNumber     string    `grove:"receipt_number"     bson:"receipt_number"`
	IdempotencyKey    string    `grove:"idempotency_key"    bson:"idempotency_key,omitempty"`
	Notes             string    `grove:"notes"              bson:"notes,omitempty"`
	PaidAt            time.Time `grove:"paid_at"            bson:"paid_at"`
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

// idStrings never returns nil so arrays are stored as [] rather than null.
func idStrings(ids []id.ID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func parseIDs(strs []string) ([]id.ID, error) {
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

// parseOptional parses a stored ID field where "" means Nil.
func parseOptional(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}
