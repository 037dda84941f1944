package bursar

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
	"github.com/xraph/bursar/types"
)

// bulkInstallments is the installment count used for bulk enrollments.
const bulkInstallments = 2

// BulkEnrollRow is one student in a bulk enrollment.
type BulkEnrollRow struct {
	Name     string      `json:"name" validate:"notblank"`
	Email    string      `json:"email" validate:"required,email"`
	Phone    string      `json:"phone,omitempty" validate:"omitempty,max=20"`
	TotalFee types.Money `json:"total_fee" validate:"gte=0"`
	Discount types.Money `json:"discount" validate:"gte=0"`
}

// BulkResult reports what a bulk enrollment did. Row numbers in Errors are
// 1-based positions in the input.
type BulkResult struct {
	Enrolled        []id.StudentID `json:"enrolled"`
	StudentsCreated int            `json:"students_created"`
	Errors          []RowError     `json:"errors"`
}

// BulkEnroll enrolls every row into the batch. A row whose email is
// unknown gets a new student. Rows fail independently: a failure is
// recorded in the result and the next row is processed. Only a missing
// batch or a cancelled context fails the call as a whole.
func (b *Bursar) BulkEnroll(ctx context.Context, batchID id.BatchID, rows []BulkEnrollRow) (*BulkResult, error) {
	if _, err := b.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}

	start := time.Now()
	res := &BulkResult{Enrolled: []id.StudentID{}, Errors: []RowError{}}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		studentID, created, err := b.enrollRow(ctx, batchID, row)
		if created {
			res.StudentsCreated++
		}
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: i + 1, Email: row.Email, Err: err})
			continue
		}
		res.Enrolled = append(res.Enrolled, studentID)
	}

	b.logger.Info("bulk enrollment finished",
		"batch_id", batchID.String(),
		"rows", len(rows),
		"enrolled", len(res.Enrolled),
		"failed", len(res.Errors),
	)
	b.plugins.EmitBulkEnrollCompleted(ctx, batchID, len(res.Enrolled), len(res.Errors), time.Since(start))
	return res, nil
}

func (b *Bursar) enrollRow(ctx context.Context, batchID id.BatchID, row BulkEnrollRow) (id.StudentID, bool, error) {
	row.Email = normalizeEmail(row.Email)
	row.TotalFee = b.inCurrency(row.TotalFee)
	row.Discount = b.inCurrency(row.Discount)
	if err := b.check(row); err != nil {
		return id.Nil, false, err
	}

	created := false
	st, err := b.store.GetStudentByEmail(ctx, row.Email)
	if errors.Is(err, ErrStudentNotFound) {
		st = &student.Student{Name: row.Name, Email: row.Email, Phone: row.Phone}
		if err = b.RegisterStudent(ctx, st); err != nil {
			return id.Nil, false, err
		}
		created = true
	} else if err != nil {
		return id.Nil, false, err
	}

	_, err = b.EnrollWithFee(ctx, EnrollInput{
		BatchID:      batchID,
		StudentID:    st.ID,
		TotalFee:     row.TotalFee,
		Discount:     row.Discount,
		Installments: bulkInstallments,
	})
	if err != nil {
		return id.Nil, created, err
	}
	return st.ID, created, nil
}

// csvColumns maps accepted header names to row fields.
var csvColumns = map[string]string{
	"name":      "name",
	"email":     "email",
	"phone":     "phone",
	"total_fee": "total_fee",
	"fee":       "total_fee",
	"discount":  "discount",
}

// ParseEnrollmentCSV reads bulk enrollment rows from CSV with a header
// line. Headers are matched case-insensitively: name, email, phone,
// total_fee (or fee), discount. Fee amounts are major units in currency;
// blank amounts are zero. Unknown columns are ignored.
func ParseEnrollmentCSV(r io.Reader, currency string) ([]BulkEnrollRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ValidationError{Field: "csv", Message: "missing header row"}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %w", ErrInvalidInput, err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		if field, ok := csvColumns[strings.ToLower(strings.TrimSpace(h))]; ok {
			index[field] = i
		}
	}
	if _, ok := index["email"]; !ok {
		return nil, ValidationError{Field: "csv", Message: "email column is required"}
	}

	var rows []BulkEnrollRow
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv: %w", ErrInvalidInput, err)
		}
		cell := func(field string) string {
			if i, ok := index[field]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		row := BulkEnrollRow{
			Name:  cell("name"),
			Email: cell("email"),
			Phone: cell("phone"),
		}
		if row.TotalFee, err = parseAmount(cell("total_fee"), currency); err != nil {
			return nil, ValidationError{Field: fmt.Sprintf("row %d total_fee", line), Message: err.Error(), Amount: true}
		}
		if row.Discount, err = parseAmount(cell("discount"), currency); err != nil {
			return nil, ValidationError{Field: fmt.Sprintf("row %d discount", line), Message: err.Error(), Amount: true}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseAmount(s, currency string) (types.Money, error) {
	if s == "" {
		return types.Zero(currency), nil
	}
	return types.ParseMajor(s, currency)
}
