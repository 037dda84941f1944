// Package bursar is the enrollment and fee ledger core of a language-school
// backend.
//
// Bursar is a library, not a service. HTTP handlers, admin tools and import
// jobs call it directly. It provides:
//
//   - Batch rosters that can never exceed capacity or hold a student twice
//   - Student profiles that follow the student's current batch
//   - Fee structures with installment schedules that sum exactly to the net due
//   - Append-only payments with unique receipt numbers and idempotency keys
//   - Bulk enrollment from CSV with per-row error reporting
//   - Plugin hooks for audit trails and metrics
//
// # Quick Start
//
//	s := memory.New() // or mongo.New, postgres.New, sqlite.New
//	b := bursar.New(s, bursar.WithLogger(logger))
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
//
//	res, err := b.EnrollWithFee(ctx, bursar.EnrollInput{
//	    BatchID:   batchID,
//	    StudentID: studentID,
//	    TotalFee:  types.INR(1000000), // ₹10000.00
//	    Discount:  types.INR(100000),
//	})
//
//	pay, err := b.RecordPayment(ctx, bursar.PaymentInput{
//	    FeeStructureID: res.FeeStructure.ID,
//	    Amount:         types.INR(500000),
//	    Method:         fee.MethodUPI,
//	    IdempotencyKey: requestID,
//	})
//	fmt.Println(pay.ReceiptNumber) // RCP20260118K7Q2ZD
//
// # Balances
//
// Amounts are integer minor units (paise for INR). A fee structure stores
// how much has been paid; the pending amount and each installment's status
// are derived from it, so they cannot drift apart. Overpayment is accepted
// and leaves the pending amount at zero.
//
// # Consistency
//
// Adding a student to a roster is a single conditional write in every
// store. The remaining steps of an enrollment (profile, fee structure) and
// of a payment (receipt, balance) are applied in sequence and undone if a
// later step fails.
//
// # TypeID
//
// Entities use TypeIDs:
//
//	batch_01h2xcejqtf2nbrexx3vqjhp41  // Batch
//	stu_01h2xcejqtf2nbrexx3vqjhp41    // Student
//	fee_01h455vb4pex5vsknk084sn02q    // Fee structure
package bursar
