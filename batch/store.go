package batch

import (
	"context"

	"github.com/xraph/bursar/id"
)

// Store persists batches. AddToRoster must be a single conditional write:
// it appends the student only while the roster is below capacity and does
// not already contain the student.
type Store interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, batchID id.BatchID) (*Batch, error)
	ListBatches(ctx context.Context, opts ListOpts) ([]*Batch, error)
	UpdateBatchStatus(ctx context.Context, batchID id.BatchID, status Status) error
	AddToRoster(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error
	RemoveFromRoster(ctx context.Context, batchID id.BatchID, studentID id.StudentID) error
}

type ListOpts struct {
	CourseID id.CourseID
	Status   Status
	Limit    int
	Offset   int
}
