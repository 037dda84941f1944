package plugin_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/plugin"
)

type countingPlugin struct {
	name     string
	removed  atomic.Int32
	payments atomic.Int32
	err      error
}

func (p *countingPlugin) Name() string { return p.name }

func (p *countingPlugin) OnStudentRemoved(context.Context, id.BatchID, id.StudentID) error {
	p.removed.Add(1)
	return p.err
}

func (p *countingPlugin) OnPaymentRecorded(context.Context, *fee.Payment, *fee.Structure) error {
	p.payments.Add(1)
	return p.err
}

type numberer struct{ name, number string }

func (n numberer) Name() string { return n.name }

func (n numberer) ReceiptNumber(context.Context, *fee.Payment, time.Time) (string, error) {
	return n.number, nil
}

type blocking struct{ release chan struct{} }

func (blocking) Name() string { return "blocking" }

func (b blocking) OnStudentRemoved(context.Context, id.BatchID, id.StudentID) error {
	<-b.release
	return nil
}

func newRegistry() *plugin.Registry {
	return plugin.NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register(&countingPlugin{name: "a"}))
	require.Error(t, r.Register(&countingPlugin{name: "a"}))
	require.NoError(t, r.Register(&countingPlugin{name: "b"}))

	assert.Equal(t, 2, r.Count())
	assert.NotNil(t, r.Get("b"))
	assert.Nil(t, r.Get("missing"))

	names := []string{}
	for _, p := range r.List() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestEmitReachesOnlyImplementers(t *testing.T) {
	r := newRegistry()
	a := &countingPlugin{name: "a"}
	b := &countingPlugin{name: "b", err: errors.New("boom")}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.NoError(t, r.Register(numberer{name: "n", number: "X"}))

	ctx := context.Background()
	r.EmitStudentRemoved(ctx, id.NewBatchID(), id.NewStudentID())
	r.EmitPaymentRecorded(ctx, &fee.Payment{}, &fee.Structure{})
	r.EmitPaymentRecorded(ctx, &fee.Payment{}, &fee.Structure{})
	r.EmitFeeStructureSettled(ctx, &fee.Structure{})

	assert.Equal(t, int32(1), a.removed.Load())
	assert.Equal(t, int32(2), a.payments.Load())
	assert.Equal(t, int32(2), b.payments.Load(), "a failing hook still runs every time")
}

func TestFirstReceiptNumbererWins(t *testing.T) {
	r := newRegistry()
	assert.Nil(t, r.ReceiptNumberer())

	require.NoError(t, r.Register(numberer{name: "first", number: "F"}))
	require.NoError(t, r.Register(numberer{name: "second", number: "S"}))

	got, err := r.ReceiptNumberer().ReceiptNumber(context.Background(), &fee.Payment{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "F", got)
}

func TestEmitStopsWaitingAfterTimeout(t *testing.T) {
	r := newRegistry().WithTimeout(10 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, r.Register(blocking{release: release}))

	start := time.Now()
	r.EmitStudentRemoved(context.Background(), id.NewBatchID(), id.NewStudentID())
	assert.Less(t, time.Since(start), time.Second)
}
