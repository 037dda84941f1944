package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/student"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry holds registered plugins with their hook interfaces resolved
// once at registration, so dispatch never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                []OnInit
	onShutdown            []OnShutdown
	onStudentEnrolled     []OnStudentEnrolled
	onStudentRemoved      []OnStudentRemoved
	onEnrollmentRejected  []OnEnrollmentRejected
	onBulkEnrollCompleted []OnBulkEnrollCompleted
	onFeeStructureCreated []OnFeeStructureCreated
	onPaymentRecorded     []OnPaymentRecorded
	onFeeStructureSettled []OnFeeStructureSettled
	receiptNumberer       ReceiptNumberer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger used to report hook failures.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin. Names must be unique.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnStudentEnrolled); ok {
		r.onStudentEnrolled = append(r.onStudentEnrolled, v)
		hooks = append(hooks, "OnStudentEnrolled")
	}
	if v, ok := p.(OnStudentRemoved); ok {
		r.onStudentRemoved = append(r.onStudentRemoved, v)
		hooks = append(hooks, "OnStudentRemoved")
	}
	if v, ok := p.(OnEnrollmentRejected); ok {
		r.onEnrollmentRejected = append(r.onEnrollmentRejected, v)
		hooks = append(hooks, "OnEnrollmentRejected")
	}
	if v, ok := p.(OnBulkEnrollCompleted); ok {
		r.onBulkEnrollCompleted = append(r.onBulkEnrollCompleted, v)
		hooks = append(hooks, "OnBulkEnrollCompleted")
	}
	if v, ok := p.(OnFeeStructureCreated); ok {
		r.onFeeStructureCreated = append(r.onFeeStructureCreated, v)
		hooks = append(hooks, "OnFeeStructureCreated")
	}
	if v, ok := p.(OnPaymentRecorded); ok {
		r.onPaymentRecorded = append(r.onPaymentRecorded, v)
		hooks = append(hooks, "OnPaymentRecorded")
	}
	if v, ok := p.(OnFeeStructureSettled); ok {
		r.onFeeStructureSettled = append(r.onFeeStructureSettled, v)
		hooks = append(hooks, "OnFeeStructureSettled")
	}
	if v, ok := p.(ReceiptNumberer); ok && r.receiptNumberer == nil {
		r.receiptNumberer = v
		hooks = append(hooks, "ReceiptNumberer")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)
	return nil
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins in registration order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ReceiptNumberer returns the registered receipt strategy, or nil.
func (r *Registry) ReceiptNumberer() ReceiptNumberer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.receiptNumberer
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	hooks := r.onInit
	r.mu.RUnlock()
	emit(ctx, r, "OnInit", hooks, func(p OnInit) error { return p.OnInit(ctx, engine) })
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	hooks := r.onShutdown
	r.mu.RUnlock()
	emit(ctx, r, "OnShutdown", hooks, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitStudentEnrolled(ctx context.Context, b *batch.Batch, prof *student.Profile) {
	r.mu.RLock()
	hooks := r.onStudentEnrolled
	r.mu.RUnlock()
	emit(ctx, r, "OnStudentEnrolled", hooks, func(p OnStudentEnrolled) error {
		return p.OnStudentEnrolled(ctx, b, prof)
	})
}

func (r *Registry) EmitStudentRemoved(ctx context.Context, batchID id.BatchID, studentID id.StudentID) {
	r.mu.RLock()
	hooks := r.onStudentRemoved
	r.mu.RUnlock()
	emit(ctx, r, "OnStudentRemoved", hooks, func(p OnStudentRemoved) error {
		return p.OnStudentRemoved(ctx, batchID, studentID)
	})
}

func (r *Registry) EmitEnrollmentRejected(ctx context.Context, batchID id.BatchID, studentID id.StudentID, reason error) {
	r.mu.RLock()
	hooks := r.onEnrollmentRejected
	r.mu.RUnlock()
	emit(ctx, r, "OnEnrollmentRejected", hooks, func(p OnEnrollmentRejected) error {
		return p.OnEnrollmentRejected(ctx, batchID, studentID, reason)
	})
}

func (r *Registry) EmitBulkEnrollCompleted(ctx context.Context, batchID id.BatchID, enrolled, failed int, elapsed time.Duration) {
	r.mu.RLock()
	hooks := r.onBulkEnrollCompleted
	r.mu.RUnlock()
	emit(ctx, r, "OnBulkEnrollCompleted", hooks, func(p OnBulkEnrollCompleted) error {
		return p.OnBulkEnrollCompleted(ctx, batchID, enrolled, failed, elapsed)
	})
}

func (r *Registry) EmitFeeStructureCreated(ctx context.Context, s *fee.Structure) {
	r.mu.RLock()
	hooks := r.onFeeStructureCreated
	r.mu.RUnlock()
	emit(ctx, r, "OnFeeStructureCreated", hooks, func(p OnFeeStructureCreated) error {
		return p.OnFeeStructureCreated(ctx, s)
	})
}

func (r *Registry) EmitPaymentRecorded(ctx context.Context, pay *fee.Payment, s *fee.Structure) {
	r.mu.RLock()
	hooks := r.onPaymentRecorded
	r.mu.RUnlock()
	emit(ctx, r, "OnPaymentRecorded", hooks, func(p OnPaymentRecorded) error {
		return p.OnPaymentRecorded(ctx, pay, s)
	})
}

func (r *Registry) EmitFeeStructureSettled(ctx context.Context, s *fee.Structure) {
	r.mu.RLock()
	hooks := r.onFeeStructureSettled
	r.mu.RUnlock()
	emit(ctx, r, "OnFeeStructureSettled", hooks, func(p OnFeeStructureSettled) error {
		return p.OnFeeStructureSettled(ctx, s)
	})
}

func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, call func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return call(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout runs fn but stops waiting after the registry timeout or
// when ctx is done. The goroutine is left to finish on its own.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
