package bursar

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// Defaults applied by New.
const (
	DefaultInstallmentInterval = 30 * 24 * time.Hour
	DefaultInstallments        = 2
	DefaultReceiptPrefix       = "RCP"
	DefaultEnrollmentPrefix    = "JN"
	DefaultMaxConflictRetries  = 5
)

// Bursar is the enrollment and fee ledger engine. It is safe for
// concurrent use; all coordination happens in the store.
type Bursar struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	validate *validator.Validate

	now                 func() time.Time
	entropy             io.Reader
	currency            string
	installmentInterval time.Duration
	defaultInstallments int
	receiptPrefix       string
	enrollmentPrefix    string
	maxConflictRetries  int
	skipMigrate         bool
}

// New creates a Bursar over s.
func New(s store.Store, opts ...Option) *Bursar {
	b := &Bursar{
		store:               s,
		plugins:             plugin.NewRegistry(),
		logger:              slog.Default(),
		validate:            newValidator(),
		now:                 time.Now,
		entropy:             rand.Reader,
		currency:            types.DefaultCurrency,
		installmentInterval: DefaultInstallmentInterval,
		defaultInstallments: DefaultInstallments,
		receiptPrefix:       DefaultReceiptPrefix,
		enrollmentPrefix:    DefaultEnrollmentPrefix,
		maxConflictRetries:  DefaultMaxConflictRetries,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Option configures a Bursar instance.
type Option func(*Bursar)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bursar) {
		b.logger = logger
		b.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(b *Bursar) {
		_ = b.plugins.Register(p) //nolint:errcheck // duplicate names are logged by the registry
	}
}

// WithHookTimeout bounds each plugin hook call.
func WithHookTimeout(d time.Duration) Option {
	return func(b *Bursar) {
		if d > 0 {
			b.plugins.WithTimeout(d)
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bursar) { b.now = now }
}

// WithEntropy replaces crypto/rand as the source for receipt and
// enrollment number suffixes.
func WithEntropy(r io.Reader) Option {
	return func(b *Bursar) { b.entropy = r }
}

// WithCurrency sets the currency fee structures are created in.
func WithCurrency(currency string) Option {
	return func(b *Bursar) {
		if currency != "" {
			b.currency = types.Zero(currency).Currency
		}
	}
}

// WithInstallmentInterval sets the gap between installment due dates.
func WithInstallmentInterval(d time.Duration) Option {
	return func(b *Bursar) {
		if d > 0 {
			b.installmentInterval = d
		}
	}
}

// WithDefaultInstallments sets the installment count used when an
// enrollment supplies a fee but no count.
func WithDefaultInstallments(n int) Option {
	return func(b *Bursar) {
		if n > 0 {
			b.defaultInstallments = n
		}
	}
}

// WithReceiptPrefix sets the receipt number prefix.
func WithReceiptPrefix(prefix string) Option {
	return func(b *Bursar) { b.receiptPrefix = prefix }
}

// WithEnrollmentPrefix sets the enrollment number prefix given to new
// student profiles.
func WithEnrollmentPrefix(prefix string) Option {
	return func(b *Bursar) { b.enrollmentPrefix = prefix }
}

// WithMaxConflictRetries bounds retries after optimistic write conflicts
// and receipt collisions.
func WithMaxConflictRetries(n int) Option {
	return func(b *Bursar) {
		if n > 0 {
			b.maxConflictRetries = n
		}
	}
}

// WithoutMigrate makes Start leave the schema alone.
func WithoutMigrate() Option {
	return func(b *Bursar) { b.skipMigrate = true }
}

// Start migrates the store and initializes plugins.
func (b *Bursar) Start(ctx context.Context) error {
	if !b.skipMigrate {
		if err := b.store.Migrate(ctx); err != nil {
			return err
		}
	}

	b.plugins.EmitInit(ctx, b)

	b.logger.Info("bursar started",
		"currency", b.currency,
		"installment_interval", b.installmentInterval,
		"plugins", b.plugins.Count(),
	)
	return nil
}

// Stop notifies plugins and closes the store.
func (b *Bursar) Stop() error {
	b.plugins.EmitShutdown(context.Background())
	return b.store.Close()
}

// Store returns the underlying store.
func (b *Bursar) Store() store.Store { return b.store }

// Plugins returns the plugin registry.
func (b *Bursar) Plugins() *plugin.Registry { return b.plugins }

// retry runs fn until it returns something other than a retryable
// conflict, at most maxConflictRetries+1 times.
func (b *Bursar) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= b.maxConflictRetries; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		b.logger.Debug("retrying after conflict",
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return err
}
