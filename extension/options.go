package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/store"
)

// Option configures the Bursar Forge extension.
type Option func(*Extension)

// WithStore sets the store for the bursar engine. It wins over WithGrove.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGrove builds the store around db using the configured Driver.
func WithGrove(db *grove.DB) Option {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithBursarOption passes a bursar.Option through to the underlying engine.
func WithBursarOption(opt bursar.Option) Option {
	return func(e *Extension) {
		e.bursarOpts = append(e.bursarOpts, opt)
	}
}

// WithPlugin registers a bursar plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.bursarOpts = append(e.bursarOpts, bursar.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithDriver sets the store driver used with WithGrove.
func WithDriver(driver string) Option {
	return func(e *Extension) { e.config.Driver = driver }
}

// WithCurrency sets the currency fee structures are created in.
func WithCurrency(currency string) Option {
	return func(e *Extension) { e.config.Currency = currency }
}

// WithInstallmentIntervalDays sets the gap between installment due dates.
func WithInstallmentIntervalDays(days int) Option {
	return func(e *Extension) { e.config.InstallmentIntervalDays = days }
}

// WithDefaultInstallments sets the installment count used when none is given.
func WithDefaultInstallments(n int) Option {
	return func(e *Extension) { e.config.DefaultInstallments = n }
}

// WithReceiptPrefix sets the receipt number prefix.
func WithReceiptPrefix(prefix string) Option {
	return func(e *Extension) { e.config.ReceiptPrefix = prefix }
}

// WithEnrollmentPrefix sets the enrollment number prefix.
func WithEnrollmentPrefix(prefix string) Option {
	return func(e *Extension) { e.config.EnrollmentPrefix = prefix }
}

// WithMaxConflictRetries bounds retries after write conflicts.
func WithMaxConflictRetries(n int) Option {
	return func(e *Extension) { e.config.MaxConflictRetries = n }
}

// WithHookTimeout bounds each plugin hook call.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HookTimeout = d }
}
