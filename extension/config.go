package extension

import "time"

// Store drivers accepted in Config.Driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the Bursar extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.bursar" or "bursar" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Driver picks the store built around a grove.DB passed with WithGrove
	// (postgres, sqlite or mongo). Without one the memory store is used.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// Currency is the ISO 4217 code fee structures are created in (default: inr).
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// InstallmentIntervalDays is the gap between installment due dates (default: 30).
	InstallmentIntervalDays int `json:"installment_interval_days" mapstructure:"installment_interval_days" yaml:"installment_interval_days"`

	// DefaultInstallments is used when an enrollment charges a fee without
	// naming a count (default: 2).
	DefaultInstallments int `json:"default_installments" mapstructure:"default_installments" yaml:"default_installments"`

	// ReceiptPrefix starts every receipt number (default: RCP).
	ReceiptPrefix string `json:"receipt_prefix" mapstructure:"receipt_prefix" yaml:"receipt_prefix"`

	// EnrollmentPrefix starts every enrollment number (default: JN).
	EnrollmentPrefix string `json:"enrollment_prefix" mapstructure:"enrollment_prefix" yaml:"enrollment_prefix"`

	// MaxConflictRetries bounds retries after write conflicts (default: 5).
	MaxConflictRetries int `json:"max_conflict_retries" mapstructure:"max_conflict_retries" yaml:"max_conflict_retries"`

	// HookTimeout bounds each plugin hook call (default: 5s).
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:                  DriverMemory,
		Currency:                "inr",
		InstallmentIntervalDays: 30,
		DefaultInstallments:     2,
		ReceiptPrefix:           "RCP",
		EnrollmentPrefix:        "JN",
		MaxConflictRetries:      5,
		HookTimeout:             5 * time.Second,
	}
}

// InstallmentInterval converts InstallmentIntervalDays to a duration.
func (c Config) InstallmentInterval() time.Duration {
	return time.Duration(c.InstallmentIntervalDays) * 24 * time.Hour
}
