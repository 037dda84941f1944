// Package extension provides the Forge extension adapter for Bursar.
//
// It implements the forge.Extension interface to integrate Bursar
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.bursar" or "bursar" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/store/mongo"
	"github.com/xraph/bursar/store/postgres"
	"github.com/xraph/bursar/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "bursar"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Batch enrollment and installment fee ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Bursar as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *bursar.Bursar
	store      store.Store
	groveDB    *grove.DB
	bursarOpts []bursar.Option
}

// New creates a new Bursar Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Bursar instance.
// This is nil until Register is called.
func (e *Extension) Engine() *bursar.Bursar { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the bursar engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := newStore(e.config.Driver, e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
	}

	e.engine = bursar.New(e.store, e.buildBursarOpts()...)

	return vessel.Provide(fapp.Container(), func() (*bursar.Bursar, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("bursar: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("bursar: store not initialized")
	}
	return e.store.Ping(ctx)
}

// newStore picks the backend for driver. A grove database is required for
// everything but the memory store.
func newStore(driver string, db *grove.DB) (store.Store, error) {
	if driver == "" || driver == DriverMemory {
		return memory.New(), nil
	}
	if db == nil {
		return nil, fmt.Errorf("bursar: driver %q needs a grove database (WithGrove)", driver)
	}
	switch driver {
	case DriverPostgres:
		return postgres.New(db), nil
	case DriverSQLite:
		return sqlite.New(db), nil
	case DriverMongo:
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("bursar: unknown store driver %q", driver)
	}
}

// buildBursarOpts constructs bursar.Option values from the resolved config.
// Pass-through options come last so they win.
func (e *Extension) buildBursarOpts() []bursar.Option {
	opts := []bursar.Option{
		bursar.WithCurrency(e.config.Currency),
		bursar.WithInstallmentInterval(e.config.InstallmentInterval()),
		bursar.WithDefaultInstallments(e.config.DefaultInstallments),
		bursar.WithReceiptPrefix(e.config.ReceiptPrefix),
		bursar.WithEnrollmentPrefix(e.config.EnrollmentPrefix),
		bursar.WithMaxConflictRetries(e.config.MaxConflictRetries),
		bursar.WithHookTimeout(e.config.HookTimeout),
	}
	if e.config.DisableMigrate {
		opts = append(opts, bursar.WithoutMigrate())
	}
	return append(opts, e.bursarOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("bursar: configuration is required but not found in config files; " +
				"ensure 'extensions.bursar' or 'bursar' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("bursar: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("driver", e.config.Driver),
		forge.F("currency", e.config.Currency),
		forge.F("installment_interval_days", e.config.InstallmentIntervalDays),
		forge.F("max_conflict_retries", e.config.MaxConflictRetries),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.bursar", "bursar"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("bursar: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("bursar: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.InstallmentIntervalDays == 0 {
		cfg.InstallmentIntervalDays = defaults.InstallmentIntervalDays
	}
	if cfg.DefaultInstallments == 0 {
		cfg.DefaultInstallments = defaults.DefaultInstallments
	}
	if cfg.ReceiptPrefix == "" {
		cfg.ReceiptPrefix = defaults.ReceiptPrefix
	}
	if cfg.EnrollmentPrefix == "" {
		cfg.EnrollmentPrefix = defaults.EnrollmentPrefix
	}
	if cfg.MaxConflictRetries == 0 {
		cfg.MaxConflictRetries = defaults.MaxConflictRetries
	}
	if cfg.HookTimeout == 0 {
		cfg.HookTimeout = defaults.HookTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.ReceiptPrefix == "" {
		yamlConfig.ReceiptPrefix = programmaticConfig.ReceiptPrefix
	}
	if yamlConfig.EnrollmentPrefix == "" {
		yamlConfig.EnrollmentPrefix = programmaticConfig.EnrollmentPrefix
	}
	if yamlConfig.InstallmentIntervalDays == 0 {
		yamlConfig.InstallmentIntervalDays = programmaticConfig.InstallmentIntervalDays
	}
	if yamlConfig.DefaultInstallments == 0 {
		yamlConfig.DefaultInstallments = programmaticConfig.DefaultInstallments
	}
	if yamlConfig.MaxConflictRetries == 0 {
		yamlConfig.MaxConflictRetries = programmaticConfig.MaxConflictRetries
	}
	if yamlConfig.HookTimeout == 0 {
		yamlConfig.HookTimeout = programmaticConfig.HookTimeout
	}

	return mergeWithDefaults(yamlConfig)
}
