// Package config loads service configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/commission"
	"matrix-comp/internal/compliance"
	"matrix-comp/internal/domain"
	"matrix-comp/internal/orchestrator"
	"matrix-comp/internal/withdrawal"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Penalty strategies
const (
	PenaltyLinear  = "linear"
	PenaltyStepped = "stepped"
)

// Environment overrides
const (
	EnvPostgresDSN   = "MATRIX_POSTGRES_DSN"
	EnvClickhouseDSN = "MATRIX_CLICKHOUSE_DSN"
	EnvRedisAddr     = "MATRIX_REDIS_ADDR"
	EnvHTTPAddr      = "MATRIX_HTTP_ADDR"
	EnvLogLevel      = "MATRIX_LOG_LEVEL"
	EnvStorage       = "MATRIX_STORAGE"
	EnvLogPretty     = "MATRIX_LOG_PRETTY"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the full service configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Commission CommissionConfig `yaml:"commission"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Withdrawal WithdrawalConfig `yaml:"withdrawal"`
	Payout     PayoutConfig     `yaml:"payout"`
	Tiers      TiersConfig      `yaml:"tiers"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=memory postgres"`
	PostgresDSN   string `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // optional analytics sink
	RedisAddr     string `yaml:"redis_addr"`
	RedisCaps     bool   `yaml:"redis_caps" validate:"excluded_without=RedisAddr"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

type CommissionConfig struct {
	MaxLevels             int   `yaml:"max_levels" validate:"gte=1,lte=7"`
	MoneyScale            int32 `yaml:"money_scale" validate:"gte=0,lte=8"`
	RequireActiveAncestor bool  `yaml:"require_active_ancestor"`

	// ClaimTimeout after which an abandoned distribution claim is taken over.
	ClaimTimeout time.Duration `yaml:"claim_timeout" validate:"gte=0"`
}

// ComplianceConfig ceilings are decimal strings; empty or "0" means unlimited.
type ComplianceConfig struct {
	ParticipantMonthly  string `yaml:"participant_monthly" validate:"omitempty,numeric"`
	ParticipantLifetime string `yaml:"participant_lifetime" validate:"omitempty,numeric"`
	SystemMonthly       string `yaml:"system_monthly" validate:"omitempty,numeric"`
}

type WithdrawalConfig struct {
	LockInMonths int           `yaml:"lock_in_months" validate:"gte=1"`
	Penalty      PenaltyConfig `yaml:"penalty"`
}

type PenaltyConfig struct {
	Kind          string       `yaml:"kind" validate:"oneof=linear stepped"`
	MaxEarlyRate  string       `yaml:"max_early_rate" validate:"omitempty,numeric"`
	EmergencyRate string       `yaml:"emergency_rate" validate:"required,numeric"`
	Steps         []StepConfig `yaml:"steps" validate:"required_if=Kind stepped,dive"`
}

type StepConfig struct {
	UpTo string `yaml:"up_to" validate:"required,numeric"`
	Rate string `yaml:"rate" validate:"required,numeric"`
}

type PayoutConfig struct {
	Workers int `yaml:"workers" validate:"gte=1,lte=64"`
}

// TiersConfig holds the catalog inline or points to a separate YAML file.
// Neither set means the built-in catalog.
type TiersConfig struct {
	File   string             `yaml:"file"`
	Inline []catalog.TierSpec `yaml:"inline" validate:"dive"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{Backend: BackendMemory},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info"},
		Commission: CommissionConfig{
			MaxLevels:    domain.CommissionLevels,
			MoneyScale:   domain.DefaultMoneyScale,
			ClaimTimeout: commission.DefaultClaimTimeout,
		},
		Withdrawal: WithdrawalConfig{
			LockInMonths: domain.DefaultLockInMonths,
			Penalty: PenaltyConfig{
				Kind:          PenaltyLinear,
				MaxEarlyRate:  "15",
				EmergencyRate: "20",
			},
		},
		Payout: PayoutConfig{Workers: 4},
	}
}

var validate = validator.New()

// Load reads path (optional), applies .env and MATRIX_* overrides and validates.
// A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	overrides := map[string]*string{
		EnvPostgresDSN:   &c.Storage.PostgresDSN,
		EnvClickhouseDSN: &c.Storage.ClickhouseDSN,
		EnvRedisAddr:     &c.Storage.RedisAddr,
		EnvHTTPAddr:      &c.HTTP.Addr,
		EnvLogLevel:      &c.Log.Level,
		EnvStorage:       &c.Storage.Backend,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(EnvLogPretty); ok && v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvLogPretty, err)
		}
		c.Log.Pretty = pretty
	}
	return nil
}

// Validate checks struct tags and the derived business objects.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Limits(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Penalty(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(c.Tiers.Inline) > 0 && c.Tiers.File != "" {
		return fmt.Errorf("%w: tiers.file and tiers.inline are mutually exclusive", ErrInvalidConfig)
	}
	return nil
}

// Limits builds the compliance ceilings.
func (c *Config) Limits() (compliance.Limits, error) {
	var l compliance.Limits
	var err error
	if l.ParticipantMonthly, err = parseOptional(c.Compliance.ParticipantMonthly); err != nil {
		return l, fmt.Errorf("participant_monthly: %w", err)
	}
	if l.ParticipantLifetime, err = parseOptional(c.Compliance.ParticipantLifetime); err != nil {
		return l, fmt.Errorf("participant_lifetime: %w", err)
	}
	if l.SystemMonthly, err = parseOptional(c.Compliance.SystemMonthly); err != nil {
		return l, fmt.Errorf("system_monthly: %w", err)
	}
	return l, l.Validate()
}

// Penalty builds the configured withdrawal penalty strategy.
func (c *Config) Penalty() (withdrawal.PenaltyPolicy, error) {
	p := c.Withdrawal.Penalty
	emergency, err := decimal.NewFromString(p.EmergencyRate)
	if err != nil {
		return nil, fmt.Errorf("emergency_rate: %w", err)
	}

	switch p.Kind {
	case PenaltyStepped:
		steps := make([]withdrawal.PenaltyStep, 0, len(p.Steps))
		for i, s := range p.Steps {
			upTo, err := decimal.NewFromString(s.UpTo)
			if err != nil {
				return nil, fmt.Errorf("step %d up_to: %w", i, err)
			}
			rate, err := decimal.NewFromString(s.Rate)
			if err != nil {
				return nil, fmt.Errorf("step %d rate: %w", i, err)
			}
			steps = append(steps, withdrawal.PenaltyStep{UpTo: upTo, Rate: rate})
		}
		policy := withdrawal.SteppedPenalty{Steps: steps, EmergencyRate: emergency}
		if err := policy.Validate(); err != nil {
			return nil, err
		}
		return policy, nil
	default:
		maxEarly, err := parseOptional(p.MaxEarlyRate)
		if err != nil {
			return nil, fmt.Errorf("max_early_rate: %w", err)
		}
		policy := withdrawal.LinearPenalty{MaxEarlyRate: maxEarly, EmergencyRate: emergency}
		if err := policy.Validate(); err != nil {
			return nil, err
		}
		return policy, nil
	}
}

// Catalog builds the tier catalog from the file, the inline list or the defaults.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	switch {
	case c.Tiers.File != "":
		return LoadCatalog(c.Tiers.File)
	case len(c.Tiers.Inline) > 0:
		return catalog.FromSpecs(c.Tiers.Inline)
	default:
		return catalog.Default(), nil
	}
}

// LoadCatalog reads a YAML list of tier specs.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier catalog: %w", err)
	}
	var specs []catalog.TierSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse tier catalog: %w", err)
	}
	return catalog.FromSpecs(specs)
}

// Settings turns the configuration into engine settings.
func (c *Config) Settings() (orchestrator.Settings, error) {
	cat, err := c.Catalog()
	if err != nil {
		return orchestrator.Settings{}, err
	}
	limits, err := c.Limits()
	if err != nil {
		return orchestrator.Settings{}, err
	}
	penalty, err := c.Penalty()
	if err != nil {
		return orchestrator.Settings{}, err
	}
	return orchestrator.Settings{
		Catalog:               cat,
		Limits:                limits,
		Penalty:               penalty,
		MoneyScale:            c.Commission.MoneyScale,
		LockInMonths:          c.Withdrawal.LockInMonths,
		MaxLevels:             c.Commission.MaxLevels,
		RequireActiveAncestor: c.Commission.RequireActiveAncestor,
		ClaimTimeout:          c.Commission.ClaimTimeout,
		PayoutWorkers:         c.Payout.Workers,
	}, nil
}

func parseOptional(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
