package atmledger

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		MetricsAddr     string        `yaml:"metrics_addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Database struct {
		Driver           string `yaml:"driver"`
		ConnectionString string `yaml:"conn_str"`
		Name             string `yaml:"name"`
	} `yaml:"database"`
	NodeID  int64         `yaml:"node_id"`
	Pricing PricingConfig `yaml:"pricing"`
	Limits  LimitsConfig  `yaml:"limits"`
	Breaker BreakerConfig `yaml:"breaker"`
	Service struct {
		ConflictRetries int `yaml:"conflict_retries"`
	} `yaml:"service"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	SeedAccounts []SeedAccount `yaml:"seed_accounts"`
}

type PricingConfig struct {
	ATMDepositFee    string `yaml:"atm_deposit_fee"`
	ATMWithdrawalFee string `yaml:"atm_withdrawal_fee"`
}

func (p PricingConfig) depositFee() (decimal.Decimal, error) {
	return parseFee("atm_deposit_fee", p.ATMDepositFee)
}

func (p PricingConfig) withdrawalFee() (decimal.Decimal, error) {
	return parseFee("atm_withdrawal_fee", p.ATMWithdrawalFee)
}

func parseFee(name, s string) (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing.%s: %w", name, err)
	}
	if fee.IsNegative() || !hasMoneyPrecision(fee) {
		return decimal.Zero, fmt.Errorf("pricing.%s: must be non-negative with at most %d decimal places", name, moneyPlaces)
	}
	return fee, nil
}

// LimitsConfig sizes the in-flight request semaphores.
type LimitsConfig struct {
	Post           int64         `yaml:"post"`
	Read           int64         `yaml:"read"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

// SeedAccount is an account inserted by the seeder binary.
type SeedAccount struct {
	Number  string `yaml:"number"`
	Balance string `yaml:"balance"`
	UserID  string `yaml:"user_id"`
}

// LoadConfig decodes the YAML file at path and fills in defaults.
func LoadConfig(path string) (*Config, error) {
	fl, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fl.Close()

	var cfg Config
	if err = yaml.NewDecoder(fl).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.setDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.Name == "" {
		c.Database.Name = "atmledger"
	}
	if c.Pricing.ATMDepositFee == "" {
		c.Pricing.ATMDepositFee = "2.00"
	}
	if c.Pricing.ATMWithdrawalFee == "" {
		c.Pricing.ATMWithdrawalFee = "1.00"
	}
	if c.Limits.Post == 0 {
		c.Limits.Post = 64
	}
	if c.Limits.Read == 0 {
		c.Limits.Read = 128
	}
	if c.Limits.AcquireTimeout == 0 {
		c.Limits.AcquireTimeout = 2 * time.Second
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 1
	}
	if c.Breaker.Timeout == 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Service.ConflictRetries == 0 {
		c.Service.ConflictRetries = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = zerolog.InfoLevel.String()
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMongo:
		if c.Database.ConnectionString == "" {
			return fmt.Errorf("database.conn_str is required for driver %q", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node_id: must be within [0, 1023], got %d", c.NodeID)
	}
	if c.Limits.Post < 1 || c.Limits.Read < 1 {
		return fmt.Errorf("limits: post and read must be at least 1, got %d and %d", c.Limits.Post, c.Limits.Read)
	}
	if _, err := c.Pricing.depositFee(); err != nil {
		return err
	}
	if _, err := c.Pricing.withdrawalFee(); err != nil {
		return err
	}
	if c.Service.ConflictRetries < 0 {
		return fmt.Errorf("service.conflict_retries: must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Logger builds the process logger at the configured level.
func (c *Config) Logger() zerolog.Logger {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
