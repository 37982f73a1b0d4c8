package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/flexprice/usagebill/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Usage      UsageConfig      `validate:"required"`
	Worker     WorkerConfig     `validate:"required"`
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required,oneof=snapshot store"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

// UsageConfig drives the in-arrear usage computation
type UsageConfig struct {
	// MaxRawUsagePreviousPeriod is the number of billing periods re-read before
	// the most recent billed period. A negative value reads the full history.
	MaxRawUsagePreviousPeriod int `mapstructure:"max_raw_usage_previous_period"`
	// ZeroAmountUsageDisabled bounds the raw usage window from the target date
	// instead of the existing items.
	ZeroAmountUsageDisabled bool `mapstructure:"zero_amount_usage_disabled"`
	// StrictUnitTypes fails a run on a unit type no usage section declares
	StrictUnitTypes bool `mapstructure:"strict_unit_types"`
	// MissingLenient tolerates inconsistencies between billed and computed tier breakdowns
	MissingLenient        bool                  `mapstructure:"missing_lenient"`
	DetailMode            types.UsageDetailMode `mapstructure:"detail_mode" validate:"omitempty,oneof=AGGREGATE DETAIL"`
	InsertZeroAmountItems bool                  `mapstructure:"insert_zero_amount_items"`
}

type WorkerConfig struct {
	Concurrency int `validate:"required,min=1"`
}

type ClickHouseConfig struct {
	Address  string
	TLS      bool
	Username string
	Password string
	Database string
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	// Modify config paths to ensure config.yaml is found
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/usagebill")

	setDefaults(v)

	// Set up environment variables support
	v.SetEnvPrefix("USAGEBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	defaults := GetDefaultConfig()
	v.SetDefault("deployment.mode", defaults.Deployment.Mode)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("usage.max_raw_usage_previous_period", defaults.Usage.MaxRawUsagePreviousPeriod)
	v.SetDefault("usage.zero_amount_usage_disabled", defaults.Usage.ZeroAmountUsageDisabled)
	v.SetDefault("usage.strict_unit_types", defaults.Usage.StrictUnitTypes)
	v.SetDefault("usage.missing_lenient", defaults.Usage.MissingLenient)
	v.SetDefault("usage.detail_mode", defaults.Usage.DetailMode)
	v.SetDefault("usage.insert_zero_amount_items", defaults.Usage.InsertZeroAmountItems)
	v.SetDefault("worker.concurrency", defaults.Worker.Concurrency)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts, tests or other one shot computations
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeSnapshot},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Usage: UsageConfig{
			MaxRawUsagePreviousPeriod: 2,
			DetailMode:                types.USAGE_DETAIL_MODE_AGGREGATE,
		},
		Worker: WorkerConfig{Concurrency: 8},
	}
}

func (c ClickHouseConfig) GetClientOptions() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{c.Address},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
	if c.TLS {
		options.TLS = &tls.Config{}
	}
	return options
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
