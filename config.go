package orkestra

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables read by LoadConfig, e.g.
// ORKESTRA_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "ORKESTRA"

// Config is the file and environment representation of the client options.
type Config struct {
	AppID    string        `mapstructure:"app_id"`
	Endpoint string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Region   string        `mapstructure:"region"`
	Retry    RetryConfig   `mapstructure:"retry"`
	Timeout  TimeoutConfig `mapstructure:"timeout"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// DefaultConfig returns the configuration a client has without options.
func DefaultConfig() Config {
	return Config{
		Retry:   DefaultRetryConfig(),
		Timeout: DefaultTimeoutConfig(),
		Logging: DefaultLoggingConfig(),
	}
}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads configuration from ORKESTRA_* environment variables and,
// when path is not empty, from a YAML, JSON or TOML file chosen by extension.
// Environment variables win over the file; both win over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	v := viper.NewWithOptions(viper.EnvKeyReplacer(strings.NewReplacer(".", "_")))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setConfigDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setConfigDefaults registers every key, which also makes AutomaticEnv see
// keys absent from the file.
func setConfigDefaults(v *viper.Viper, d Config) {
	v.SetDefault("app_id", d.AppID)
	v.SetDefault("endpoint", d.Endpoint)
	v.SetDefault("region", d.Region)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff", d.Retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.randomization_factor", d.Retry.RandomizationFactor)
	v.SetDefault("retry.backoff", d.Retry.Backoff)

	v.SetDefault("timeout.operation_timeout", d.Timeout.OperationTimeout)
	v.SetDefault("timeout.attempt_timeout", d.Timeout.AttemptTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.time_format", d.Logging.TimeFormat)
}

// WithConfig applies a loaded Config. A logger is built from the logging
// section; a failure to build it surfaces through ValidationError. A log file
// it opens stays open until Client.Close.
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		c.retryConfig = cfg.Retry
		c.timeoutConfig = cfg.Timeout
		if cfg.AppID != "" {
			c.appID = cfg.AppID
		}
		if cfg.Endpoint != "" {
			c.endpoint = cfg.Endpoint
		}
		if cfg.Region != "" {
			c.region = cfg.Region
		}

		logger, closer, err := NewLogger(cfg.Logging)
		if err != nil {
			c.configErrors = append(c.configErrors, err.Error())
			return
		}
		if c.logCloser != nil {
			_ = c.logCloser.Close()
		}
		c.logger, c.logCloser = logger, closer
	}
}
