package config

import (
	"net"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Watch      WatchConfig      `yaml:"watch" mapstructure:"watch"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Schema     SchemaConfig     `yaml:"schema" mapstructure:"schema"`
	Ledger     LedgerConfig     `yaml:"ledger" mapstructure:"ledger"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// WatchConfig configures the watched input directory.
type WatchConfig struct {
	Dir          string        `yaml:"dir" mapstructure:"dir"`
	Pattern      string        `yaml:"pattern" mapstructure:"pattern"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Encoding     string        `yaml:"encoding" mapstructure:"encoding"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	SampleRows int    `yaml:"sample_rows" mapstructure:"sample_rows"`
	Prefix     string `yaml:"prefix" mapstructure:"prefix"`
}

// SchemaConfig points at an optional column alias file.
type SchemaConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LedgerConfig configures the processed-file ledger backend.
type LedgerConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// MetricsConfig configures the HTTP metrics endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// MonitoringConfig configures stuck-file alerting.
type MonitoringConfig struct {
	WebhookURL     string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval  time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	StuckAttempts  int           `yaml:"stuck_attempts" mapstructure:"stuck_attempts"`
	FailureBacklog int           `yaml:"failure_backlog" mapstructure:"failure_backlog"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TXNAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("watch.dir", "data/incoming")
	v.SetDefault("watch.pattern", "*.csv")
	v.SetDefault("watch.poll_interval", "3s")
	v.SetDefault("watch.encoding", "")
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.sample_rows", 2000)
	v.SetDefault("report.prefix", "exceptions_")
	v.SetDefault("schema.path", "")
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.dsn", "data/ledger.db")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval", "5m")
	v.SetDefault("monitoring.stuck_attempts", 5)
	v.SetDefault("monitoring.failure_backlog", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "watch",
// "check", "status" or "forget".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "watch":
		errs = append(errs, c.validateWatch()...)
		errs = append(errs, c.validateReport()...)
		errs = append(errs, c.validateLedger()...)
		errs = append(errs, c.validateMetrics()...)
	case "check":
		errs = append(errs, c.validateReport()...)
	case "status", "forget":
		errs = append(errs, c.validateLedger()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, "log.format must be json or console")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateWatch() []string {
	var errs []string
	if c.Watch.Dir == "" {
		errs = append(errs, "watch.dir is required")
	}
	if c.Watch.Pattern == "" {
		errs = append(errs, "watch.pattern is required")
	}
	if c.Watch.PollInterval <= 0 {
		errs = append(errs, "watch.poll_interval must be > 0")
	}
	return errs
}

func (c *Config) validateReport() []string {
	var errs []string
	if c.Report.Dir == "" {
		errs = append(errs, "report.dir is required")
	}
	if c.Report.SampleRows <= 0 {
		errs = append(errs, "report.sample_rows must be > 0")
	}
	return errs
}

func (c *Config) validateLedger() []string {
	var errs []string
	switch c.Ledger.Driver {
	case "sqlite", "postgres":
		if c.Ledger.DSN == "" {
			errs = append(errs, "ledger.dsn is required for driver "+c.Ledger.Driver)
		}
	case "memory":
	default:
		errs = append(errs, "ledger.driver must be sqlite, postgres or memory")
	}
	return errs
}

func (c *Config) validateMetrics() []string {
	var errs []string
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			errs = append(errs, "metrics.addr must be host:port")
		}
	}
	if c.Monitoring.WebhookURL != "" {
		if c.Monitoring.CheckInterval <= 0 {
			errs = append(errs, "monitoring.check_interval must be > 0")
		}
		if c.Monitoring.StuckAttempts <= 0 {
			errs = append(errs, "monitoring.stuck_attempts must be > 0")
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
