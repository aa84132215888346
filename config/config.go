package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Job         JobConfig      `yaml:"job"`
	Symbols     []string       `yaml:"symbols"`
	DaysToFetch int            `yaml:"days_to_fetch"`
	Provider    ProviderConfig `yaml:"provider"`
	Secrets     SecretsConfig  `yaml:"secrets"`
	Storage     StorageConfig  `yaml:"storage"`
	Features    FeaturesConfig `yaml:"features"`
	Notify      NotifyConfig   `yaml:"notify"`
	Schedule    ScheduleConfig `yaml:"schedule"`
	Recorder    RecorderConfig `yaml:"recorder"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Logging     LoggingConfig  `yaml:"logging"`
}

type JobConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ProviderConfig struct {
	// Kind selects the market data source: "alpaca" or "synthetic".
	Kind              string        `yaml:"kind"`
	SecretName        string        `yaml:"secret_name"`
	KeyIDField        string        `yaml:"key_id_field"`
	SecretKeyField    string        `yaml:"secret_key_field"`
	DataURL           string        `yaml:"data_url"`
	Feed              string        `yaml:"feed"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type SecretsConfig struct {
	// Backend is "aws" (Secrets Manager) or "file".
	Backend  string `yaml:"backend"`
	FilePath string `yaml:"file_path"`
	Region   string `yaml:"region"`
}

type StorageConfig struct {
	// Backend is "s3" or "local".
	Backend   string      `yaml:"backend"`
	KeyPrefix string      `yaml:"key_prefix"`
	S3        S3Config    `yaml:"s3"`
	Local     LocalConfig `yaml:"local"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LocalConfig struct {
	Dir string `yaml:"dir"`
}

type FeaturesConfig struct {
	Enabled            bool     `yaml:"enabled"`
	EnabledFeatures    []string `yaml:"enabled_features"`
	MAWindows          []int    `yaml:"ma_windows"`
	RSIWindow          int      `yaml:"rsi_window"`
	AllowIndexMismatch bool     `yaml:"allow_index_mismatch"`
	OutputKey          string   `yaml:"output_key"`
	ParquetKey         string   `yaml:"parquet_key"`
}

type NotifyConfig struct {
	// Backend is "ses" or "log".
	Backend          string `yaml:"backend"`
	SourceEmail      string `yaml:"source_email"`
	DestinationEmail string `yaml:"destination_email"`
	Region           string `yaml:"region"`
}

type ScheduleConfig struct {
	Cron        string `yaml:"cron"`
	RunOnStart  bool   `yaml:"run_on_start"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type RecorderConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Region    string `yaml:"region"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// ConfigError reports missing or malformed configuration. It is fatal:
// the run aborts before any symbol is processed.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Job:         JobConfig{Name: "barflow", Version: "dev"},
		DaysToFetch: 30,
		Provider: ProviderConfig{
			Kind:              "alpaca",
			SecretName:        "alpaca/api",
			KeyIDField:        "ALPACA_API_KEY_ID",
			SecretKeyField:    "ALPACA_API_SECRET_KEY",
			Feed:              "iex",
			RequestsPerSecond: 3,
			Timeout:           30 * time.Second,
		},
		Secrets: SecretsConfig{Backend: "file", FilePath: "config/alpaca.secrets"},
		Storage: StorageConfig{Backend: "local", Local: LocalConfig{Dir: "local_bucket"}},
		Features: FeaturesConfig{
			Enabled:         true,
			EnabledFeatures: []string{"moving_averages", "technical_indicators", "price_changes"},
			MAWindows:       []int{5, 20, 50},
			RSIWindow:       14,
			OutputKey:       "features.csv",
		},
		Notify: NotifyConfig{Backend: "log", Region: "us-west-2"},
		Schedule: ScheduleConfig{
			Cron:        "0 0 22 * * 1-5",
			MetricsAddr: ":2112",
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads path, applies environment overrides and validates the
// result. Every failure is a *ConfigError.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to read config file: %w", err)}
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default, then applies env overrides and
// validation.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to parse config file: %w", err)}
	}

	applyEnv(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	for i, s := range config.Symbols {
		config.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnv(config *Config) {
	if v := os.Getenv("BARFLOW_SYMBOLS"); v != "" {
		config.Symbols = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				config.Symbols = append(config.Symbols, s)
			}
		}
	}
	if v := os.Getenv("BARFLOW_DAYS_TO_FETCH"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			config.DaysToFetch = n
		}
	}
	if config.Storage.Backend == "s3" {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

var knownFeatures = map[string]bool{
	"moving_averages":      true,
	"technical_indicators": true,
	"price_changes":        true,
}

func validateConfig(cfg *Config) error {
	if cfg.Job.Name == "" {
		return invalid("job.name", "is required")
	}
	if len(cfg.Symbols) == 0 {
		return invalid("symbols", "at least one symbol is required")
	}
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s == "" {
			return invalid("symbols", "empty symbol")
		}
		if seen[s] {
			return invalid("symbols", "duplicate symbol %q", s)
		}
		seen[s] = true
	}
	if cfg.DaysToFetch <= 0 {
		return invalid("days_to_fetch", "must be greater than 0")
	}

	switch cfg.Provider.Kind {
	case "alpaca":
		if cfg.Provider.SecretName == "" {
			return invalid("provider.secret_name", "is required for the alpaca provider")
		}
		if cfg.Provider.RequestsPerSecond <= 0 {
			return invalid("provider.requests_per_second", "must be greater than 0")
		}
	case "synthetic":
	default:
		return invalid("provider.kind", "unknown provider %q", cfg.Provider.Kind)
	}

	switch cfg.Secrets.Backend {
	case "aws":
	case "file":
		if cfg.Secrets.FilePath == "" {
			return invalid("secrets.file_path", "is required for the file backend")
		}
	default:
		return invalid("secrets.backend", "unknown backend %q", cfg.Secrets.Backend)
	}

	switch cfg.Storage.Backend {
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "is required when the s3 backend is selected")
		}
		if cfg.Storage.S3.Region == "" {
			return invalid("storage.s3.region", "is required when the s3 backend is selected")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return invalid("storage.s3.bucket", "'%s' is invalid", cfg.Storage.S3.Bucket)
		}
	case "local":
		if cfg.Storage.Local.Dir == "" {
			return invalid("storage.local.dir", "is required when the local backend is selected")
		}
	default:
		return invalid("storage.backend", "unknown backend %q", cfg.Storage.Backend)
	}

	if cfg.Features.Enabled {
		if cfg.Features.OutputKey == "" {
			return invalid("features.output_key", "is required when features are enabled")
		}
		for _, f := range cfg.Features.EnabledFeatures {
			if !knownFeatures[f] {
				return invalid("features.enabled_features", "unknown feature %q", f)
			}
		}
		for _, w := range cfg.Features.MAWindows {
			if w <= 0 {
				return invalid("features.ma_windows", "window %d must be positive", w)
			}
		}
		if cfg.Features.RSIWindow <= 0 {
			return invalid("features.rsi_window", "must be positive")
		}
	}

	switch cfg.Notify.Backend {
	case "log":
	case "ses":
		if cfg.Notify.SourceEmail == "" || cfg.Notify.DestinationEmail == "" {
			return invalid("notify", "source_email and destination_email are required for the ses backend")
		}
	default:
		return invalid("notify.backend", "unknown backend %q", cfg.Notify.Backend)
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return invalid("metrics.cloudwatch.namespace", "is required when cloudwatch metrics are enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
