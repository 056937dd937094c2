// Package config resolves the runtime settings of the cveteval command from an
// optional YAML file and CVETEVAL_* environment variables. Environment values
// take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the YAML file read before environment overrides.
const EnvConfigFile = "CVETEVAL_CONFIG"

// Environment variables understood by Load.
const (
	EnvStorageDriver     = "CVETEVAL_STORAGE_DRIVER"
	EnvSQLitePath        = "CVETEVAL_SQLITE_PATH"
	EnvPostgresDSN       = "CVETEVAL_POSTGRES_DSN"
	EnvBlobDriver        = "CVETEVAL_BLOB_DRIVER"
	EnvBlobFSRoot        = "CVETEVAL_BLOB_FS_ROOT"
	EnvS3Bucket          = "CVETEVAL_BLOB_S3_BUCKET"
	EnvS3Region          = "CVETEVAL_BLOB_S3_REGION"
	EnvS3Endpoint        = "CVETEVAL_BLOB_S3_ENDPOINT"
	EnvS3PathStyle       = "CVETEVAL_BLOB_S3_PATH_STYLE"
	EnvS3AccessKeyID     = "CVETEVAL_BLOB_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "CVETEVAL_BLOB_S3_SECRET_ACCESS_KEY"
	EnvLogMode           = "CVETEVAL_LOG_MODE"
	EnvMetrics           = "CVETEVAL_METRICS"
	EnvMetricsPushURL    = "CVETEVAL_METRICS_PUSH_URL"
)

// Metrics exporters.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// Config is the resolved configuration.
type Config struct {
	Storage Storage `yaml:"storage"`
	Blob    Blob    `yaml:"blob"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Storage selects the history store.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Blob selects the report archive.
type Blob struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// S3 configures an S3 compatible archive.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Log configures the process logger. Mode is dev or prod.
type Log struct {
	Mode string `yaml:"mode"`
}

// Metrics configures the metrics exporter.
type Metrics struct {
	Exporter string `yaml:"exporter"`
	PushURL  string `yaml:"push_url"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: Storage{Driver: "sqlite", SQLitePath: "cveteval.db"},
		Blob:    Blob{Driver: "fs", FSRoot: "./reports"},
		Log:     Log{Mode: "dev"},
		Metrics: Metrics{Exporter: MetricsExpvar},
	}
}

// Load reads the file named by CVETEVAL_CONFIG, if any, then applies the
// environment overrides and validates the result.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup(EnvConfigFile); ok && strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvStorageDriver, &c.Storage.Driver)
	str(EnvSQLitePath, &c.Storage.SQLitePath)
	str(EnvPostgresDSN, &c.Storage.PostgresDSN)
	str(EnvBlobDriver, &c.Blob.Driver)
	str(EnvBlobFSRoot, &c.Blob.FSRoot)
	str(EnvS3Bucket, &c.Blob.S3.Bucket)
	str(EnvS3Region, &c.Blob.S3.Region)
	str(EnvS3Endpoint, &c.Blob.S3.Endpoint)
	str(EnvS3AccessKeyID, &c.Blob.S3.AccessKeyID)
	str(EnvS3SecretAccessKey, &c.Blob.S3.SecretAccessKey)
	str(EnvLogMode, &c.Log.Mode)
	str(EnvMetrics, &c.Metrics.Exporter)
	str(EnvMetricsPushURL, &c.Metrics.PushURL)
	if v, ok := lookup(EnvS3PathStyle); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalid, EnvS3PathStyle, v)
		}
		c.Blob.S3.PathStyle = b
	}
	return nil
}

// Validate checks the enumerated settings. Driver names are matched case
// insensitively and normalised to lower case.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	c.Blob.Driver = strings.ToLower(c.Blob.Driver)
	c.Log.Mode = strings.ToLower(c.Log.Mode)
	c.Metrics.Exporter = strings.ToLower(c.Metrics.Exporter)
	switch c.Storage.Driver {
	case "", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: storage driver %q", ErrInvalid, c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "", "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 blob driver needs a bucket", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: blob driver %q", ErrInvalid, c.Blob.Driver)
	}
	switch c.Log.Mode {
	case "", "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("%w: log mode %q", ErrInvalid, c.Log.Mode)
	}
	switch c.Metrics.Exporter {
	case "", MetricsNone, MetricsExpvar:
		if c.Metrics.PushURL != "" {
			return fmt.Errorf("%w: push url requires the prometheus exporter", ErrInvalid)
		}
	case MetricsPrometheus:
	default:
		return fmt.Errorf("%w: metrics exporter %q", ErrInvalid, c.Metrics.Exporter)
	}
	return nil
}
