// Package config loads engine settings from YAML, .env and the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	report "github.com/goliatone/go-report"
)

const (
	DriverFS = "fs"
	DriverS3 = "s3"
)

// Config is the engine configuration.
type Config struct {
	MaxConcurrentPerUser int           `yaml:"max_concurrent_per_user"`
	Timeout              time.Duration `yaml:"timeout"`
	Retention            time.Duration `yaml:"retention"`
	FailureThreshold     int           `yaml:"failure_threshold"`
	PollSpec             string        `yaml:"poll_spec"`
	LogLevel             string        `yaml:"log_level"`
	DBPath               string        `yaml:"db_path"`
	Storage              Storage       `yaml:"storage"`
	// SchedulePassword encrypts scheduled reports that ask for encryption.
	// It is only read from the environment.
	SchedulePassword     string        `yaml:"-"`
}

// Storage selects and configures the artifact store.
type Storage struct {
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path"`
	BaseURL string `yaml:"base_url"`
	S3      S3     `yaml:"s3"`
}

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		MaxConcurrentPerUser: 5,
		Timeout:              300 * time.Second,
		Retention:            90 * 24 * time.Hour,
		FailureThreshold:     5,
		PollSpec:             "@every 1m",
		LogLevel:             "info",
		DBPath:               "reports.db",
		Storage: Storage{
			Driver: DriverFS,
			Path:   "reports",
		},
	}
}

// Load reads path (skipped when empty), then a .env file in the working
// directory if present, then the REPORT_* environment, and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, configError("read config file", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, configError("parse config file", err)
		}
	}

	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays REPORT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"REPORT_MAX_CONCURRENT_PER_USER": &c.MaxConcurrentPerUser,
		"REPORT_FAILURE_THRESHOLD":       &c.FailureThreshold,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return configError(key+" must be an integer", err)
			}
			*dst = n
		}
	}

	// REPORT_TIMEOUT is milliseconds, REPORT_RETENTION is days; both also
	// accept Go duration strings.
	if v, ok := lookup("REPORT_TIMEOUT"); ok && v != "" {
		d, err := parseDuration(v, time.Millisecond)
		if err != nil {
			return configError("REPORT_TIMEOUT", err)
		}
		c.Timeout = d
	}
	if v, ok := lookup("REPORT_RETENTION"); ok && v != "" {
		d, err := parseDuration(v, 24*time.Hour)
		if err != nil {
			return configError("REPORT_RETENTION", err)
		}
		c.Retention = d
	}

	strs := map[string]*string{
		"REPORT_STORAGE_DRIVER":    &c.Storage.Driver,
		"REPORT_STORAGE_PATH":      &c.Storage.Path,
		"REPORT_STORAGE_BASE_URL":  &c.Storage.BaseURL,
		"REPORT_S3_BUCKET":         &c.Storage.S3.Bucket,
		"REPORT_S3_REGION":         &c.Storage.S3.Region,
		"REPORT_S3_ENDPOINT":       &c.Storage.S3.Endpoint,
		"REPORT_S3_ACCESS_KEY_ID":  &c.Storage.S3.AccessKeyID,
		"REPORT_S3_SECRET_KEY":     &c.Storage.S3.SecretAccessKey,
		"REPORT_DB_PATH":           &c.DBPath,
		"REPORT_LOG_LEVEL":         &c.LogLevel,
		"REPORT_POLL_SPEC":         &c.PollSpec,
		"REPORT_SCHEDULE_PASSWORD": &c.SchedulePassword,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	return nil
}

func parseDuration(v string, unit time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * unit, nil
	}
	return time.ParseDuration(v)
}

// Validate rejects non-positive limits and unknown drivers.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MaxConcurrentPerUser, validation.Required, validation.Min(1)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Retention, validation.Required, validation.Min(time.Hour)),
		validation.Field(&c.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.PollSpec, validation.Required),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.Storage),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid configuration").
			WithTextCode(report.ErrCodeValidation)
	}
	return nil
}

func (s Storage) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In(DriverFS, DriverS3)),
		validation.Field(&s.Path, validation.When(s.Driver == DriverFS, validation.Required)),
		validation.Field(&s.S3, validation.When(s.Driver == DriverS3, validation.By(func(any) error {
			if s.S3.Bucket == "" {
				return validation.NewError("validation_bucket_required", "bucket is required for the s3 driver")
			}
			return nil
		}))),
	)
}

func configError(msg string, err error) error {
	return errors.Wrap(err, errors.CategoryValidation, msg).WithTextCode(report.ErrCodeValidation)
}
