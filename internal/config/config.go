// Package config reads process configuration from SEEDLOT_* environment
// variables so that main stays lean.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Blob drivers.
const (
	BlobMemory = "memory"
	BlobFS     = "fs"
	BlobS3     = "s3"
)

// Storage selects and configures the persistent store.
type Storage struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// Blob selects and configures the evidence document archive.
type Blob struct {
	Driver      string
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Rulesets locates ruleset documents and pins a version.
type Rulesets struct {
	// Dir holds <version>.yaml files. When empty, rulesets are read from the
	// blob archive under rulesets/.
	Dir     string
	Version string
}

// Assessment tunes the decision engine and the shipping gate.
type Assessment struct {
	ReviewThreshold  float64
	Validity         time.Duration
	MaxInspectionAge time.Duration
}

// Tracing configures OpenTelemetry export. Spans are written to stdout when
// enabled.
type Tracing struct {
	Enabled     bool
	SampleRatio float64
}

// Config is the full process configuration.
type Config struct {
	HTTPAddr   string
	LogMode    string
	RedisAddr  string
	Storage    Storage
	Blob       Blob
	Rulesets   Rulesets
	Assessment Assessment
	Tracing    Tracing
}

// Defaults returns the configuration used when no variables are set.
func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		LogMode:  "production",
		Storage:  Storage{Driver: StorageSQLite, SQLitePath: "seedlot.db"},
		Blob:     Blob{Driver: BlobFS, FSRoot: "./blobdata", S3Region: "us-east-1"},
		Rulesets: Rulesets{Version: "latest"},
		Assessment: Assessment{
			ReviewThreshold:  0.7,
			Validity:         90 * 24 * time.Hour,
			MaxInspectionAge: 14 * 24 * time.Hour,
		},
		Tracing: Tracing{SampleRatio: 0.1},
	}
}

// FromEnv builds a Config from the environment over Defaults and validates it.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	str("SEEDLOT_HTTP_ADDR", &cfg.HTTPAddr)
	str("SEEDLOT_LOG_MODE", &cfg.LogMode)
	str("SEEDLOT_REDIS_ADDR", &cfg.RedisAddr)
	str("SEEDLOT_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("SEEDLOT_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("SEEDLOT_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("SEEDLOT_BLOB_DRIVER", &cfg.Blob.Driver)
	str("SEEDLOT_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("SEEDLOT_BLOB_S3_BUCKET", &cfg.Blob.S3Bucket)
	str("SEEDLOT_BLOB_S3_REGION", &cfg.Blob.S3Region)
	str("SEEDLOT_BLOB_S3_ENDPOINT", &cfg.Blob.S3Endpoint)
	str("SEEDLOT_RULESET_DIR", &cfg.Rulesets.Dir)
	str("SEEDLOT_RULESET_VERSION", &cfg.Rulesets.Version)
	dur("SEEDLOT_ASSESSMENT_VALIDITY", &cfg.Assessment.Validity)
	dur("SEEDLOT_MAX_INSPECTION_AGE", &cfg.Assessment.MaxInspectionAge)

	if v, ok := lookup("SEEDLOT_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SEEDLOT_BLOB_S3_PATH_STYLE: %w", err))
		}
		cfg.Blob.S3PathStyle = b
	}
	if v, ok := lookup("SEEDLOT_TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SEEDLOT_TRACING_ENABLED: %w", err))
		}
		cfg.Tracing.Enabled = b
	}
	if v, ok := lookup("SEEDLOT_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SEEDLOT_TRACING_SAMPLE_RATIO: %w", err))
		}
		cfg.Tracing.SampleRatio = f
	}
	if v, ok := lookup("SEEDLOT_REVIEW_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SEEDLOT_REVIEW_THRESHOLD: %w", err))
		}
		cfg.Assessment.ReviewThreshold = f
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("SEEDLOT_POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case BlobMemory, BlobFS:
	case BlobS3:
		if c.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("SEEDLOT_BLOB_S3_BUCKET is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Assessment.ReviewThreshold < 0 || c.Assessment.ReviewThreshold > 1 {
		errs = append(errs, fmt.Errorf("review threshold %v outside [0,1]", c.Assessment.ReviewThreshold))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing sample ratio %v outside [0,1]", c.Tracing.SampleRatio))
	}
	if c.Assessment.Validity <= 0 {
		errs = append(errs, errors.New("assessment validity must be positive"))
	}
	if c.Assessment.MaxInspectionAge <= 0 {
		errs = append(errs, errors.New("max inspection age must be positive"))
	}
	if c.LogMode != "production" && c.LogMode != "development" {
		errs = append(errs, fmt.Errorf("unknown log mode %q", c.LogMode))
	}
	return errors.Join(errs...)
}
