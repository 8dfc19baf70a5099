package config

import (
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.Storage.Driver != StorageSQLite || cfg.Blob.Driver != BlobFS || cfg.Rulesets.Version != "latest" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Assessment.MaxInspectionAge != 14*24*time.Hour || cfg.Assessment.ReviewThreshold != 0.7 {
		t.Fatalf("unexpected assessment defaults %+v", cfg.Assessment)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(map[string]string{
		"SEEDLOT_STORAGE_DRIVER":       "postgres",
		"SEEDLOT_POSTGRES_DSN":         "postgres://db/seedlot",
		"SEEDLOT_BLOB_DRIVER":          "s3",
		"SEEDLOT_BLOB_S3_BUCKET":       "evidence",
		"SEEDLOT_BLOB_S3_PATH_STYLE":   "true",
		"SEEDLOT_REVIEW_THRESHOLD":     "0.8",
		"SEEDLOT_ASSESSMENT_VALIDITY":  "720h",
		"SEEDLOT_MAX_INSPECTION_AGE":   "168h",
		"SEEDLOT_REDIS_ADDR":           "redis://cache:6379/0",
		"SEEDLOT_LOG_MODE":             "development",
		"SEEDLOT_TRACING_ENABLED":      "true",
		"SEEDLOT_TRACING_SAMPLE_RATIO": "1",
	}))
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	if cfg.Storage.PostgresDSN != "postgres://db/seedlot" || !cfg.Blob.S3PathStyle || cfg.Assessment.ReviewThreshold != 0.8 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("tracing not applied: %+v", cfg.Tracing)
	}
	if cfg.Assessment.Validity != 720*time.Hour || cfg.Assessment.MaxInspectionAge != 168*time.Hour {
		t.Fatalf("durations not applied: %+v", cfg.Assessment)
	}
}

func TestFromEnvRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":      {"SEEDLOT_ASSESSMENT_VALIDITY": "ninety days"},
		"bad threshold":     {"SEEDLOT_REVIEW_THRESHOLD": "1.5"},
		"unparsable float":  {"SEEDLOT_REVIEW_THRESHOLD": "high"},
		"unknown storage":   {"SEEDLOT_STORAGE_DRIVER": "mongo"},
		"postgres no dsn":   {"SEEDLOT_STORAGE_DRIVER": "postgres"},
		"s3 without bucket": {"SEEDLOT_BLOB_DRIVER": "s3"},
		"negative window":   {"SEEDLOT_MAX_INSPECTION_AGE": "-1h"},
		"sample ratio":      {"SEEDLOT_TRACING_SAMPLE_RATIO": "2"},
		"unknown log mode":  {"SEEDLOT_LOG_MODE": "verbose"},
		"bad path style":    {"SEEDLOT_BLOB_S3_PATH_STYLE": "maybe"},
	}
	for name, env := range cases {
		if _, err := fromLookup(lookupFrom(env)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
