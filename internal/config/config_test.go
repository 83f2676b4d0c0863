package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":8000" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.JWT.Expiration != 720*time.Hour {
		t.Errorf("jwt expiration = %v", cfg.JWT.Expiration)
	}
	if cfg.Pipeline.StepDelay != 2*time.Second {
		t.Errorf("step delay = %v", cfg.Pipeline.StepDelay)
	}
	if cfg.Pipeline.FlagProbability != 0.2 {
		t.Errorf("flag probability = %v", cfg.Pipeline.FlagProbability)
	}
	if cfg.Upload.MaxBytes != 100*1024*1024 {
		t.Errorf("max bytes = %d", cfg.Upload.MaxBytes)
	}
	if len(cfg.Upload.AllowedMimeTypes) != 4 {
		t.Errorf("allowed mime types = %v", cfg.Upload.AllowedMimeTypes)
	}
	if cfg.Pipeline.SweepInterval != time.Minute || cfg.Pipeline.StaleAfter != 10*time.Minute {
		t.Errorf("sweep interval = %v, stale after = %v", cfg.Pipeline.SweepInterval, cfg.Pipeline.StaleAfter)
	}
	if cfg.S3.Enabled() {
		t.Error("s3 should be disabled without a bucket")
	}
	if !cfg.S3.UseSSL {
		t.Error("s3 should default to https endpoints")
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  address: \":9000\"\npipeline:\n  step_delay: 250ms\n  max_concurrent: 2\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PIPELINE_MAX_CONCURRENT", "3")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Pipeline.StepDelay != 250*time.Millisecond {
		t.Errorf("step delay = %v", cfg.Pipeline.StepDelay)
	}
	if cfg.JWT.Secret != "from-env" {
		t.Errorf("jwt secret = %q", cfg.JWT.Secret)
	}
	if cfg.Pipeline.MaxConcurrent != 3 {
		t.Errorf("max concurrent = %d, env should win over file", cfg.Pipeline.MaxConcurrent)
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env.development"), []byte("S3_BUCKET_NAME=videos\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv writes into the process env; make sure the key is restored.
	t.Setenv("S3_BUCKET_NAME", "")
	os.Unsetenv("S3_BUCKET_NAME")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.S3.BucketName != "videos" {
		t.Errorf("bucket = %q", cfg.S3.BucketName)
	}
	if !cfg.S3.Enabled() {
		t.Error("s3 should be enabled")
	}
}
