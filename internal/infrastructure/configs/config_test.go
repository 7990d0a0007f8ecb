package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.RabbitMQ.Prefetch != 1 {
		t.Errorf("RabbitMQ.Prefetch = %d, want 1", cfg.RabbitMQ.Prefetch)
	}
	if cfg.Processor.HistoryLimit != 100 {
		t.Errorf("Processor.HistoryLimit = %d, want 100", cfg.Processor.HistoryLimit)
	}
	if cfg.Processor.InitialBackoff != 100*time.Millisecond {
		t.Errorf("Processor.InitialBackoff = %v", cfg.Processor.InitialBackoff)
	}
	if cfg.Logger.Logger != "zap" {
		t.Errorf("Logger.Logger = %q, want zap", cfg.Logger.Logger)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("http:\n  port: 9000\nrabbitmq:\n  delivery_limit: 3\nstorage:\n  driver: s3\n  bucket: images\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RABBITMQ_DELIVERY_LIMIT", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTP.Port != 9000 {
		t.Errorf("HTTP.Port = %d, want 9000 from file", cfg.HTTP.Port)
	}
	if cfg.RabbitMQ.DeliveryLimit != 7 {
		t.Errorf("RabbitMQ.DeliveryLimit = %d, want env override 7", cfg.RabbitMQ.DeliveryLimit)
	}
	if cfg.Storage.Driver != "s3" || cfg.Storage.Bucket != "images" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	// untouched sections still get defaults
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Errorf("HTTP.Host = %q", cfg.HTTP.Host)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestFirstExisting(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(present, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	got := firstExisting([]string{filepath.Join(dir, "config.yaml"), present})
	if got != present {
		t.Errorf("firstExisting = %q, want %q", got, present)
	}
	if got := firstExisting([]string{filepath.Join(dir, "missing")}); got != "" {
		t.Errorf("firstExisting = %q, want empty", got)
	}
}
