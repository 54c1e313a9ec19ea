package main

import (
	"os"
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("QUOTERELAY_TEST_INT", "42")
	got := intEnv("QUOTERELAY_TEST_INT", 7)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("QUOTERELAY_TEST_INT_BAD", "not-a-number")
	got := intEnv("QUOTERELAY_TEST_INT_BAD", 7)
	if got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("QUOTERELAY_TEST_DURATION", "150ms")
	got := durationEnv("QUOTERELAY_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("QUOTERELAY_TEST_INT_UNSET")
	_ = os.Unsetenv("QUOTERELAY_TEST_DURATION_UNSET")

	if got := intEnv("QUOTERELAY_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := durationEnv("QUOTERELAY_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
}

func TestStorageProfileDefaults(t *testing.T) {
	t.Setenv("QUOTERELAY_BACKEND_PROFILE", "memory")
	state, imports, archives, err := storageProfileDefaultsFromEnv()
	if err != nil {
		t.Fatalf("memory profile failed: %v", err)
	}
	if state != "memory://" || imports != "memory://" || archives != "memory://" {
		t.Fatalf("unexpected memory profile DSNs %q %q %q", state, imports, archives)
	}

	t.Setenv("QUOTERELAY_BACKEND_PROFILE", "production")
	t.Setenv("QUOTERELAY_PRODUCTION_DSN", "")
	t.Setenv("QUOTERELAY_POSTGRES_DSN", "")
	if _, _, _, err := storageProfileDefaultsFromEnv(); err == nil {
		t.Fatal("expected production profile without DSN to fail")
	}

	t.Setenv("QUOTERELAY_BACKEND_PROFILE", "durable-local")
	t.Setenv("QUOTERELAY_DATA_DIR", "/tmp/qr-data")
	state, imports, _, err = storageProfileDefaultsFromEnv()
	if err != nil {
		t.Fatalf("durable-local profile failed: %v", err)
	}
	if state != "file:///tmp/qr-data/state.json" {
		t.Fatalf("unexpected state DSN %q", state)
	}
	if imports != "file:///tmp/qr-data/import-queue.json" {
		t.Fatalf("unexpected import queue DSN %q", imports)
	}
}

func TestBuildArchiveClientFromEnvDisabledByDefault(t *testing.T) {
	t.Setenv("QUOTERELAY_ARCHIVE_URL", "")
	if client := buildArchiveClientFromEnv(); client != nil {
		t.Fatal("expected nil archive client when no URL is configured")
	}
}
