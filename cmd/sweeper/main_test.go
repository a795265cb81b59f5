package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/config"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{"--once", "-c", "sweeper.yaml"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}
	want := options{configFile: "sweeper.yaml", envFile: ".env", once: true}
	if opts != want {
		t.Fatalf("parseFlags() = %+v, want %+v", opts, want)
	}

	if _, err := parseFlags([]string{"--interval", "5s"}, io.Discard); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

func TestRunOnceAgainstSQLite(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")
	t.Setenv("SCHEDULER_STORAGE", config.StorageSQLite)
	t.Setenv("SCHEDULER_SQLITE_DSN", filepath.Join(t.TempDir(), "sweeper.db"))

	var out bytes.Buffer
	if err := run(context.Background(), []string{"--once", "--env-file", ""}, &out); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	var finished map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		if entry["msg"] == "sweep finished" {
			finished = entry
		}
	}
	if finished == nil {
		t.Fatalf("missing sweep summary in logs: %s", out.String())
	}
	if finished["expired_offers"] != float64(0) || finished["expired_approvals"] != float64(0) {
		t.Fatalf("unexpected sweep summary: %v", finished)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")
	t.Setenv("SCHEDULER_STORAGE", config.StorageMemory)
	t.Setenv("SCHEDULER_SWEEP_INTERVAL", "50ms")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"--env-file", ""}, io.Discard)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
