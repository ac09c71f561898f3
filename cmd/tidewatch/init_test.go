package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic. It restores the original umask when the test ends.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	cfgPath := filepath.Join(dir, "tidewatch.yaml")
	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("tidewatch.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("tidewatch.yaml permissions = %o, want 0600", got)
	}

	content, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read tidewatch.yaml: %v", err)
	}
	for _, want := range []string{"homeassistant:", "zones:", "camera:"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("config missing %q", want)
		}
	}

	if !strings.Contains(buf.String(), "✓") {
		t.Error("output missing ✓ marker")
	}
}

func TestRunInit_SkipsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	sentinel := []byte("# sentinel\n")
	cfgPath := filepath.Join(dir, "tidewatch.yaml")
	if err := os.WriteFile(cfgPath, sentinel, 0o600); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	if !strings.Contains(buf.String(), "exists, skipping") {
		t.Errorf("output = %q, want skip marker", buf.String())
	}

	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read tidewatch.yaml: %v", err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Error("existing config was overwritten")
	}
}

func TestRunInit_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "config")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tidewatch.yaml")); err != nil {
		t.Errorf("tidewatch.yaml not created in nested dir: %v", err)
	}
}

func TestWriteIfMissing_CreateError(t *testing.T) {
	// Parent is a regular file, so OpenFile fails with a non-ErrExist
	// error that writeIfMissing must surface.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("i am a file"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var buf bytes.Buffer
	err := writeIfMissing(&buf, filepath.Join(blocker, "file.txt"), []byte("data"), 0o644)
	if err == nil {
		t.Fatal("expected error for create failure, got nil")
	}
	if !strings.Contains(err.Error(), "create") {
		t.Errorf("error = %q, want it to mention create", err)
	}
}
