package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framewire.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestComputeBlake3HashStable(t *testing.T) {
	path := writeConfig(t, "service:\n  name: a\n")

	h1, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}
	h2, _ := ComputeBlake3Hash(path)
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("hash = %q / %q, want stable 64 hex chars", h1, h2)
	}

	if err := VerifyFileHash(path, h1); err != nil {
		t.Errorf("VerifyFileHash() = %v", err)
	}
	if err := VerifyFileHash(path, strings.Repeat("0", 64)); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("VerifyFileHash() = %v, want ErrHashMismatch", err)
	}
}

func TestLockAndLoad(t *testing.T) {
	path := writeConfig(t, "service:\n  name: locked\n")

	hash, err := Lock(path)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	data, err := os.ReadFile(LockPath(path))
	if err != nil {
		t.Fatalf("lock sidecar missing: %v", err)
	}
	if !strings.HasPrefix(string(data), hash) {
		t.Errorf("sidecar = %q, want hash prefix %s", data, hash)
	}

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	// Tamper with the file after locking.
	if err := os.WriteFile(path, []byte("service:\n  name: changed\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("Load() error = %v, want ErrHashMismatch", err)
	}

	if _, err := Lock(path); err != nil {
		t.Fatalf("re-Lock() failed: %v", err)
	}
	if err := VerifyLock(path); err != nil {
		t.Errorf("VerifyLock() after re-lock = %v", err)
	}
}

func TestVerifyLockWithoutSidecar(t *testing.T) {
	path := writeConfig(t, "{}\n")
	if err := VerifyLock(path); err != nil {
		t.Errorf("VerifyLock() = %v, want nil for unlocked file", err)
	}
}

func TestVerifyLockEmptySidecar(t *testing.T) {
	path := writeConfig(t, "{}\n")
	if err := os.WriteFile(LockPath(path), nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := VerifyLock(path); err == nil {
		t.Error("VerifyLock() succeeded with empty sidecar")
	}
}
