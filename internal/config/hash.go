package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrHashMismatch is returned when a config file no longer matches its lock.
var ErrHashMismatch = errors.New("config hash mismatch")

// LockPath returns the sidecar file that pins the hash of configPath.
func LockPath(configPath string) string {
	return configPath + ".b3"
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("%w for %s: expected %s, got %s",
			ErrHashMismatch, filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// Lock writes the sidecar for configPath and returns the recorded hash.
func Lock(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}

	// Write with restrictive permissions (contains expected hash)
	line := fmt.Sprintf("%s  %s\n", hash, filepath.Base(configPath))
	if err := os.WriteFile(LockPath(configPath), []byte(line), 0600); err != nil {
		return "", fmt.Errorf("failed to write lock: %w", err)
	}
	return hash, nil
}

// VerifyLock checks configPath against its sidecar. A missing sidecar means the
// file is not locked and passes.
func VerifyLock(configPath string) error {
	data, err := os.ReadFile(LockPath(configPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read lock: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return fmt.Errorf("lock file %s is empty", LockPath(configPath))
	}

	if err := VerifyFileHash(configPath, fields[0]); err != nil {
		return fmt.Errorf("config verification failed: %w\n"+
			"If you edited this file intentionally, run: framewire config lock", err)
	}
	return nil
}
