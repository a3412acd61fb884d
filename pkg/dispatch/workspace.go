package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// hashUploads computes the hex sha256 of each uploaded file's bytes, keyed
// by form field. These hashes are part of the job identity.
func hashUploads(uploads []Upload) (map[string]string, error) {
	hashes := make(map[string]string, len(uploads))
	for _, u := range uploads {
		f, err := os.Open(u.TempPath)
		if err != nil {
			return nil, fmt.Errorf("open uploaded file %s: %w", u.FieldKey, err)
		}
		h := sha256.New()
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("hash uploaded file %s: %w", u.FieldKey, err)
		}
		hashes[u.FieldKey] = hex.EncodeToString(h.Sum(nil))
	}
	return hashes, nil
}

// wipeAndRecreate resets a per-job directory to an empty state. Leftovers
// from an earlier dispatch of the same id must not leak into this run.
func wipeAndRecreate(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wipe %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// moveFile relocates an uploaded temp file into the job workspace. Rename
// is attempted first; a copy+remove covers temp areas on other devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return os.Remove(src)
}

// persistInputs moves the uploaded files under <runDir>/input_files and
// returns the resolved path per form field.
func persistInputs(runDir string, uploads []Upload) (map[string]string, error) {
	if len(uploads) == 0 {
		return map[string]string{}, nil
	}

	inputsDir := filepath.Join(runDir, "input_files")
	if err := os.MkdirAll(inputsDir, 0755); err != nil {
		return nil, fmt.Errorf("create inputs dir: %w", err)
	}

	resolved := make(map[string]string, len(uploads))
	for _, u := range uploads {
		dst := filepath.Join(inputsDir, filepath.Base(u.Filename))
		if err := moveFile(u.TempPath, dst); err != nil {
			return nil, fmt.Errorf("persist input %s: %w", u.FieldKey, err)
		}
		resolved[u.FieldKey] = dst
	}
	return resolved, nil
}
