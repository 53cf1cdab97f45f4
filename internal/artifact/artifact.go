// Package artifact persists and verifies the filesystem artifacts shared
// between pipeline stages.
//
// Every stage follows the same discipline: ensure the output directory
// exists, write the artifact, then verify the file is actually on disk.
// A write that leaves no file behind is reported as ErrMissing rather than
// silently succeeding.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrMissing indicates an artifact file was absent immediately after a
// seemingly successful write.
var ErrMissing = errors.New("artifact missing after write")

// EnsureDir creates dir (including parents) if it does not exist.
func EnsureDir(log *slog.Logger, dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	log.Warn("output directory does not exist, creating", "dir", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// WriteJSON writes v to path as pretty-printed JSON (4-space indent, the
// format shared by all *_conf.json and eval_results.json artifacts) and
// verifies the file exists afterwards.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if !Exists(path) {
		return fmt.Errorf("%s: %w", path, ErrMissing)
	}
	return nil
}

// ReadJSON parses the JSON artifact at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Exists reports whether the file at path exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
