// Package export writes grading results to local files.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"exam-grader/api/internal/grading"
)

// WriteJSON saves the result as indented JSON and returns the absolute path.
func WriteJSON(path string, res grading.Result) (string, error) {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	if err := writeFile(path, append(b, '\n')); err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

type JSONSink struct {
	Path string
}

func (s JSONSink) Name() string { return "json" }

func (s JSONSink) Deliver(ctx context.Context, res grading.Result) error {
	_, err := WriteJSON(s.Path, res)
	return err
}
