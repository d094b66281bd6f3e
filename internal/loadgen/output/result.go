package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paklog/catalog-loadgen/internal/loadgen/engine"
)

// WriteJSON writes result as indented JSON.
func WriteJSON(w io.Writer, result *engine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// WriteResultFile writes result to path, creating parent directories.
// Paths ending in .html get the HTML report, anything else JSON. A path of
// "-" writes JSON to stdout.
func WriteResultFile(path string, result *engine.Result) error {
	if path == "-" {
		return WriteJSON(os.Stdout, result)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	write := WriteJSON
	if strings.EqualFold(filepath.Ext(path), ".html") {
		write = WriteHTML
	}
	if err := write(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
