package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRequest reads a YAML or JSON file into v. "-" reads stdin.
func LoadRequest(path string, v any) error {
	if path == "-" {
		return LoadRequestFrom(os.Stdin, v)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cli: %w", err)
	}
	return ParseRequest(data, path, v)
}

// LoadRequestFrom reads r fully and parses it as JSON or YAML.
func LoadRequestFrom(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("cli: read input: %w", err)
	}
	return ParseRequest(data, "", v)
}

// ParseRequest decodes data by the extension of filename. Without a known
// extension it tries YAML, then JSON.
func ParseRequest(data []byte, filename string, v any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("cli: parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("cli: parse JSON: %w", err)
		}
	default:
		yerr := yaml.Unmarshal(data, v)
		if yerr == nil {
			return nil
		}
		if jerr := json.Unmarshal(data, v); jerr != nil {
			return fmt.Errorf("cli: parse input (tried YAML and JSON): %w", errors.Join(yerr, jerr))
		}
	}
	return nil
}
