package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to every configuration layer and override.
const (
	maxConfigSize = 10 << 20 // bytes per layer file
	maxNesting    = 100      // object and array depth, JSON and YAML alike
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

// Layer file formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// layerFormat names the format of a layer file from its extension.
func layerFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("config file must be .json, .yaml or .yml: %s", path)
	}
}

// validateConfigPath accepts absolute paths anywhere and relative paths that
// stay below the working directory once cleaned.
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	if _, err := layerFormat(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) {
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cannot get working directory: %w", err)
	}
	rel, err := filepath.Rel(cwd, filepath.Join(cwd, path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal not allowed: %s resolves outside working directory", path)
	}
	return nil
}

// safeReadFile reads a layer file. Size and file type are checked on the
// opened handle, and the read itself is capped in case the file grows.
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("config file too large: more than %d bytes", maxConfigSize)
	}
	return data, nil
}

// safeWriteFile replaces path atomically with an owner-only file.
func safeWriteFile(path string, data []byte) error {
	if err := validateConfigPath(path); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("config data too large: %d bytes > %d", len(data), maxConfigSize)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("cannot create config file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot set config file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// validateEnvVar bounds an override value. NUL bytes are rejected since they
// never belong in a config value and truncate strings in C-backed libraries.
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth scans raw JSON before decoding so a deeply nested
// document is rejected without building it.
func validateJSONDepth(data []byte) error {
	depth := 0
	inString, escaped := false, false

	for _, b := range data {
		switch {
		case escaped:
			escaped = false
			continue
		case inString && b == '\\':
			escaped = true
			continue
		case b == '"':
			inString = !inString
			continue
		case inString:
			continue
		}

		switch b {
		case '{', '[':
			depth++
			if depth > maxNesting {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxNesting)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return errors.New("malformed JSON: unbalanced brackets")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}

// validateValueDepth applies the nesting limit to an already decoded YAML
// layer. yaml.v3 bounds alias expansion itself.
func validateValueDepth(v any) error {
	if d := valueDepth(v, 0); d > maxNesting {
		return fmt.Errorf("YAML nesting too deep: more than %d levels", maxNesting)
	}
	return nil
}

// valueDepth counts the containers enclosing v's deepest leaf, itself
// included. It stops descending once the limit is passed.
func valueDepth(v any, depth int) int {
	var children []any
	switch t := v.(type) {
	case map[string]any:
		for _, c := range t {
			children = append(children, c)
		}
	case map[any]any:
		for _, c := range t {
			children = append(children, c)
		}
	case []any:
		children = t
	default:
		return depth
	}
	depth++
	deepest := depth
	for _, c := range children {
		if deepest > maxNesting {
			break
		}
		deepest = max(deepest, valueDepth(c, depth))
	}
	return deepest
}
