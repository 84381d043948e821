package satellite

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EnvFile is the satellite section of local_env.json.
type EnvFile struct {
	Token string `json:"token"`
	Port  int    `json:"port"`
}

const envKey = "satellite"

// WriteEnvFile stores the satellite token and port under the "satellite"
// key of the JSON object at path. Other top-level keys already in the file
// are kept. The file is replaced atomically with mode 0600.
func WriteEnvFile(path string, env EnvFile) error {
	doc := map[string]json.RawMessage{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) > 0 {
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read %s: %w", path, err)
	}

	section, err := json.Marshal(env)
	if err != nil {
		return err
	}
	doc[envKey] = section

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".local_env-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(out, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ReadEnvFile loads the satellite section written by WriteEnvFile.
func ReadEnvFile(path string) (EnvFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EnvFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	var doc struct {
		Satellite *EnvFile `json:"satellite"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return EnvFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Satellite == nil {
		return EnvFile{}, fmt.Errorf("%s has no %q section", path, envKey)
	}
	return *doc.Satellite, nil
}
