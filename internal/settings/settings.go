package settings

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

const DefaultListID = "default"

// Settings is the client's persisted local configuration: who the user is
// (for item attribution) and which list to open at startup.
type Settings struct {
	Pseudo string `yaml:"pseudo"`
	ListID string `yaml:"list_id"`
}

func Default() Settings {
	return Settings{ListID: DefaultListID}
}

// Load reads the settings file at path. A missing file is not an error; the
// defaults are returned so first launch works without setup.
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Settings{}, err
	}
	s := Default()
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, err
	}
	if s.ListID == "" {
		s.ListID = DefaultListID
	}
	return s, nil
}

// Save writes the settings file, creating parent directories as needed.
func Save(path string, s Settings) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}
