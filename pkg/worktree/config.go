package worktree

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the read-only got.conf living in the worktree meta
// directory. Absence is not an error: an empty Config is
// returned and callers fall back to defaults.
type Config struct {
	Author struct {
		Name  string `toml:"name"`
		Email string `toml:"email"`
	} `toml:"author"`
	Remote map[string]RemoteConfig `toml:"remote"`
}

// RemoteConfig is one [remote.NAME] section of got.conf.
type RemoteConfig struct {
	Server     string `toml:"server"`
	Protocol   string `toml:"protocol"`
	Repository string `toml:"repository"`
}

// ReadConfig reads got.conf from the worktree meta directory. A missing
// file yields a zero-value Config, not an error.
func ReadConfig(metaDir string) (*Config, error) {
	path := filepath.Join(metaDir, "got.conf")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, wrapf(KindWorktreeMeta, "read config", path, "%w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, wrapf(KindWorktreeMeta, "read config", path, "parse: %w", err)
	}
	return &cfg, nil
}
