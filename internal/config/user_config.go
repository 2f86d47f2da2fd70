package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// UserConfig manages per-user configuration and data directories
type UserConfig struct {
	BaseDir     string // $HOME/.agentbridge
	LogsDir     string // $HOME/.agentbridge/logs
	HistoryFile string // $HOME/.agentbridge/client_history.txt
}

// DefaultUserConfig creates the default user configuration
func DefaultUserConfig() (*UserConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user home directory")
	}
	return NewUserConfig(filepath.Join(homeDir, ".agentbridge"))
}

// NewUserConfig lays out the directories under baseDir and creates them.
func NewUserConfig(baseDir string) (*UserConfig, error) {
	config := &UserConfig{
		BaseDir:     baseDir,
		LogsDir:     filepath.Join(baseDir, "logs"),
		HistoryFile: filepath.Join(baseDir, "client_history.txt"),
	}

	if err := config.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, "failed to create user directories")
	}
	return config, nil
}

// EnsureDirectories creates the user configuration directories if they don't exist
func (c *UserConfig) EnsureDirectories() error {
	for _, dir := range []string{c.BaseDir, c.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return nil
}
