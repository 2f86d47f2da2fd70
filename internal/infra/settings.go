package infra

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// settingsDirName is the per-user and per-directory configuration folder.
const settingsDirName = ".agentbridge"

// settingsFileNames are tried in order inside each settings directory.
var settingsFileNames = []string{"settings.yaml", "settings.yml", "settings.json"}

// ErrNoSettingsFile is returned by Load when no file was given or found.
var ErrNoSettingsFile = errors.New("no settings file found")

// FileSettingsRepository represents file-persisted settings repository
type FileSettingsRepository struct {
	configPath string // Specific path (empty means search for file)
}

// InMemorySettingsRepository represents in-memory-only settings repository
type InMemorySettingsRepository struct {
	data []byte
}

// NewFileSettingsRepository creates a new file-based settings repository
func NewFileSettingsRepository(configPath string) *FileSettingsRepository {
	return &FileSettingsRepository{
		configPath: configPath,
	}
}

// NewInMemorySettingsRepository creates a new in-memory settings repository
func NewInMemorySettingsRepository() *InMemorySettingsRepository {
	return &InMemorySettingsRepository{}
}

// FileSettingsRepository methods
func (fr *FileSettingsRepository) Load() ([]byte, error) {
	configPath, err := fr.FindSettingsFile()
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		return nil, ErrNoSettingsFile
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read settings file")
	}
	return data, nil
}

func (fr *FileSettingsRepository) Save(data []byte) error {
	configPath := fr.configPath
	if configPath == "" {
		// Try to find existing settings file first
		foundPath, _ := fr.FindSettingsFile()
		if foundPath != "" {
			configPath = foundPath
		} else {
			configPath = filepath.Join(settingsDirName, settingsFileNames[0])
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write settings file")
	}
	return nil
}

// FindSettingsFile resolves the settings file. An explicit path is returned
// only when it exists. Otherwise ./.agentbridge is searched before
// $HOME/.agentbridge.
func (fr *FileSettingsRepository) FindSettingsFile() (string, error) {
	if fr.configPath != "" {
		if _, err := os.Stat(fr.configPath); err != nil {
			if os.IsNotExist(err) {
				return "", nil
			}
			return "", errors.Wrapf(err, "stat %s", fr.configPath)
		}
		return fr.configPath, nil
	}

	dirs := []string{settingsDirName}
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(homeDir, settingsDirName))
	}
	for _, dir := range dirs {
		for _, name := range settingsFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	// No settings file found
	return "", nil
}

// Path returns the explicit path this repository was created with.
func (fr *FileSettingsRepository) Path() string {
	return fr.configPath
}

// InMemorySettingsRepository methods
func (mr *InMemorySettingsRepository) Load() ([]byte, error) {
	if mr.data == nil {
		return nil, ErrNoSettingsFile
	}
	return mr.data, nil
}

func (mr *InMemorySettingsRepository) Save(data []byte) error {
	mr.data = make([]byte, len(data))
	copy(mr.data, data)
	return nil
}

func (mr *InMemorySettingsRepository) FindSettingsFile() (string, error) {
	// In-memory repository doesn't have files
	return "", nil
}
