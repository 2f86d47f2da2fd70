package repository

// SettingsRepository abstracts settings persistence
type SettingsRepository interface {
	Load() ([]byte, error)
	Save(data []byte) error
	// FindSettingsFile returns the file Load would read, or "" when there is none.
	FindSettingsFile() (string, error)
}
