package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fpt/agentbridge/internal/infra"
	"github.com/fpt/agentbridge/internal/repository"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

// Settings represents the main application settings
type Settings struct {
	Server      ServerSettings      `json:"server" yaml:"server"`
	Bus         BusSettings         `json:"bus" yaml:"bus"`
	Translation TranslationSettings `json:"translation" yaml:"translation"`
	LLM         LLMSettings         `json:"llm" yaml:"llm"`
	Log         LogSettings         `json:"log" yaml:"log"`

	// Repository for persistence (nil for in-memory only)
	settingsRepository repository.SettingsRepository `json:"-" yaml:"-"`
	// format used by Save; "yaml" or "json"
	format string `json:"-" yaml:"-"`
}

// ServerSettings configures the client-facing WebSocket endpoint
type ServerSettings struct {
	Addr           string   `json:"addr" yaml:"addr"`
	Path           string   `json:"path" yaml:"path"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"` // "*" accepts any origin
	ShutdownGrace  Duration `json:"shutdown_grace,omitempty" yaml:"shutdown_grace,omitempty"`
}

// BusSettings configures the agent bus side of each session
type BusSettings struct {
	ConnectTimeout   Duration `json:"connect_timeout" yaml:"connect_timeout"`
	PlanTimeout      Duration `json:"plan_timeout" yaml:"plan_timeout"`
	CommandDelay     Duration `json:"command_delay" yaml:"command_delay"`
	PlanPerformative string   `json:"plan_performative" yaml:"plan_performative"`
	PlanContent      string   `json:"plan_content" yaml:"plan_content"`
	CommandPerform   string   `json:"command_performative" yaml:"command_performative"`
	HelloInterval    Duration `json:"hello_interval,omitempty" yaml:"hello_interval,omitempty"`
	KeepAlive        Duration `json:"keepalive,omitempty" yaml:"keepalive,omitempty"`
}

// TranslationSettings configures the translation worker pool
type TranslationSettings struct {
	PoolSize           int    `json:"pool_size" yaml:"pool_size"`
	TokenWarnThreshold int    `json:"token_warn_threshold" yaml:"token_warn_threshold"`
	PromptTemplate     string `json:"prompt_template,omitempty" yaml:"prompt_template,omitempty"` // file path; empty uses the built-in template
	TranscriptDir      string `json:"transcript_dir,omitempty" yaml:"transcript_dir,omitempty"`   // one JSON file per ended session; empty disables
}

// LLMSettings contains LLM client configuration
type LLMSettings struct {
	Backend   string `json:"backend" yaml:"backend"`                             // "ollama", "anthropic", "openai", or "gemini"
	Model     string `json:"model" yaml:"model"`                                 // model name
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`       // for ollama
	NumCtx    int    `json:"num_ctx,omitempty" yaml:"num_ctx,omitempty"`         // ollama context window
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`   // maximum tokens for model responses (0 = use model default)
}

// LogSettings configures pkg/logger
type LogSettings struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"` // "-" disables the file sink
	OTel  bool   `json:"otel,omitempty" yaml:"otel,omitempty"`
}

// NewSettings creates new settings with in-memory repository
func NewSettings() *Settings {
	return NewSettingsWithRepository(infra.NewInMemorySettingsRepository())
}

// NewSettingsWithRepository creates new settings with injected repository
func NewSettingsWithRepository(settingsRepository repository.SettingsRepository) *Settings {
	settings := GetDefaultSettings()
	settings.settingsRepository = settingsRepository
	return settings
}

// NewSettingsWithPath creates new settings with file-based repository
func NewSettingsWithPath(configPath string) *Settings {
	settings := NewSettingsWithRepository(infra.NewFileSettingsRepository(configPath))
	settings.format = formatForPath(configPath)
	return settings
}

// Load loads settings from the repository
func (s *Settings) Load() error {
	if s.settingsRepository == nil {
		return errors.New("no settings repository configured")
	}

	data, err := s.settingsRepository.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load settings")
	}

	if path, _ := s.settingsRepository.FindSettingsFile(); path != "" {
		s.format = formatForPath(path)
	}
	if err := s.decode(data); err != nil {
		return errors.Wrap(err, "failed to parse settings")
	}

	// Apply defaults for missing fields
	applyDefaults(s)
	return nil
}

// Save saves settings to the repository
func (s *Settings) Save() error {
	if s.settingsRepository == nil {
		return errors.New("no settings repository configured")
	}

	data, err := s.encode()
	if err != nil {
		return errors.Wrap(err, "failed to marshal settings")
	}
	return s.settingsRepository.Save(data)
}

func (s *Settings) decode(data []byte) error {
	if s.format == "json" {
		return json.Unmarshal(data, s)
	}
	return yaml.Unmarshal(data, s)
}

func (s *Settings) encode() ([]byte, error) {
	if s.format == "json" {
		return json.MarshalIndent(s, "", "  ")
	}
	return yaml.Marshal(s)
}

func formatForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}

// LoadSettings loads settings from configPath. An empty path searches the
// usual locations and falls back to defaults; an explicit path that does not
// exist is created with the defaults.
func LoadSettings(configPath string) (*Settings, error) {
	settings := NewSettingsWithPath(configPath)

	foundPath, err := settings.settingsRepository.FindSettingsFile()
	if err != nil {
		return nil, err
	}
	if foundPath == "" {
		if configPath == "" {
			return GetDefaultSettings(), nil
		}
		return createSettingsFileAtPath(configPath)
	}

	if err := settings.Load(); err != nil {
		return nil, err
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, errors.Wrapf(err, "invalid settings in %s", foundPath)
	}
	return settings, nil
}

// GetDefaultSettings returns default application settings
func GetDefaultSettings() *Settings {
	return &Settings{
		Server: ServerSettings{
			Addr:           ":8080",
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
			ShutdownGrace:  Duration(10 * time.Second),
		},
		Bus: BusSettings{
			ConnectTimeout:   Duration(30 * time.Second),
			PlanTimeout:      Duration(120 * time.Second),
			CommandDelay:     Duration(time.Second),
			PlanPerformative: "achieve",
			PlanContent:      "getPlans",
			CommandPerform:   "achieve",
			HelloInterval:    Duration(500 * time.Millisecond),
			KeepAlive:        Duration(15 * time.Second),
		},
		Translation: TranslationSettings{
			PoolSize:           10,
			TokenWarnThreshold: 6000,
		},
		LLM: GetDefaultLLMSettingsForBackend("ollama"),
		Log: LogSettings{
			Level: "info",
			File:  pkgLogger.DefaultLogPath(),
		},
		format: "yaml",
	}
}

// GetDefaultLLMSettingsForBackend returns default LLM settings for a specific backend
func GetDefaultLLMSettingsForBackend(backend string) LLMSettings {
	switch backend {
	case "ollama":
		return LLMSettings{
			Backend: "ollama",
			Model:   "gemma3:latest",
			BaseURL: "http://localhost:11434",
			NumCtx:  8192,
		}
	case "anthropic", "claude":
		return LLMSettings{
			Backend: "anthropic",
			Model:   "claude-sonnet-4-5-20250929",
		}
	case "openai":
		return LLMSettings{
			Backend: "openai",
			Model:   "gpt-5-mini",
		}
	case "gemini":
		return LLMSettings{
			Backend: "gemini",
			Model:   "gemini-2.5-flash-lite",
		}
	default:
		// Default to ollama settings for unknown backends
		return GetDefaultLLMSettingsForBackend("ollama")
	}
}

// applyDefaults fills in missing fields with default values
func applyDefaults(settings *Settings) {
	defaults := GetDefaultSettings()

	if settings.Server.Addr == "" {
		settings.Server.Addr = defaults.Server.Addr
	}
	if settings.Server.Path == "" {
		settings.Server.Path = defaults.Server.Path
	}
	if len(settings.Server.AllowedOrigins) == 0 {
		settings.Server.AllowedOrigins = defaults.Server.AllowedOrigins
	}
	if settings.Server.ShutdownGrace <= 0 {
		settings.Server.ShutdownGrace = defaults.Server.ShutdownGrace
	}

	bus := &settings.Bus
	if bus.ConnectTimeout <= 0 {
		bus.ConnectTimeout = defaults.Bus.ConnectTimeout
	}
	if bus.PlanTimeout <= 0 {
		bus.PlanTimeout = defaults.Bus.PlanTimeout
	}
	if bus.CommandDelay < 0 {
		bus.CommandDelay = defaults.Bus.CommandDelay
	}
	if bus.PlanPerformative == "" {
		bus.PlanPerformative = defaults.Bus.PlanPerformative
	}
	if bus.PlanContent == "" {
		bus.PlanContent = defaults.Bus.PlanContent
	}
	if bus.CommandPerform == "" {
		bus.CommandPerform = defaults.Bus.CommandPerform
	}
	if bus.HelloInterval <= 0 {
		bus.HelloInterval = defaults.Bus.HelloInterval
	}
	if bus.KeepAlive <= 0 {
		bus.KeepAlive = defaults.Bus.KeepAlive
	}

	if settings.Translation.PoolSize <= 0 {
		settings.Translation.PoolSize = defaults.Translation.PoolSize
	}
	if settings.Translation.TokenWarnThreshold <= 0 {
		settings.Translation.TokenWarnThreshold = defaults.Translation.TokenWarnThreshold
	}

	// Apply LLM defaults
	if settings.LLM.Backend == "" {
		settings.LLM.Backend = defaults.LLM.Backend
	}
	backendDefaults := GetDefaultLLMSettingsForBackend(settings.LLM.Backend)
	if settings.LLM.Model == "" {
		settings.LLM.Model = backendDefaults.Model
	}
	if settings.LLM.BaseURL == "" {
		settings.LLM.BaseURL = backendDefaults.BaseURL
	}
	if settings.LLM.NumCtx == 0 {
		settings.LLM.NumCtx = backendDefaults.NumCtx
	}

	if settings.Log.Level == "" {
		settings.Log.Level = defaults.Log.Level
	}
	if settings.Log.File == "" {
		settings.Log.File = defaults.Log.File
	}
}

// ValidateSettings validates the settings configuration
func ValidateSettings(settings *Settings) error {
	switch settings.LLM.Backend {
	case "ollama", "anthropic", "claude", "openai", "gemini":
	default:
		return errors.Errorf("unsupported LLM backend: %s (must be 'ollama', 'anthropic', 'openai', or 'gemini')", settings.LLM.Backend)
	}

	if settings.LLM.Model == "" {
		return errors.New("LLM model is required")
	}
	if !strings.HasPrefix(settings.Server.Path, "/") {
		return errors.Errorf("server path must start with '/': %q", settings.Server.Path)
	}
	if settings.Translation.PoolSize <= 0 {
		return errors.New("translation pool_size must be positive")
	}
	if settings.Bus.PlanTimeout <= 0 || settings.Bus.ConnectTimeout <= 0 {
		return errors.New("bus timeouts must be positive")
	}
	return nil
}

// ValidateCredentials checks that the environment carries the API key the
// configured backend needs.
func ValidateCredentials(settings LLMSettings) error {
	var envVar string
	switch settings.Backend {
	case "anthropic", "claude":
		envVar = "ANTHROPIC_API_KEY"
	case "openai":
		envVar = "OPENAI_API_KEY"
	case "gemini":
		envVar = "GEMINI_API_KEY"
	default:
		return nil
	}
	if os.Getenv(envVar) == "" {
		return errors.Errorf("%s backend requires the %s environment variable", settings.Backend, envVar)
	}
	return nil
}

// createSettingsFileAtPath creates a default settings file at the specified path
func createSettingsFileAtPath(settingsPath string) (*Settings, error) {
	settings := NewSettingsWithPath(settingsPath)

	if err := settings.Save(); err != nil {
		// Return defaults without repository if saving fails
		return GetDefaultSettings(), nil
	}

	logger := pkgLogger.NewComponentLogger("settings")
	logger.InfoWithIntention(pkgLogger.IntentionConfig, "Created default settings file", "path", settingsPath)
	logger.InfoWithIntention(pkgLogger.IntentionStatus, "You can edit this file to customize your configuration")
	return settings, nil
}
