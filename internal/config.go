package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/gemini"
	"github.com/starford/ansuz/internal/notestore"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	StoreBackendDrive = "drive"
	StoreBackendLocal = "local"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Gemini GeminiConfig      `yaml:"gemini"`
	Store  StoreConfig       `yaml:"store"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Gemini.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// GeminiConfig holds Gemini API configuration.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Validate validates the Gemini configuration.
func (c *GeminiConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.Model, validation.Required),
	)
}

// StoreConfig selects and configures the note file store backend.
//
// Backend controls where note files live:
//   - "local" (default): a flat directory on the local filesystem.
//   - "drive": a folder in Google Drive; AccessToken must be non-empty.
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	Folder      string `yaml:"folder"`
	Path        string `yaml:"path"`
	AccessToken string `yaml:"access_token"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = StoreBackendLocal
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(StoreBackendDrive, StoreBackendLocal)),
		validation.Field(&c.Folder, validation.Required),
	); err != nil {
		return err
	}
	switch c.Backend {
	case StoreBackendLocal:
		if c.Path == "" {
			return fmt.Errorf("store: backend is %q but path is empty", StoreBackendLocal)
		}
	case StoreBackendDrive:
		if c.AccessToken == "" {
			return fmt.Errorf("store: backend is %q but access_token is empty", StoreBackendDrive)
		}
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Gemini: GeminiConfig{
			Model: gemini.DefaultModel,
		},
		Store: StoreConfig{
			Backend: StoreBackendLocal,
			Folder:  notestore.DefaultFolderName,
			Path:    "./notes",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
