package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Links  LinksConfig       `yaml:"links"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Links.Validate()
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

// VaultConfig holds the path to an optional Markdown folder that is
// imported at startup and watched. An empty path disables it.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	c.Path = strings.TrimSpace(c.Path)
	return nil
}

// Enabled reports whether a vault folder is configured.
func (c *VaultConfig) Enabled() bool {
	return c.Path != ""
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
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
	// Normalise empty mode to "disabled" for backward compatibility.
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

// LinksConfig holds link graph settings.
type LinksConfig struct {
	// HrefPrefix is prepended to a target page id to build a resolved link's href.
	HrefPrefix string `yaml:"href_prefix"`
	// ReconcileInterval is the period of the background reconcile pass. Zero disables it.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// EventThrottle is the minimum gap between links.updated events.
	EventThrottle time.Duration `yaml:"event_throttle"`
}

// Validate validates the links configuration.
func (c *LinksConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HrefPrefix, validation.Required, validation.By(func(any) error {
			if !strings.HasPrefix(c.HrefPrefix, "/") {
				return errors.New("must start with /")
			}
			return nil
		})),
		validation.Field(&c.ReconcileInterval, validation.By(func(any) error {
			if c.ReconcileInterval != 0 && c.ReconcileInterval < time.Second {
				return errors.New("must be 0 or at least 1s")
			}
			return nil
		})),
		validation.Field(&c.EventThrottle, validation.Min(time.Duration(0))),
	)
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
		SQLite: SQLiteConfig{
			Path: "./linkgraph.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Links: LinksConfig{
			HrefPrefix:        "/pages/",
			ReconcileInterval: 30 * time.Second,
			EventThrottle:     2 * time.Second,
		},
	}
}
