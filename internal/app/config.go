package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/retailctl/internal/lightspeed"
	"github.com/florianilch/retailctl/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for credentials.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigPlatformHost     = lightspeed.DefaultPlatformHost
	DefaultConfigPlatformAuthURL  = lightspeed.DefaultAuthURL
	DefaultConfigRedirectURL      = "http://127.0.0.1:5173/lightspeed/callback"
	DefaultConfigPlatformTimeout  = lightspeed.DefaultTimeout
	DefaultConfigStorageType      = TokenStorageTypeFile
	DefaultConfigStorageEnvPrefix = "RETAILCTL_TOKEN_"
	DefaultConfigConnectTimeout   = 5 * time.Minute
	DefaultConfigShutdownTimeout  = 5 * time.Second

	keyringService = "retailctl"
)

// PlatformConfig holds the OAuth application registration and platform location.
type PlatformConfig struct {
	Host         string        `json:"host" validate:"required,hostname_rfc1123"`
	AuthURL      string        `json:"auth_url" validate:"required,url"`
	ClientID     string        `json:"client_id" validate:"required"`
	ClientSecret string        `json:"client_secret" validate:"required"`
	RedirectURL  string        `json:"redirect_url" validate:"required,url"`
	Timeout      time.Duration `json:"timeout" validate:"gt=0"`
}

// StorageConfig describes where credentials are persisted.
type StorageConfig struct {
	Type TokenStorageType `json:"type" validate:"required,oneof=file env keyring"`

	// Storage-specific settings (mutually exclusive based on Type)
	File        string `json:"file,omitempty"`         // For file storage: path to credentials file
	EnvPrefix   string `json:"env_prefix,omitempty"`   // For env storage: variable name prefix
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// NewTokenStore creates a tokenstore.Store from the storage configuration.
func (s *StorageConfig) NewTokenStore() (tokenstore.Store, error) {
	switch s.Type {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(s.File)
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(s.EnvPrefix)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, s.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Writable reports whether the storage can hold credentials obtained by connecting.
func (s *StorageConfig) Writable() bool {
	return s.Type != TokenStorageTypeEnv
}

// ConnectConfig holds settings for the interactive authorization flow.
type ConnectConfig struct {
	// Timeout is how long to wait for the browser to return to the callback.
	Timeout time.Duration `json:"timeout" validate:"gt=0"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown of the callback server.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel slog.Level `json:"log_level"`
	// LogFormat is detected from the terminal when unset.
	LogFormat LogFormat      `json:"log_format" validate:"omitempty,oneof=text json"`
	Platform  PlatformConfig `json:"platform"`
	Storage   StorageConfig  `json:"storage"`
	Connect   ConnectConfig  `json:"connect"`
	Shutdown  ShutdownConfig `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.Platform.Host == "" {
		c.Platform.Host = DefaultConfigPlatformHost
	}
	if c.Platform.AuthURL == "" {
		c.Platform.AuthURL = DefaultConfigPlatformAuthURL
	}
	if c.Platform.RedirectURL == "" {
		c.Platform.RedirectURL = DefaultConfigRedirectURL
	}
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = DefaultConfigPlatformTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}
	if c.Connect.Timeout == 0 {
		c.Connect.Timeout = DefaultConfigConnectTimeout
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(configDir, "retailctl", "credentials.json")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			c.Storage.EnvPrefix = DefaultConfigStorageEnvPrefix
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			return errors.New("env_prefix required for env storage")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}

// clientConfig converts platform settings into the lightspeed client configuration.
func (p *PlatformConfig) clientConfig() lightspeed.Config {
	return lightspeed.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		PlatformHost: p.Host,
		AuthURL:      p.AuthURL,
	}
}
