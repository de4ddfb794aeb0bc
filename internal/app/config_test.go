package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/florianilch/retailctl/internal/tokenstore"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Type: TokenStorageTypeEnv},
	}
	require.NoError(t, cfg.ApplyDefaults())

	require.Equal(t, "retail.lightspeed.app", cfg.Platform.Host)
	require.Equal(t, "https://secure.retail.lightspeed.app/connect", cfg.Platform.AuthURL)
	require.Equal(t, DefaultConfigRedirectURL, cfg.Platform.RedirectURL)
	require.Equal(t, 30*time.Second, cfg.Platform.Timeout)
	require.Equal(t, DefaultConfigStorageEnvPrefix, cfg.Storage.EnvPrefix)
	require.Equal(t, DefaultConfigConnectTimeout, cfg.Connect.Timeout)
	require.Equal(t, DefaultConfigShutdownTimeout, cfg.Shutdown.Timeout)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Platform: PlatformConfig{
			Host:        "example.test",
			RedirectURL: "http://localhost:9999/cb",
			Timeout:     time.Second,
		},
		Storage: StorageConfig{Type: TokenStorageTypeFile, File: "/tmp/creds.json"},
	}
	require.NoError(t, cfg.ApplyDefaults())

	require.Equal(t, "example.test", cfg.Platform.Host)
	require.Equal(t, "http://localhost:9999/cb", cfg.Platform.RedirectURL)
	require.Equal(t, time.Second, cfg.Platform.Timeout)
	require.Equal(t, "/tmp/creds.json", cfg.Storage.File)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Platform: PlatformConfig{ClientID: "id", ClientSecret: "secret"},
			Storage:  StorageConfig{Type: TokenStorageTypeFile, File: "/tmp/creds.json"},
		}
		require.NoError(t, cfg.ApplyDefaults())
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing client id", mutate: func(c *Config) { c.Platform.ClientID = "" }, wantErr: true},
		{name: "missing client secret", mutate: func(c *Config) { c.Platform.ClientSecret = "" }, wantErr: true},
		{name: "invalid redirect url", mutate: func(c *Config) { c.Platform.RedirectURL = "not a url" }, wantErr: true},
		{name: "invalid host", mutate: func(c *Config) { c.Platform.Host = "bad host!" }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "vault" }, wantErr: true},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "json log format", mutate: func(c *Config) { c.LogFormat = LogFormatJSON }},
		{name: "file storage without path", mutate: func(c *Config) { c.Storage.File = "" }, wantErr: true},
		{name: "keyring without user", mutate: func(c *Config) { c.Storage.Type = TokenStorageTypeKeyring }, wantErr: true},
		{name: "zero connect timeout", mutate: func(c *Config) { c.Connect.Timeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewTokenStore(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		want    any
	}{
		{
			name:    "file",
			storage: StorageConfig{Type: TokenStorageTypeFile, File: filepath.Join(t.TempDir(), "c.json")},
			want:    &tokenstore.FileStore{},
		},
		{
			name:    "env",
			storage: StorageConfig{Type: TokenStorageTypeEnv, EnvPrefix: "X_"},
			want:    &tokenstore.EnvStore{},
		},
		{
			name:    "keyring",
			storage: StorageConfig{Type: TokenStorageTypeKeyring, KeyringUser: "alice"},
			want:    &tokenstore.KeyringStore{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := tt.storage.NewTokenStore()
			require.NoError(t, err)
			require.IsType(t, tt.want, store)
		})
	}

	_, err := (&StorageConfig{Type: "vault"}).NewTokenStore()
	require.Error(t, err)
}
