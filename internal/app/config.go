package app

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"securechat/internal/crypto"
	"securechat/internal/store"
)

// ConfigFile is the config file name inside the home directory.
const ConfigFile = "config.toml"

// Storage backends.
const (
	StorageLevelDB = "leveldb"
	StorageMemory  = "memory"
)

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LogConfig selects log verbosity and format ("text" or "json").
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ScryptConfig is the passphrase KDF cost for the sealed store.
type ScryptConfig struct {
	N int `toml:"n"`
	R int `toml:"r"`
	P int `toml:"p"`
}

// Config holds runtime wiring options for building the app.
type Config struct {
	Home           string       `toml:"-"`
	ServerURL      string       `toml:"server_url"`
	Token          string       `toml:"token"`
	Platform       string       `toml:"platform"`
	Storage        string       `toml:"storage"`
	SyncInterval   Duration     `toml:"sync_interval"`
	RequestTimeout Duration     `toml:"request_timeout"`
	RSABits        int          `toml:"rsa_bits"`
	Scrypt         ScryptConfig `toml:"scrypt"`
	Log            LogConfig    `toml:"log"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig(home string) Config {
	p := store.DefaultScryptParams()
	return Config{
		Home:           home,
		ServerURL:      "http://127.0.0.1:8080",
		Platform:       "cli",
		Storage:        StorageLevelDB,
		SyncInterval:   Duration{30 * time.Second},
		RequestTimeout: Duration{15 * time.Second},
		RSABits:        crypto.MinRSABits,
		Scrypt:         ScryptConfig{N: p.N, R: p.R, P: p.P},
		Log:            LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads <home>/config.toml over the defaults. A missing file is
// not an error.
func LoadConfig(home string) (Config, error) {
	cfg := DefaultConfig(home)
	b, ok, err := store.ReadFile(filepath.Join(home, ConfigFile))
	if err != nil || !ok {
		return cfg, err
	}
	if _, err := toml.Decode(string(b), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	cfg.Home = home
	return cfg, cfg.Validate()
}

// Save writes cfg to <home>/config.toml.
func (c Config) Save() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return err
	}
	return store.WriteFileAtomic(filepath.Join(c.Home, ConfigFile), buf.Bytes(), 0o600)
}

// Validate rejects settings the app cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Storage != StorageLevelDB && c.Storage != StorageMemory:
		return fmt.Errorf("unknown storage %q", c.Storage)
	case c.RSABits < crypto.MinRSABits:
		return fmt.Errorf("rsa_bits must be at least %d", crypto.MinRSABits)
	case c.SyncInterval.Duration <= 0 || c.RequestTimeout.Duration <= 0:
		return errors.New("sync_interval and request_timeout must be positive")
	case c.Scrypt.N < 2 || c.Scrypt.N&(c.Scrypt.N-1) != 0:
		return errors.New("scrypt n must be a power of two greater than 1")
	}
	return nil
}

func (c Config) scryptParams() store.ScryptParams {
	return store.ScryptParams{N: c.Scrypt.N, R: c.Scrypt.R, P: c.Scrypt.P}
}
