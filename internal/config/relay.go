package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment overrides for relay secrets.
const (
	EnvJWTSecret  = "YARNING_JWT_SECRET"
	EnvMongoURI   = "YARNING_MONGODB_URI"
	DefaultListen = "127.0.0.1:7420"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Relay is the relay daemon's yarnd.toml.
type Relay struct {
	Listen string      `toml:"listen"`
	Store  RelayStore  `toml:"store"`
	Auth   RelayAuth   `toml:"auth"`
	Limits RelayLimits `toml:"limits"`
}

type RelayStore struct {
	Driver        string `toml:"driver"`
	SQLitePath    string `toml:"sqlite_path"`
	MongoURI      string `toml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database"`
}

type RelayAuth struct {
	Secret   string        `toml:"secret"`
	TokenTTL time.Duration `toml:"token_ttl"`
}

type RelayLimits struct {
	SendPerMinute    int `toml:"send_per_minute"`
	SendBurst        int `toml:"send_burst"`
	UnaryPerMinute   int `toml:"unary_per_minute"`
	MaxContentLength int `toml:"max_content_length"`
	ChannelBuffer    int `toml:"channel_buffer"`
}

// DefaultRelay returns the settings used for anything yarnd.toml leaves out.
func DefaultRelay() Relay {
	return Relay{
		Listen: DefaultListen,
		Store:  RelayStore{Driver: DriverSQLite, MongoDatabase: "yarning"},
		Auth:   RelayAuth{TokenTTL: 24 * time.Hour},
		Limits: RelayLimits{
			SendPerMinute:    120,
			SendBurst:        20,
			UnaryPerMinute:   300,
			MaxContentLength: 10000,
			ChannelBuffer:    256,
		},
	}
}

// LoadRelay reads yarnd.toml over the defaults. A missing file is not an
// error. Secrets from the environment win over the file.
func LoadRelay(path string) (Relay, error) {
	cfg := DefaultRelay()
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Relay{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.applyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

func (r *Relay) applyEnv(getenv func(string) string) {
	if v := getenv(EnvJWTSecret); v != "" {
		r.Auth.Secret = v
	}
	if v := getenv(EnvMongoURI); v != "" {
		r.Store.MongoURI = v
	}
}

// Validate reports settings the relay cannot start with.
func (r Relay) Validate() error {
	switch r.Store.Driver {
	case DriverSQLite:
	case DriverMongo:
		if r.Store.MongoURI == "" {
			return fmt.Errorf("store driver %q needs mongo_uri or %s", DriverMongo, EnvMongoURI)
		}
	default:
		return fmt.Errorf("unknown store driver %q", r.Store.Driver)
	}
	if len(r.Auth.Secret) < 16 {
		return fmt.Errorf("auth secret must be at least 16 bytes; set it in yarnd.toml or %s", EnvJWTSecret)
	}
	if r.Auth.TokenTTL <= 0 {
		return errors.New("auth token_ttl must be positive")
	}
	return nil
}
