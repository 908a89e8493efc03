// Package config loads the single configuration object that every rollcall
// component is constructed from.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables that override file values.
const (
	EnvDB        = "ROLLCALL_DB"
	EnvAuthority = "ROLLCALL_AUTHORITY"
	EnvAddr      = "ROLLCALL_ADDR"
	EnvStation   = "ROLLCALL_STATION"
)

// Config enumerates everything a station or authority needs.
type Config struct {
	Station   string          `yaml:"station"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Match     MatchConfig     `yaml:"match"`
	// TimeZone names the zone calendar days are counted in. It defaults
	// to the host zone.
	TimeZone  string          `yaml:"timezone"`
	Authority AuthorityConfig `yaml:"authority"`
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
}

type StorageConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type EmbeddingConfig struct {
	Dimension int `yaml:"dimension"`
}

type MatchConfig struct {
	Tolerance float64 `yaml:"tolerance"`
	Workers   int     `yaml:"workers"`
	ShardSize int     `yaml:"shard_size"`
}

// AuthorityConfig locates the central authority. An empty endpoint means
// the station has no upstream and push is unavailable.
type AuthorityConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SyncConfig controls the background push loop. A zero interval disables it.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given. The
// dimension and tolerance match the common 128-d face embedding.
func Default() Config {
	return Config{
		Station: "station-1",
		Storage: StorageConfig{
			Path:        "rollcall.db",
			BusyTimeout: 5 * time.Second,
			MaxRetries:  3,
		},
		Embedding: EmbeddingConfig{Dimension: 128},
		Match: MatchConfig{
			Tolerance: 0.6,
			Workers:   4,
			ShardSize: 1024,
		},
		TimeZone: "Local",
		Authority: AuthorityConfig{
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			Interval: 0,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses YAML strictly: unknown keys are errors.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvDB)); v != "" {
		c.Storage.Path = v
	}
	if v := strings.TrimSpace(getenv(EnvAuthority)); v != "" {
		c.Authority.Endpoint = v
	}
	if v := strings.TrimSpace(getenv(EnvAddr)); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(getenv(EnvStation)); v != "" {
		c.Station = v
	}
}

// validationView is the shape checked against schema.cue.
type validationView struct {
	Station string `json:"station"`
	Storage struct {
		Path        string `json:"path"`
		BusyTimeout int64  `json:"busy_timeout"`
		MaxRetries  int    `json:"max_retries"`
	} `json:"storage"`
	Embedding struct {
		Dimension int `json:"dimension"`
	} `json:"embedding"`
	Match struct {
		Tolerance float64 `json:"tolerance"`
		Workers   int     `json:"workers"`
		ShardSize int     `json:"shard_size"`
	} `json:"match"`
	TimeZone  string `json:"timezone"`
	Authority struct {
		Endpoint string `json:"endpoint"`
		Timeout  int64  `json:"timeout"`
	} `json:"authority"`
	Sync struct {
		Interval int64 `json:"interval"`
	} `json:"sync"`
	Server struct {
		Addr string `json:"addr"`
	} `json:"server"`
}

func (c Config) view() validationView {
	var v validationView
	v.Station = c.Station
	v.Storage.Path = c.Storage.Path
	v.Storage.BusyTimeout = int64(c.Storage.BusyTimeout)
	v.Storage.MaxRetries = c.Storage.MaxRetries
	v.Embedding.Dimension = c.Embedding.Dimension
	v.Match.Tolerance = c.Match.Tolerance
	v.Match.Workers = c.Match.Workers
	v.Match.ShardSize = c.Match.ShardSize
	v.TimeZone = c.TimeZone
	v.Authority.Endpoint = c.Authority.Endpoint
	v.Authority.Timeout = int64(c.Authority.Timeout)
	v.Sync.Interval = int64(c.Sync.Interval)
	v.Server.Addr = c.Server.Addr
	return v
}

// Validate checks c against the embedded CUE schema and resolves the time
// zone.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := def.Unify(ctx.Encode(c.view()))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}

	if _, err := c.Location(); err != nil {
		return &ValidationError{Details: err.Error()}
	}
	return nil
}

// Location resolves TimeZone. "" and "Local" mean the host zone.
func (c Config) Location() (*time.Location, error) {
	switch c.TimeZone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// ValidationError reports a configuration that violates the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.TrimSpace(e.Details)
}
