// Package config loads runlink settings. Values are layered: defaults, then
// an optional YAML file, then a .env file, then RUNLINK_* environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. RUNLINK_BASE_URL.
const EnvPrefix = "RUNLINK"

type Config struct {
	BaseURL        string          `yaml:"base_url" envconfig:"BASE_URL"`
	SocketURL      string          `yaml:"socket_url" envconfig:"SOCKET_URL"`
	SocketPath     string          `yaml:"socket_path" envconfig:"SOCKET_PATH"`
	Language       string          `yaml:"language" envconfig:"LANGUAGE"`
	RequestTimeout time.Duration   `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ConnectTimeout time.Duration   `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	Instances      []string        `yaml:"instances" envconfig:"INSTANCES"`
	Reconnect      ReconnectConfig `yaml:"reconnect" envconfig:"RECONNECT"`
	Export         ExportConfig    `yaml:"export" envconfig:"EXPORT"`
	Serve          ServeConfig     `yaml:"serve" envconfig:"SERVE"`
	Log            LogConfig       `yaml:"log" envconfig:"LOG"`
}

type ReconnectConfig struct {
	Initial    time.Duration `yaml:"initial" envconfig:"INITIAL"`
	Max        time.Duration `yaml:"max" envconfig:"MAX"`
	MaxElapsed time.Duration `yaml:"max_elapsed" envconfig:"MAX_ELAPSED"`
}

type ExportConfig struct {
	Type     string `yaml:"type" envconfig:"TYPE"`
	Target   string `yaml:"target" envconfig:"TARGET"`
	Region   string `yaml:"region" envconfig:"REGION"`
	Endpoint string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Prefix   string `yaml:"prefix" envconfig:"PREFIX"`
	Tracing  bool   `yaml:"tracing" envconfig:"TRACING"`
}

type ServeConfig struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
	Output string `yaml:"output" envconfig:"OUTPUT"`
	File   string `yaml:"file" envconfig:"FILE"`
}

func Default() *Config {
	return &Config{
		BaseURL:        "http://localhost:8000",
		SocketPath:     "/ws/socket.io",
		Language:       "python",
		RequestTimeout: 30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Instances:      []string{"1", "2", "3"},
		Reconnect: ReconnectConfig{
			Initial: time.Second,
			Max:     5 * time.Second,
		},
		Export: ExportConfig{
			Type:   "local",
			Target: ".",
		},
		Serve: ServeConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
			File:   "runlink.log",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the given dotenv files (".env" when none are given; missing
// files are ignored) and the environment.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, file := range dotenv {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return cfg, nil
}

// SocketBase returns the push channel's base URL, which defaults to BaseURL.
func (c *Config) SocketBase() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	return c.BaseURL
}

func (c *Config) Validate() error {
	if err := validateURL("base_url", c.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.SocketURL != "" {
		if err := validateURL("socket_url", c.SocketURL, "http", "https", "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Language == "" {
		return errors.New("language is required")
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must not be negative")
	}
	if c.ConnectTimeout < 0 {
		return errors.New("connect_timeout must not be negative")
	}
	if c.Reconnect.Initial <= 0 || c.Reconnect.Max < c.Reconnect.Initial {
		return fmt.Errorf("invalid reconnect delays: initial %s, max %s", c.Reconnect.Initial, c.Reconnect.Max)
	}
	if c.Reconnect.MaxElapsed < 0 {
		return errors.New("reconnect.max_elapsed must not be negative")
	}

	if len(c.Instances) == 0 {
		return errors.New("at least one instance is required")
	}
	seen := make(map[string]bool, len(c.Instances))
	for _, id := range c.Instances {
		if id == "" {
			return errors.New("instance ids must not be empty")
		}
		if seen[id] {
			return fmt.Errorf("duplicate instance id %q", id)
		}
		seen[id] = true
	}

	switch c.Export.Type {
	case "local":
	case "s3":
		if c.Export.Target == "" {
			return errors.New("export.target must name a bucket for s3 exports")
		}
	default:
		return fmt.Errorf("unknown export type %q", c.Export.Type)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%s must be a %s URL, got %q", field, strings.Join(schemes, "/"), raw)
	}
	return nil
}
