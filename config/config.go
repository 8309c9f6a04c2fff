// Package config loads client settings from a YAML or TOML file, an optional
// .env file and CAMPFIRE_* environment variables.
//
// Values are applied in this order, later sources winning:
//  1. env-default tags;
//  2. the config file;
//  3. variables from .env, for names not already set in the environment;
//  4. the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dan-strohschein/campfire-go/client"
)

// EnvPath names a config file when Load is given no path.
const EnvPath = "CAMPFIRE_CONFIG"

// Config is the file and environment form of the client options.
type Config struct {
	RootURI   string `yaml:"root_uri" toml:"root_uri" env:"CAMPFIRE_ROOT_URI" env-default:"https://root.campfire.moe" env-description:"Root (legacy) server base URI"`
	MeliorURI string `yaml:"melior_uri" toml:"melior_uri" env:"CAMPFIRE_MELIOR_URI" env-default:"https://melior.campfire.moe/graphql" env-description:"Melior GraphQL endpoint"`
	BotToken  string `yaml:"bot_token" toml:"bot_token" env:"CAMPFIRE_BOT_TOKEN" env-description:"bot identifier sent with every request"`

	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Timeouts  TimeoutConfig   `yaml:"timeouts" toml:"timeouts"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	TLS       TLSConfig       `yaml:"tls" toml:"tls"`
	Log       LogConfig       `yaml:"log" toml:"log"`

	Reconnect bool `yaml:"reconnect" toml:"reconnect" env:"CAMPFIRE_RECONNECT" env-description:"replace poisoned connections on the next call"`
}

// AuthConfig holds credentials to start authenticated with. Both or neither must be set.
type AuthConfig struct {
	AccessToken  string   `yaml:"access_token" toml:"access_token" env:"CAMPFIRE_ACCESS_TOKEN" env-description:"access token to start with"`
	RefreshToken string   `yaml:"refresh_token" toml:"refresh_token" env:"CAMPFIRE_REFRESH_TOKEN" env-description:"refresh token paired with the access token"`
	RefreshSkew  Duration `yaml:"refresh_skew" toml:"refresh_skew" env:"CAMPFIRE_REFRESH_SKEW" env-default:"30s" env-description:"refresh this long before the access token expires"`
}

type TimeoutConfig struct {
	Dial    Duration `yaml:"dial" toml:"dial" env:"CAMPFIRE_DIAL_TIMEOUT" env-default:"10s" env-description:"connect and TLS handshake timeout"`
	Request Duration `yaml:"request" toml:"request" env:"CAMPFIRE_REQUEST_TIMEOUT" env-default:"30s" env-description:"per-call timeout when the caller sets no deadline"`
}

// RateLimitConfig configures the client-side request bucket.
type RateLimitConfig struct {
	Disabled  bool    `yaml:"disabled" toml:"disabled" env:"CAMPFIRE_RATE_LIMIT_DISABLED" env-description:"turn client-side rate limiting off"`
	Capacity  int     `yaml:"capacity" toml:"capacity" env:"CAMPFIRE_RATE_LIMIT_CAPACITY" env-default:"10" env-description:"burst size"`
	PerSecond float64 `yaml:"per_second" toml:"per_second" env:"CAMPFIRE_RATE_LIMIT_PER_SECOND" env-default:"5" env-description:"refill rate"`
}

type TLSConfig struct {
	CAFile             string `yaml:"ca_file" toml:"ca_file" env:"CAMPFIRE_TLS_CA_FILE" env-description:"PEM bundle of extra trusted CAs"`
	CertFile           string `yaml:"cert_file" toml:"cert_file" env:"CAMPFIRE_TLS_CERT_FILE" env-description:"client certificate"`
	KeyFile            string `yaml:"key_file" toml:"key_file" env:"CAMPFIRE_TLS_KEY_FILE" env-description:"client private key"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify" env:"CAMPFIRE_TLS_INSECURE" env-description:"skip certificate verification (development only)"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level" env:"CAMPFIRE_LOG_LEVEL" env-default:"INFO" env-description:"DEBUG, INFO, WARN or ERROR"`
	Debug bool   `yaml:"debug" toml:"debug" env:"CAMPFIRE_DEBUG" env-description:"log redacted request and response bodies"`
}

// Duration is a time.Duration written as "30s" or "1m30s" in files and variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, used by both file formats.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// SetValue implements cleanenv.Setter.
func (d *Duration) SetValue(s string) error {
	return d.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path, or the file named by CAMPFIRE_CONFIG when path is empty, then
// overlays the environment. With no file at all the configuration comes from the
// environment and defaults alone. A .env next to the config file, or in the working
// directory, is loaded when present.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}

	var cfg Config
	dir := "."
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return nil, err
		}
		dir = filepath.Dir(path)
	}

	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to overlay env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readFile decodes a config file, chosen by extension. Unknown keys are rejected.
func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config %q: %w", path, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				row, col := derr.Position()
				return fmt.Errorf("parse config %q at %d:%d: %w", path, row, col, err)
			}
			return fmt.Errorf("parse config %q: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (expected .yaml, .yml or .toml)", ext)
	}
	return nil
}

// loadDotEnv loads path if it exists. Variables already in the environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate checks values the client would only reject later, or not at all.
func (c *Config) Validate() error {
	if (c.Auth.AccessToken == "") != (c.Auth.RefreshToken == "") {
		return errors.New("auth.access_token and auth.refresh_token must be set together")
	}
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if !c.RateLimit.Disabled && (c.RateLimit.Capacity <= 0 || c.RateLimit.PerSecond <= 0) {
		return errors.New("rate_limit.capacity and rate_limit.per_second must be positive, or set rate_limit.disabled")
	}
	if c.Timeouts.Dial < 0 || c.Timeouts.Request < 0 || c.Auth.RefreshSkew < 0 {
		return errors.New("durations must not be negative")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}
	return nil
}

// Options converts c into client options.
func (c *Config) Options() client.ClientOptions {
	opts := client.DefaultOptions()
	opts.DialTimeout = c.Timeouts.Dial.Std()
	opts.RequestTimeout = c.Timeouts.Request.Std()
	opts.RefreshSkew = c.Auth.RefreshSkew.Std()
	opts.DebugMode = c.Log.Debug
	opts.LogLevel = strings.ToUpper(c.Log.Level)
	opts.ReconnectOnFailure = c.Reconnect
	opts.RateLimitCapacity = c.RateLimit.Capacity
	opts.RateLimitPerSecond = c.RateLimit.PerSecond
	if c.RateLimit.Disabled {
		opts.RateLimitCapacity = 0
	}
	opts.TLSCAFile = c.TLS.CAFile
	opts.TLSCertFile = c.TLS.CertFile
	opts.TLSKeyFile = c.TLS.KeyFile
	opts.TLSInsecureSkipVerify = c.TLS.InsecureSkipVerify
	return opts
}

// Builder returns a client builder configured from c. Callers may keep
// customizing it before Build.
func (c *Config) Builder() *client.Builder {
	b := client.NewBuilder().
		WithRootURI(c.RootURI).
		WithMeliorURI(c.MeliorURI).
		WithBotToken(c.BotToken).
		WithOptions(c.Options())
	if c.Auth.AccessToken != "" {
		b.WithCredentials(c.Auth.AccessToken, c.Auth.RefreshToken)
	}
	return b
}

// Usage describes every environment variable Load reads.
func Usage() (string, error) {
	header := "Environment variables:"
	return cleanenv.GetDescription(&Config{}, &header)
}
