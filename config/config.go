// Package config resolves minirpc settings with precedence
// defaults < config file < MINIRPC_* environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"oneshot-rpc/codec"
	"oneshot-rpc/logging"
)

const EnvPrefix = "minirpc"

type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ListenHost      string        `mapstructure:"listen_host"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Codec           string        `mapstructure:"codec"`
	MaxFrameBytes   uint64        `mapstructure:"max_frame_bytes"`
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	Log             LogConfig     `mapstructure:"log"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type ConfigOption struct {
	Key     string
	Default any
	Comment string
}

// GetConfigOptions returns every key with its default and meaning.
func GetConfigOptions() []ConfigOption {
	return []ConfigOption{
		{Key: "host", Default: "127.0.0.1", Comment: "Destination host for calls"},
		{Key: "port", Default: 8889, Comment: "Destination port for calls and listen port for serve"},
		{Key: "listen_host", Default: "", Comment: "Host to bind when serving; empty binds all interfaces"},
		{Key: "connect_timeout", Default: "5s", Comment: "Caller connect timeout"},
		{Key: "response_timeout", Default: "0s", Comment: "Caller wait for the response; 0 waits forever"},
		{Key: "request_timeout", Default: "0s", Comment: "Listener wait for the request; 0 waits forever"},
		{Key: "codec", Default: "binary", Comment: "Payload serializer: json, binary or proto"},
		{Key: "max_frame_bytes", Default: 16 << 20, Comment: "Largest accepted frame payload"},
		{Key: "handler_timeout", Default: "0s", Comment: "Dispatcher timeout; 0 disables"},
		{Key: "rate_limit", Default: 0.0, Comment: "Dispatched requests per second; 0 disables"},
		{Key: "rate_burst", Default: 0, Comment: "Token bucket burst for rate_limit"},
		{Key: "metrics_addr", Default: "", Comment: "Address for the Prometheus /metrics endpoint; empty disables"},
		{Key: "log.level", Default: "info", Comment: "trace, debug, info, warn, error or off"},
		{Key: "log.console", Default: true, Comment: "Human readable console output instead of JSON"},
	}
}

func applyDefaults(v *viper.Viper) {
	for _, o := range GetConfigOptions() {
		v.SetDefault(o.Key, o.Default)
	}
}

// Load mutates v with defaults, the config file and the environment, then
// decodes and validates the result. An explicit path must exist; otherwise a
// missing minirpc.{toml,yaml} is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	applyDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("minirpc")
		v.AddConfigPath(".")
		if dir := defaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfigDir() string {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		xdg = filepath.Join(home, ".config")
	}
	return filepath.Join(xdg, "minirpc")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Port))
	}
	if _, err := codec.ParseCodecType(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.MaxFrameBytes == 0 || c.MaxFrameBytes > 1<<32-1 {
		errs = append(errs, fmt.Errorf("max_frame_bytes must be in 1..%d, got %d", uint64(1<<32-1), c.MaxFrameBytes))
	}
	for key, d := range map[string]time.Duration{
		"connect_timeout":  c.ConnectTimeout,
		"response_timeout": c.ResponseTimeout,
		"request_timeout":  c.RequestTimeout,
		"handler_timeout":  c.HandlerTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate_limit and rate_burst must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		errs = append(errs, errors.New("rate_burst must be positive when rate_limit is set"))
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level %q is not a level", c.Log.Level))
	}
	return errors.Join(errs...)
}

// CodecType is the parsed Codec setting.
func (c *Config) CodecType() codec.CodecType {
	t, err := codec.ParseCodecType(c.Codec)
	if err != nil {
		return codec.CodecTypeBinary
	}
	return t
}

// Render writes c as a TOML document that Load accepts back.
func (c *Config) Render(w io.Writer) error {
	doc := map[string]any{
		"host":             c.Host,
		"port":             c.Port,
		"listen_host":      c.ListenHost,
		"connect_timeout":  c.ConnectTimeout.String(),
		"response_timeout": c.ResponseTimeout.String(),
		"request_timeout":  c.RequestTimeout.String(),
		"codec":            c.Codec,
		"max_frame_bytes":  c.MaxFrameBytes,
		"handler_timeout":  c.HandlerTimeout.String(),
		"rate_limit":       c.RateLimit,
		"rate_burst":       c.RateBurst,
		"metrics_addr":     c.MetricsAddr,
		"log": map[string]any{
			"level":   c.Log.Level,
			"console": c.Log.Console,
		},
	}
	return toml.NewEncoder(w).Encode(doc)
}
