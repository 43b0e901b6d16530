// Package config loads, validates and saves portprobe configuration files.
package config

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/internal/scanner"
	"github.com/anstrom/portprobe/internal/store"
)

const (
	defaultGrabTimeout = 2 * time.Second
	defaultAPIPort     = 8080
)

// Config represents the complete configuration.
type Config struct {
	// Range scan defaults
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Banner grab defaults
	Grab GrabConfig `yaml:"grab" json:"grab"`

	// HTTP API server
	API APIConfig `yaml:"api" json:"api"`

	// Optional summary persistence
	Database store.Config `yaml:"database" json:"database"`

	Logging logging.Config `yaml:"logging" json:"logging"`
}

// ScanConfig holds range scan settings.
type ScanConfig struct {
	// Maximum probes in flight, zero means the default. Other values are
	// clamped by the scanner, so there is no constraint here.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Safety ceiling for Concurrency
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"min=0"`

	// Per-probe connect timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`

	// Banner read timeout, zero means Timeout
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`

	// Banner receive cap
	BannerSize int `yaml:"banner_size" json:"banner_size" validate:"omitempty,min=1024,max=2048"`
}

// GrabConfig holds banner grab settings.
type GrabConfig struct {
	Timeout    time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	BannerSize int           `yaml:"banner_size" json:"banner_size" validate:"omitempty,min=1024,max=2048"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr" json:"listen_addr" validate:"required"`
	Port         int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"gte=0"`

	// Upper bound on ports a single API scan may cover
	MaxPorts int `yaml:"max_ports" json:"max_ports" validate:"min=1,max=65535"`

	CORS CORSConfig `yaml:"cors" json:"cors"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Concurrency:    scanner.DefaultConcurrency,
			MaxConcurrency: scanner.DefaultMaxConcurrency,
			Timeout:        scanner.DefaultTimeout,
			BannerSize:     probe.DefaultBannerSize,
		},
		Grab: GrabConfig{
			Timeout:    defaultGrabTimeout,
			BannerSize: probe.MaxBannerSize,
		},
		API: APIConfig{
			ListenAddr:   "127.0.0.1",
			Port:         defaultAPIPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
			MaxPorts:     scanner.MaxPort,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
			},
		},
		Database: store.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both extensions.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New()

// Validate checks struct constraints and reports the first violation as a
// ConfigError naming the offending field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("failed on %q constraint", fe.Tag()), fe.Namespace(), fe.Value())
	}
	return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
}

// ScannerConfig builds the scanner configuration for one target range.
func (c *Config) ScannerConfig(host string, startPort, endPort int) scanner.Config {
	return scanner.Config{
		Host:           host,
		StartPort:      startPort,
		EndPort:        endPort,
		Concurrency:    c.Scan.Concurrency,
		MaxConcurrency: c.Scan.MaxConcurrency,
		Timeout:        c.Scan.Timeout,
		ReadTimeout:    c.Scan.ReadTimeout,
		BannerSize:     c.Scan.BannerSize,
	}
}

// GetAPIAddress returns the full API listen address.
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.ListenAddr, strconv.Itoa(c.API.Port))
}
