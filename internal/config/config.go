package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/attention"
)

// Defaults is the selection shown before the user picks anything.
type Defaults struct {
	Model    string `yaml:"model" json:"model"`
	Group    string `yaml:"group" json:"group"`
	Language string `yaml:"language" json:"language"`
	Layer    int    `yaml:"layer" json:"layer"`
	Head     int    `yaml:"head" json:"head"`
}

type Config struct {
	DataDir    string `yaml:"data_dir"`
	Format     string `yaml:"format"`
	FlightAddr string `yaml:"flight_addr"`

	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MetricsPort    int      `yaml:"metrics_port"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	FontPaths []string `yaml:"font_paths"`

	Defaults Defaults `yaml:"defaults"`
}

func Default() Config {
	return Config{
		Format:      string(artifact.FormatAuto),
		Host:        "0.0.0.0",
		Port:        8080,
		MetricsPort: 9090,
		LogLevel:    "info",
		LogFormat:   "console",
		Defaults: Defaults{
			Model:    "gemma2",
			Group:    "trio1",
			Language: attention.CodeMixed.String(),
			Layer:    6,
			Head:     0,
		},
	}
}

// LoadFile reads a YAML file over Default(). An empty path returns the
// defaults unchanged.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ATTNSCOPE_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv("ATTNSCOPE_" + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv("ATTNSCOPE_" + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ATTNSCOPE_%s: %q (must be an integer)", key, v)
		}
		*dst = n
		return nil
	}

	str("DATA", &c.DataDir)
	str("FORMAT", &c.Format)
	str("FLIGHT_ADDR", &c.FlightAddr)
	str("HOST", &c.Host)
	str("API_KEY", &c.APIKey)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("MODEL", &c.Defaults.Model)
	str("GROUP", &c.Defaults.Group)
	str("LANGUAGE", &c.Defaults.Language)

	if v, ok := os.LookupEnv("ATTNSCOPE_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("ATTNSCOPE_FONT_PATHS"); ok {
		c.FontPaths = splitList(v)
	}

	for key, dst := range map[string]*int{
		"PORT":         &c.Port,
		"METRICS_PORT": &c.MetricsPort,
		"LAYER":        &c.Defaults.Layer,
		"HEAD":         &c.Defaults.Head,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if _, err := artifact.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("invalid format: %q (must be auto, arrow or cbor)", c.Format)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics_port: %d (must be 0-65535)", c.MetricsPort)
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.Port {
		return fmt.Errorf("metrics_port (%d) must differ from port", c.MetricsPort)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	if c.Defaults.Model == "" {
		return fmt.Errorf("invalid defaults.model: empty")
	}
	if c.Defaults.Group == "" {
		return fmt.Errorf("invalid defaults.group: empty")
	}
	if _, err := attention.ParseLanguage(c.Defaults.Language); err != nil {
		return fmt.Errorf("invalid defaults.language: %w", err)
	}
	if c.Defaults.Layer < 0 {
		return fmt.Errorf("invalid defaults.layer: %d (must be non-negative)", c.Defaults.Layer)
	}
	if c.Defaults.Head < 0 {
		return fmt.Errorf("invalid defaults.head: %d (must be non-negative)", c.Defaults.Head)
	}
	return nil
}

// ArtifactFormat returns the parsed Format. Call Validate first.
func (c *Config) ArtifactFormat() artifact.Format {
	f, err := artifact.ParseFormat(c.Format)
	if err != nil {
		return artifact.FormatAuto
	}
	return f
}
