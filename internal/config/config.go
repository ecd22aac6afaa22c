// Package config loads the application configuration from an optional YAML
// file, overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Streaming StreamingConfig `yaml:"streaming"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"NIGHTJAR_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" env:"NIGHTJAR_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"NIGHTJAR_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"NIGHTJAR_WRITE_TIMEOUT" default:"30s"`
	EnableCORS   bool          `yaml:"enable_cors" env:"NIGHTJAR_ENABLE_CORS" default:"true"`
}

// DatabaseConfig holds the catalog database settings.
type DatabaseConfig struct {
	Type       string `yaml:"type" env:"DATABASE_TYPE" default:"sqlite"`
	Host       string `yaml:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port       int    `yaml:"port" env:"POSTGRES_PORT" default:"5432"`
	User       string `yaml:"user" env:"POSTGRES_USER" default:"nightjar"`
	Password   string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Name       string `yaml:"name" env:"POSTGRES_DB" default:"nightjar"`
	Path       string `yaml:"path" env:"NIGHTJAR_DATABASE_PATH"`
	DataDir    string `yaml:"data_dir" env:"NIGHTJAR_DATA_DIR" default:"/var/lib/nightjar"`
	LogQueries bool   `yaml:"log_queries" env:"NIGHTJAR_DB_LOG_QUERIES" default:"false"`
}

// StreamingConfig holds the adaptive streaming engine settings.
type StreamingConfig struct {
	DataDir                 string        `yaml:"data_dir" env:"NIGHTJAR_STREAMING_DIR" default:"/var/lib/nightjar/streams"`
	SegmentLength           int           `yaml:"segment_length" env:"NIGHTJAR_SEGMENT_LENGTH" default:"6"`
	MaxConcurrentTranscodes int           `yaml:"max_concurrent_transcodes" env:"NIGHTJAR_MAX_TRANSCODES" default:"3"`
	IdleTimeout             time.Duration `yaml:"idle_timeout" env:"NIGHTJAR_IDLE_TIMEOUT" default:"5m"`
	ReapInterval            time.Duration `yaml:"reap_interval" env:"NIGHTJAR_REAP_INTERVAL" default:"30s"`
	SegmentWaitTimeout      time.Duration `yaml:"segment_wait_timeout" env:"NIGHTJAR_SEGMENT_WAIT_TIMEOUT" default:"20s"`
	FFmpegPath              string        `yaml:"ffmpeg_path" env:"NIGHTJAR_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath             string        `yaml:"ffprobe_path" env:"NIGHTJAR_FFPROBE_PATH" default:"ffprobe"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" env:"NIGHTJAR_LOG_LEVEL" default:"info"`
	JSON  bool   `yaml:"json" env:"NIGHTJAR_LOG_JSON" default:"false"`
}

// Load builds the configuration: defaults, then the YAML file at path if it
// exists, then environment variables on top.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := applyDefaults(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Streaming.SegmentLength <= 0 {
		return fmt.Errorf("invalid segment length: %d", c.Streaming.SegmentLength)
	}
	if c.Streaming.MaxConcurrentTranscodes < 1 {
		return fmt.Errorf("invalid max concurrent transcodes: %d", c.Streaming.MaxConcurrentTranscodes)
	}
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	return nil
}

// applyDefaults walks the struct and fills zero-value fields from their
// `default` tags.
func applyDefaults(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		def := t.Field(i).Tag.Get("default")
		if def == "" || !field.IsZero() {
			continue
		}
		if err := setField(field, def); err != nil {
			return fmt.Errorf("default for %s: %w", t.Field(i).Name, err)
		}
	}
	return nil
}

// applyEnv walks the struct and overrides fields whose `env` variable is
// set.
func applyEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := applyEnv(field); err != nil {
				return err
			}
			continue
		}
		envName := t.Field(i).Tag.Get("env")
		if envName == "" {
			continue
		}
		value, ok := os.LookupEnv(envName)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("env %s: %w", envName, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	default:
		return fmt.Errorf("unsupported field type %v", field.Kind())
	}
	return nil
}
