package config

import (
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ServerConfig contains TCP listener configuration
type ServerConfig struct {
	BindAddress    string `yaml:"bind_address" toml:"bind_address"`
	Port           int    `yaml:"port" toml:"port"`
	FrameSize      int    `yaml:"frame_size" toml:"frame_size"`           // bytes per receive
	MaxSessions    int    `yaml:"max_sessions" toml:"max_sessions"`       // 0 = unlimited
	SessionTimeout int    `yaml:"session_timeout" toml:"session_timeout"` // seconds, 0 = none
}

// StorageConfig contains branch store configuration
type StorageConfig struct {
	DataDir    string `yaml:"data_dir" toml:"data_dir"`
	ReportFile string `yaml:"report_file" toml:"report_file"`
	FileMode   string `yaml:"file_mode" toml:"file_mode"` // octal
	DirMode    string `yaml:"dir_mode" toml:"dir_mode"`   // octal
}

// HTTPConfig contains HTTP monitoring API configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
	Port    int    `yaml:"port" toml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// Frame size bounds
const (
	MinFrameSize = 16
	MaxFrameSize = 65536
)

// Default returns the configuration used when no file is given: listen
// on 127.0.0.1:8080 and store reports under ./data.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "127.0.0.1",
			Port:        8080,
			FrameSize:   1024,
		},
		Storage: StorageConfig{
			DataDir:    "data",
			ReportFile: "branch_weekly_sales.txt",
			FileMode:   "0644",
			DirMode:    "0755",
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file over the defaults
// and validates the result. Keys absent from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the whole configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", s.Port)
	}

	if s.FrameSize < MinFrameSize || s.FrameSize > MaxFrameSize {
		return fmt.Errorf("frame_size must be between %d and %d bytes, got %d", MinFrameSize, MaxFrameSize, s.FrameSize)
	}

	if s.MaxSessions < 0 {
		return fmt.Errorf("max_sessions cannot be negative, got %d", s.MaxSessions)
	}

	if s.SessionTimeout < 0 {
		return fmt.Errorf("session_timeout cannot be negative, got %d", s.SessionTimeout)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	if s.ReportFile == "" {
		return fmt.Errorf("report_file cannot be empty")
	}

	if s.ReportFile != filepath.Base(s.ReportFile) || s.ReportFile == "." || s.ReportFile == ".." {
		return fmt.Errorf("report_file must be a plain file name, got %q", s.ReportFile)
	}

	if _, err := s.GetFileMode(); err != nil {
		return err
	}

	if _, err := s.GetDirMode(); err != nil {
		return err
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 0 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is a file path.
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Address returns the listener address as host:port
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.Port))
}

// SetAddress overrides bind address and port from a host:port string
func (s *ServerConfig) SetAddress(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}

	if host == "" {
		host = "0.0.0.0"
	}

	s.BindAddress = host
	s.Port = port
	return s.Validate()
}

// GetSessionTimeoutDuration returns the session timeout as a time.Duration
func (s *ServerConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

// GetFileMode returns the report file permissions
func (s *StorageConfig) GetFileMode() (fs.FileMode, error) {
	return parseMode("file_mode", s.FileMode)
}

// GetDirMode returns the branch directory permissions
func (s *StorageConfig) GetDirMode() (fs.FileMode, error) {
	return parseMode("dir_mode", s.DirMode)
}

// ListenAddress returns the HTTP listen address as host:port
func (h *HTTPConfig) ListenAddress() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

func parseMode(name, raw string) (fs.FileMode, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0o")
	mode, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%s must be an octal permission like 0644, got %q", name, raw)
	}
	if mode == 0 || mode > 0o777 {
		return 0, fmt.Errorf("%s must be between 0001 and 0777, got %q", name, raw)
	}
	return fs.FileMode(mode), nil
}
