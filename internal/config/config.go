// Package config loads the application configuration from an optional
// YAML file, environment variables, and command-line overrides, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Emulator EmulatorConfig `yaml:"emulator"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadOptions holds command-line override options.
type LoadOptions struct {
	ConfigFile    string
	Host          string
	Port          string
	LogLevel      string
	WindowSize    int
	TimerInterval time.Duration
}

// ServerConfig holds the websocket server configuration.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

// ProtocolConfig holds the GBN protocol parameters.
type ProtocolConfig struct {
	WindowSize    int           `yaml:"windowSize"`
	TimerInterval time.Duration `yaml:"timerInterval"`
	MaxPayload    int           `yaml:"maxPayload"`
}

// EmulatorConfig holds the network emulation parameters used by the
// simulation harness.
type EmulatorConfig struct {
	Seed        int64         `yaml:"seed"`
	Delay       time.Duration `yaml:"delay"`
	LossRate    float64       `yaml:"lossRate"`
	CorruptRate float64       `yaml:"corruptRate"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration, applying the YAML file named in
// opts (or GBN_CONFIG_FILE) first, then environment variables, then the
// command-line overrides.
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := defaults()

	file := opts.ConfigFile
	if file == "" {
		file = os.Getenv("GBN_CONFIG_FILE")
	}
	if file != "" {
		if err := config.mergeFile(file); err != nil {
			return nil, err
		}
	}

	// Server config
	config.Server.Host = getOverrideOrEnv(opts.Host, "SERVER_HOST", config.Server.Host)
	config.Server.Port = getOverrideOrEnv(opts.Port, "SERVER_PORT", config.Server.Port)
	config.Server.ReadTimeout = getDurationWithDefault("SERVER_READ_TIMEOUT", config.Server.ReadTimeout)
	config.Server.WriteTimeout = getDurationWithDefault("SERVER_WRITE_TIMEOUT", config.Server.WriteTimeout)
	config.Server.IdleTimeout = getDurationWithDefault("SERVER_IDLE_TIMEOUT", config.Server.IdleTimeout)
	config.Server.AllowedOrigins = getStringSliceWithDefault("ALLOWED_ORIGINS", config.Server.AllowedOrigins)

	// Protocol config
	config.Protocol.WindowSize = getIntWithDefault("GBN_WINDOW_SIZE", config.Protocol.WindowSize)
	config.Protocol.TimerInterval = getDurationWithDefault("GBN_TIMER_INTERVAL", config.Protocol.TimerInterval)
	config.Protocol.MaxPayload = getIntWithDefault("GBN_MAX_PAYLOAD", config.Protocol.MaxPayload)
	if opts.WindowSize > 0 {
		config.Protocol.WindowSize = opts.WindowSize
	}
	if opts.TimerInterval > 0 {
		config.Protocol.TimerInterval = opts.TimerInterval
	}

	// Emulator config
	config.Emulator.Seed = getInt64WithDefault("GBN_EMULATOR_SEED", config.Emulator.Seed)
	config.Emulator.Delay = getDurationWithDefault("GBN_EMULATOR_DELAY", config.Emulator.Delay)
	config.Emulator.LossRate = getFloatWithDefault("GBN_LOSS_RATE", config.Emulator.LossRate)
	config.Emulator.CorruptRate = getFloatWithDefault("GBN_CORRUPT_RATE", config.Emulator.CorruptRate)

	// Logging config
	config.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", config.Logging.Level)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Protocol: ProtocolConfig{
			WindowSize:    8,
			TimerInterval: 500 * time.Millisecond,
			MaxPayload:    4096,
		},
		Emulator: EmulatorConfig{
			Seed:  1,
			Delay: 10 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	if c.Protocol.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive")
	}

	if c.Protocol.TimerInterval <= 0 {
		return fmt.Errorf("timer interval must be positive")
	}

	if c.Protocol.MaxPayload <= 0 {
		return fmt.Errorf("max payload must be positive")
	}

	if c.Emulator.LossRate < 0 || c.Emulator.LossRate > 1 {
		return fmt.Errorf("loss rate must be in [0,1]: %v", c.Emulator.LossRate)
	}

	if c.Emulator.CorruptRate < 0 || c.Emulator.CorruptRate > 1 {
		return fmt.Errorf("corrupt rate must be in [0,1]: %v", c.Emulator.CorruptRate)
	}

	if c.Emulator.Delay < 0 {
		return fmt.Errorf("emulator delay cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceWithDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return splitString(value, ",")
	}
	return defaultValue
}

// getOverrideOrEnv returns command-line override value, env value, or default
func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}

func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
