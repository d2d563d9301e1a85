package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

const (
	defaultLogLevel = "info"
	defaultSyntax   = "intel"
)

// Config holds the settings of a memscan invocation. Values are read from
// an optional YAML file; command line flags take precedence.
type Config struct {
	Dump      string `yaml:"dump"`
	Writable  bool   `yaml:"writable"`
	Arch      string `yaml:"arch"`
	DTB       Hex    `yaml:"dtb"`
	LogLevel  string `yaml:"log_level"`
	Syntax    string `yaml:"syntax"`
	CacheSize int    `yaml:"cache_size"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: defaultLogLevel,
		Syntax:   defaultSyntax,
	}
}

// LoadConfig reads a YAML configuration file. Missing keys keep their
// default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err = yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// override copies the value of the named flag from other.
func (c *Config) override(flagName string, other *Config) {
	switch flagName {
	case "dump":
		c.Dump = other.Dump
	case "writable":
		c.Writable = other.Writable
	case "arch":
		c.Arch = other.Arch
	case "dtb":
		c.DTB = other.DTB
	case "log-level":
		c.LogLevel = other.LogLevel
	case "syntax":
		c.Syntax = other.Syntax
	case "cache":
		c.CacheSize = other.CacheSize
	}
}

// Hex is an integer that is rendered in hexadecimal in YAML output. It
// accepts decimal, hex (0x) and octal (0o) input in YAML and on the
// command line.
type Hex uint64

// MarshalYAML implements yaml.Marshaler.
func (h Hex) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *Hex) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return h.Set(s)
}

// String implements flag.Value.
func (h *Hex) String() string {
	if h == nil {
		return "0x0"
	}
	return fmt.Sprintf("%#x", uint64(*h))
}

// Set implements flag.Value.
func (h *Hex) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*h = Hex(v)
	return nil
}
