package pipeconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

const (
	DefaultCapacity   = 4096
	DefaultPrivileged = 0 // root
	DefaultSocketPath = "/tmp/pipe-shmipe.sock"
)

type PipeConfig struct {
	// Per-channel circular buffer size. Must be a nonzero power of 2.
	Capacity uint32 `yaml:"capacity"`

	// The identity bound to the deny-all endpoint instead of a channel
	Privileged uint32 `yaml:"privileged"`

	// Upper bound on live channels, 0 means unlimited
	MaxChannels int `yaml:"max_channels"`

	Listen   string `yaml:"listen"`  // unix socket path
	Metrics  string `yaml:"metrics"` // http listen address, "" disables /metrics
	LogLevel string `yaml:"log_level"`
}

func Default() *PipeConfig {
	return &PipeConfig{
		Capacity:   DefaultCapacity,
		Privileged: DefaultPrivileged,
		Listen:     DefaultSocketPath,
		LogLevel:   "info",
	}
}

func (c *PipeConfig) Validate() error {
	if c.Capacity == 0 || c.Capacity&(c.Capacity-1) != 0 {
		return errors.Wrapf(ErrInvalidConfiguration, "capacity %d must be nonzero power of 2", c.Capacity)
	}
	if c.MaxChannels < 0 {
		return errors.Wrapf(ErrInvalidConfiguration, "max channels %d must not be negative", c.MaxChannels)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(ErrInvalidConfiguration, "unknown log level %q", c.LogLevel)
	}
	return nil
}

// ******************** END PUBLIC INTERFACE *********************************************

type ParseFunc func(int, string, *PipeConfig) error

var parseCommands = map[string]ParseFunc{
	"capacity":     parseCapacity,
	"privileged":   parsePrivileged,
	"max-channels": parseMaxChannels,
	"listen":       parseListen,
	"metrics":      parseMetrics,
	"log-level":    parseLogLevel,
}

func parseCapacity(ln int, line string, config *PipeConfig) error {
	var capacity uint32
	n, err := fmt.Sscanf(line, "capacity %d", &capacity)
	if err != nil || n != 1 {
		return newErrString(ln, "capacity directive must have format:  capacity <bytes>")
	}
	config.Capacity = capacity
	return nil
}

func parsePrivileged(ln int, line string, config *PipeConfig) error {
	var id uint32
	n, err := fmt.Sscanf(line, "privileged %d", &id)
	if err != nil || n != 1 {
		return newErrString(ln, "privileged directive must have format:  privileged <uid>")
	}
	config.Privileged = id
	return nil
}

func parseMaxChannels(ln int, line string, config *PipeConfig) error {
	tokens := strings.Fields(line)
	if len(tokens) != 2 {
		return newErrString(ln, "max-channels directive must have format:  max-channels <count>")
	}
	count, err := strconv.Atoi(tokens[1])
	if err != nil {
		return newErr(ln, err)
	}
	config.MaxChannels = count
	return nil
}

func parseListen(ln int, line string, config *PipeConfig) error {
	var network, path string

	format := "listen unix <path>"
	n, err := fmt.Sscanf(line, "listen %s %s", &network, &path)
	if err != nil || n != 2 {
		return newErrString(ln, "listen directive must have format:  %s", format)
	}
	if network != "unix" {
		return newErrString(ln, "unsupported network %s, only unix sockets are served", network)
	}
	config.Listen = path
	return nil
}

func parseMetrics(ln int, line string, config *PipeConfig) error {
	tokens := strings.Fields(line)
	if len(tokens) != 2 {
		return newErrString(ln, "metrics directive must have format:  metrics <addr:port>")
	}
	config.Metrics = tokens[1]
	return nil
}

func parseLogLevel(ln int, line string, config *PipeConfig) error {
	tokens := strings.Fields(line)
	if len(tokens) != 2 {
		return newErrString(ln, "log-level directive must have format:  log-level <debug|info|warn|error>")
	}
	config.LogLevel = tokens[1]
	return nil
}

func newErrString(line int, msg string, args ...any) error {
	return errors.Errorf("Parse error on line %d:  %s", line, fmt.Sprintf(msg, args...))
}

func newErr(line int, err error) error {
	return errors.Wrapf(err, "Parse error on line %d", line)
}

// Parse a configuration file. Files ending in .yaml or .yml are YAML documents,
// anything else is read as one directive per line.
func ParseConfig(configFile string) (*PipeConfig, error) {
	switch filepath.Ext(configFile) {
	case ".yaml", ".yml":
		return parseYAML(configFile)
	}

	fd, err := os.Open(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open config file")
	}
	defer fd.Close()

	config := Default()

	scanner := bufio.NewScanner(fd)
	ln := 0
	for scanner.Scan() {
		ln++

		line := strings.TrimSpace(scanner.Text())
		tokens := strings.Fields(line)

		// Skip blank lines and comments
		if len(tokens) == 0 || tokens[0][0] == '#' {
			continue
		}

		pf, found := parseCommands[tokens[0]]
		if !found {
			return nil, newErrString(ln, "Unrecognized token %s", tokens[0])
		}
		if err := pf(ln, line, config); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	return config, nil
}

func parseYAML(configFile string) (*PipeConfig, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open config file")
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", configFile)
	}
	return config, nil
}
