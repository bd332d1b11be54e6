package pipeconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseConfig_Directives(t *testing.T) {
	path := writeConfig(t, "pipe.lnx", `# pipe service
capacity 1024
privileged 1000

max-channels 8
listen unix /run/pipe.sock
metrics 127.0.0.1:9100
log-level debug
`)
	config, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if config.Capacity != 1024 {
		t.Fatalf("expect capacity 1024 but got %d", config.Capacity)
	}
	if config.Privileged != 1000 {
		t.Fatalf("expect privileged 1000 but got %d", config.Privileged)
	}
	if config.MaxChannels != 8 {
		t.Fatalf("expect max channels 8 but got %d", config.MaxChannels)
	}
	if config.Listen != "/run/pipe.sock" {
		t.Fatalf("expect listen /run/pipe.sock but got %s", config.Listen)
	}
	if config.Metrics != "127.0.0.1:9100" {
		t.Fatalf("expect metrics 127.0.0.1:9100 but got %s", config.Metrics)
	}
	if config.LogLevel != "debug" {
		t.Fatalf("expect log level debug but got %s", config.LogLevel)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("expect valid config but got %v", err)
	}
}

func TestParseConfig_DefaultsKept(t *testing.T) {
	path := writeConfig(t, "pipe.lnx", "privileged 42\n")
	config, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if config.Capacity != DefaultCapacity {
		t.Fatalf("expect default capacity %d but got %d", DefaultCapacity, config.Capacity)
	}
	if config.Listen != DefaultSocketPath {
		t.Fatalf("expect default listen path but got %s", config.Listen)
	}
}

func TestParseConfig_LineNumberInError(t *testing.T) {
	path := writeConfig(t, "pipe.lnx", "capacity 64\n\nbogus 1\n")
	_, err := ParseConfig(path)
	if err == nil {
		t.Fatalf("expect an error but got nil")
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("expect error to name line 3 but got %v", err)
	}
}

func TestParseConfig_RejectsNonUnixListen(t *testing.T) {
	path := writeConfig(t, "pipe.lnx", "listen udp 127.0.0.1:5000\n")
	if _, err := ParseConfig(path); err == nil {
		t.Fatalf("expect an error for udp listen but got nil")
	}
}

func TestParseConfig_YAML(t *testing.T) {
	path := writeConfig(t, "pipe.yaml", `capacity: 256
privileged: 7
max_channels: 3
listen: /tmp/x.sock
`)
	config, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if config.Capacity != 256 || config.Privileged != 7 || config.MaxChannels != 3 || config.Listen != "/tmp/x.sock" {
		t.Fatalf("unexpected config %+v", config)
	}
	if config.LogLevel != "info" {
		t.Fatalf("expect default log level info but got %s", config.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint32
		wantErr  bool
	}{
		{"zero", 0, true},
		{"one", 1, false},
		{"two", 2, false},
		{"not power of two", 4095, true},
		{"default", 4096, false},
		{"large", 1 << 20, false},
		{"odd multiple", 3 << 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			config.Capacity = tt.capacity
			err := config.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfiguration) {
					t.Fatalf("expect ErrInvalidConfiguration for %d but got %v", tt.capacity, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expect %d to be valid but got %v", tt.capacity, err)
			}
		})
	}
}

func TestValidate_LogLevel(t *testing.T) {
	config := Default()
	config.LogLevel = "chatty"
	if err := config.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expect ErrInvalidConfiguration but got %v", err)
	}
}
