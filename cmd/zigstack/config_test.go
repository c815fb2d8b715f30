package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte("serial:\n  port: /dev/ttyACM0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Serial.Baud != 115200 {
		t.Errorf("baud = %d, want 115200", cfg.Serial.Baud)
	}
	if cfg.readTimeout != 100*time.Millisecond {
		t.Errorf("read timeout = %v, want 100ms", cfg.readTimeout)
	}
	if cfg.requestTimeout != 3*time.Second {
		t.Errorf("request timeout = %v, want 3s", cfg.requestTimeout)
	}
	if cfg.Store.Path != "zigstack.db" || cfg.Store.Retention != 10000 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("listen = %q", cfg.Web.Listen)
	}
	if cfg.MQTT.TopicPrefix != "zigstack" {
		t.Errorf("topic prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.ScriptsDir != "scripts" {
		t.Errorf("scripts dir = %q", cfg.ScriptsDir)
	}
}

func TestParseConfigFull(t *testing.T) {
	data := `
serial:
  port: /dev/ttyUSB0
  baud: 460800
  rtscts: true
  read_timeout: 50ms
session:
  request_timeout: 1500ms
  link_ack: true
store:
  path: /var/lib/zigstack/captures.db
  retention: 500
web:
  listen: ":9000"
  api_key: k
  allowed_origins: ["http://a", "http://b"]
mqtt:
  enabled: true
  broker: tcp://localhost:1883
  topic_prefix: lab
log:
  level: debug
  format: json
  file: /tmp/zigstack.log
  time_format: "2006-01-02 15:04:05"
scripts_dir: /etc/zigstack/scripts
`
	cfg, err := parseConfig([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !cfg.Serial.RTSCTS || cfg.Serial.Baud != 460800 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if !cfg.Session.LinkAck || cfg.requestTimeout != 1500*time.Millisecond {
		t.Errorf("session = %+v %v", cfg.Session, cfg.requestTimeout)
	}
	if len(cfg.Web.AllowedOrigins) != 2 {
		t.Errorf("origins = %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Log.TimeFormat != "2006-01-02 15:04:05" {
		t.Errorf("time format = %q", cfg.Log.TimeFormat)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative baud", "serial:\n  port: p\n  baud: -1\n", "serial.baud"},
		{"negative retention", "serial:\n  port: p\nstore:\n  retention: -5\n", "store.retention"},
		{"bad duration", "serial:\n  port: p\n  read_timeout: soon\n", "serial.read_timeout"},
		{"mqtt without broker", "serial:\n  port: p\nmqtt:\n  enabled: true\n", "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig([]byte(tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestParseConfigDefaultPort(t *testing.T) {
	cfg, err := parseConfig([]byte("serial:\n  baud: 9600\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyUSB0" {
		t.Errorf("port = %q, want /dev/ttyUSB0", cfg.Serial.Port)
	}

	cfg.Serial.Port = ""
	if err := cfg.validate(); err == nil || !strings.Contains(err.Error(), "serial.port") {
		t.Errorf("validate without port = %v, want error mentioning serial.port", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("serial: [\n"), 0o644)
	if _, err := loadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}
