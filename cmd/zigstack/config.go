package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial struct {
		Port        string `yaml:"port"`
		Baud        int    `yaml:"baud"`
		RTSCTS      bool   `yaml:"rtscts"`
		ReadTimeout string `yaml:"read_timeout"`
	} `yaml:"serial"`
	Session struct {
		RequestTimeout string `yaml:"request_timeout"`
		LinkAck        bool   `yaml:"link_ack"`
	} `yaml:"session"`
	Store struct {
		Path      string `yaml:"path"`
		Retention int    `yaml:"retention"`
	} `yaml:"store"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled       bool   `yaml:"enabled"`
		Broker        string `yaml:"broker"`
		Username      string `yaml:"username"`
		Password      string `yaml:"password"`
		TopicPrefix   string `yaml:"topic_prefix"`
		StatsInterval string `yaml:"stats_interval"`
	} `yaml:"mqtt"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		TimeFormat string `yaml:"time_format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`

	// Parsed by validate.
	readTimeout    time.Duration
	requestTimeout time.Duration
	statsInterval  time.Duration
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store.retention must not be negative, got %d", c.Store.Retention)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	for _, d := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"serial.read_timeout", c.Serial.ReadTimeout, &c.readTimeout},
		{"session.request_timeout", c.Session.RequestTimeout, &c.requestTimeout},
		{"mqtt.stats_interval", c.MQTT.StatsInterval, &c.statsInterval},
	} {
		v, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
		*d.dst = v
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Serial.Port == "" {
		cfg.Serial.Port = "/dev/ttyUSB0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Serial.ReadTimeout == "" {
		cfg.Serial.ReadTimeout = "100ms"
	}
	if cfg.Session.RequestTimeout == "" {
		cfg.Session.RequestTimeout = "3s"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigstack.db"
	}
	if cfg.Store.Retention == 0 {
		cfg.Store.Retention = 10000
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigstack"
	}
	if cfg.MQTT.StatsInterval == "" {
		cfg.MQTT.StatsInterval = "30s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	return &cfg, nil
}
