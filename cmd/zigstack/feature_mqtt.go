//go:build !no_mqtt

package main

import (
	"log/slog"

	"zigstack/internal/events"
	mqttbridge "zigstack/internal/mqtt"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(bus *events.Bus, sender mqttbridge.Sender, cfg *Config, info *coprocessorInfo, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	bridge, err := mqttbridge.NewBridge(bus, sender, mqttbridge.Config{
		Broker:        cfg.MQTT.Broker,
		Username:      cfg.MQTT.Username,
		Password:      cfg.MQTT.Password,
		TopicPrefix:   cfg.MQTT.TopicPrefix,
		StatsInterval: cfg.statsInterval,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	bridge.SetInfo(info)
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
