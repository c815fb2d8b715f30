//go:build no_mqtt

package main

import (
	"log/slog"

	"zigstack/internal/events"
	"zigstack/internal/session"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *events.Bus, _ *session.Session, _ *Config, _ *coprocessorInfo, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
