//go:build no_automation

package main

import (
	"log/slog"

	"zigstack/internal/events"
	"zigstack/internal/session"
	"zigstack/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *events.Bus, _ *session.Session, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
