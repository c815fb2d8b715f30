//go:build !no_automation

package main

import (
	"log/slog"

	"zigstack/internal/automation"
	"zigstack/internal/events"
	"zigstack/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(bus *events.Bus, sender automation.Sender, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(bus, sender, scriptMgr, logger)
	engine.Start()

	return &autoStopper{engine: engine}, []web.ServerOption{
		web.WithAutomation(engine, scriptMgr),
	}
}
