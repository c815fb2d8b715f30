// Command zigstack is the host daemon for an MT coprocessor on a serial
// line. It journals traffic, serves the JSON API and live stream, and
// optionally bridges to MQTT and runs Lua scripts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zigstack/internal/events"
	"zigstack/internal/logging"
	"zigstack/internal/metrics"
	"zigstack/internal/mt"
	"zigstack/internal/session"
	"zigstack/internal/store"
	"zigstack/internal/transport"
	"zigstack/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// coprocessorInfo is what the daemon learns from the coprocessor at startup.
type coprocessorInfo struct {
	Version      string               `json:"version"`
	Coprocessor  *session.VersionInfo `json:"coprocessor,omitempty"`
	Capabilities []string             `json:"capabilities,omitempty"`
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		TimeFormat: cfg.Log.TimeFormat,
	}, os.Stdout)
	if err != nil {
		bootLogger.Error("create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	logger.Info("zigstack starting", "version", version)

	closers := &multiCloser{}
	closers.add(logCloser)
	fail := func(msg string, err error) {
		logger.Error(msg, "err", err)
		if cerr := closers.Close(); cerr != nil {
			bootLogger.Error("close", "err", cerr)
		}
		os.Exit(1)
	}

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		fail("open store", err)
	}
	closers.add(db)

	recorder := store.NewRecorder(db, cfg.Store.Retention, logger)
	closers.add(recorder)

	m := metrics.New()
	bus := events.NewBus(logger)

	port, err := transport.Open(transport.Config{
		Port:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.Baud,
		RTSCTS:      cfg.Serial.RTSCTS,
		ReadTimeout: cfg.readTimeout,
	})
	if err != nil {
		fail("open serial port", err)
	}
	logger.Info("serial port open", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud, "rtscts", cfg.Serial.RTSCTS)

	sess := session.New(port, session.Options{
		RequestTimeout: cfg.requestTimeout,
		LinkAck:        cfg.Session.LinkAck,
		Observer:       session.Observers(bus, recorder, m),
	}, logger)
	closers.add(sess)

	sess.OnFrame(func(f *mt.Frame) {
		logger.Debug("async frame", "cmd", f.Command(), "payload", f.Payload)
	})

	info := probeCoprocessor(sess, db, logger)

	auto, autoWebOpts := initAutomation(bus, sess, cfg, logger)

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithMetrics(m),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(sess, db, bus, logger, webOpts...)
	closers.addFunc(func() error {
		webServer.Stop()
		return nil
	})

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	mqtt := initMQTT(bus, sess, cfg, info, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}

	if dropped := recorder.Dropped(); dropped > 0 {
		logger.Warn("captures dropped while journal was busy", "count", dropped)
	}
	logger.Info("goodbye")
	if err := closers.Close(); err != nil {
		bootLogger.Error("close", "err", err)
		os.Exit(1)
	}
}

// probeCoprocessor pings the coprocessor and reads its version. Failures are
// logged; the daemon keeps running so captures still work against a
// coprocessor that boots later.
func probeCoprocessor(sess *session.Session, db store.Store, logger *slog.Logger) *coprocessorInfo {
	info := &coprocessorInfo{Version: version}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	caps, err := sess.Ping(ctx)
	if err != nil {
		logger.Warn("coprocessor did not answer SYS_PING", "err", err)
		return info
	}
	info.Capabilities = session.CapabilityNames(caps)
	if err := db.PutMeta(store.MetaCapabilities, caps); err != nil {
		logger.Warn("save capabilities", "err", err)
	}

	v, err := sess.Version(ctx)
	if err != nil {
		logger.Warn("coprocessor did not answer SYS_VERSION", "err", err)
		return info
	}
	info.Coprocessor = v
	if err := db.PutMeta(store.MetaVersion, v); err != nil {
		logger.Warn("save version", "err", err)
	}
	logger.Info("coprocessor ready", "version", v.String(), "capabilities", info.Capabilities)
	return info
}
