//go:build !no_mqtt

// Package mqtt mirrors line traffic to an MQTT broker and accepts frames to
// transmit.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigstack/internal/events"
	"zigstack/internal/mt"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
	// StatsInterval is how often bridge/stats is published. Zero disables it.
	StatsInterval time.Duration
}

// Sender transmits frames on the line.
type Sender interface {
	Send(ctx context.Context, cmd mt.Command, payload []byte) error
	Request(ctx context.Context, cmd mt.Command, payload []byte) (*mt.Frame, error)
}

// Stats counts events published since start.
type Stats struct {
	RX           uint64 `json:"rx"`
	TX           uint64 `json:"tx"`
	DecodeErrors uint64 `json:"decode_errors"`
	LinkControls uint64 `json:"link_controls"`
	LastRX       string `json:"last_rx,omitempty"`
}

// Bridge publishes bus events under TopicPrefix and listens on
// <prefix>/send for frames to transmit.
type Bridge struct {
	client pahomqtt.Client
	bus    *events.Bus
	sender Sender
	prefix string
	cfg    Config
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
	info  any
}

func newBridge(bus *events.Bus, sender Sender, cfg Config, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		bus:    bus,
		sender: sender,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewBridge creates and connects an MQTT bridge. The broker keeps
// <prefix>/bridge/state at "offline" through the last will.
func NewBridge(bus *events.Bus, sender Sender, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(bus, sender, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zigstack"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topic("bridge/state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// The connect handler may fire before Connect returns, so client must
	// be set first.
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to bus events and begins publishing.
func (b *Bridge) Start() {
	b.unsub = b.bus.OnAll(b.handleEvent)
	if b.cfg.StatsInterval > 0 {
		b.wg.Add(1)
		go b.statsLoop()
	}
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.wg.Wait()
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// SetInfo publishes v, retained, to <prefix>/bridge/info now and after
// every reconnect.
func (b *Bridge) SetInfo(v any) {
	b.mu.Lock()
	b.info = v
	b.mu.Unlock()
	b.publish(b.topic("bridge/info"), mustJSON(v), true)
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bridge) topic(suffix string) string {
	return b.prefix + "/" + suffix
}

func (b *Bridge) onConnect() {
	b.publishBridgeState("online")
	for _, msg := range buildDiscovery(b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.mu.Lock()
	info := b.info
	b.mu.Unlock()
	if info != nil {
		b.publish(b.topic("bridge/info"), mustJSON(info), true)
	}
	b.client.Subscribe(b.topic("send"), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSend(msg.Payload())
	})
}

// eventTopic maps an event to its topic suffix:
//
//	frames/<direction>/<subsystem>
//	link/<direction>/<kind>
//	errors/<kind>
func eventTopic(ev events.Event) string {
	fe := ev.Data
	switch ev.Type {
	case events.FrameRX, events.FrameTX:
		return "frames/" + fe.Direction + "/" + strings.ToLower(fe.Subsystem)
	case events.LinkControl:
		return "link/" + fe.Direction + "/" + fe.Control
	case events.DecodeError:
		kind := fe.ErrorKind
		if kind == "" {
			kind = "other"
		}
		return "errors/" + kind
	default:
		return "events/" + string(ev.Type)
	}
}

func (b *Bridge) handleEvent(ev events.Event) {
	b.mu.Lock()
	switch ev.Type {
	case events.FrameRX:
		b.stats.RX++
		b.stats.LastRX = ev.Data.Time.Format(time.RFC3339)
	case events.FrameTX:
		b.stats.TX++
	case events.DecodeError:
		b.stats.DecodeErrors++
	case events.LinkControl:
		b.stats.LinkControls++
	}
	b.mu.Unlock()

	b.publish(b.topic(eventTopic(ev)), mustJSON(ev.Data), false)
}

func (b *Bridge) statsLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.publish(b.topic("bridge/stats"), mustJSON(b.Stats()), true)
		}
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.topic("bridge/state"), []byte(state), true)
}

// sendRequest is the JSON body accepted on <prefix>/send.
type sendRequest struct {
	Cmd0    *uint8 `json:"cmd0"`
	Cmd1    *uint8 `json:"cmd1"`
	Payload string `json:"payload"`
	// ID is echoed in the response so callers can correlate.
	ID string `json:"id,omitempty"`
}

type sendResponse struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Cmd0    uint8  `json:"cmd0"`
	Cmd1    uint8  `json:"cmd1"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func parseSendRequest(data []byte) (sendRequest, mt.Command, []byte, error) {
	var req sendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, mt.Command{}, nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Cmd0 == nil || req.Cmd1 == nil {
		return req, mt.Command{}, nil, errors.New("cmd0 and cmd1 are required")
	}
	payload, err := mt.ParseHex(req.Payload)
	if err != nil {
		return req, mt.Command{}, nil, err
	}
	return req, mt.Command{Cmd0: *req.Cmd0, Cmd1: *req.Cmd1}, payload, nil
}

// handleSend transmits one frame and publishes the outcome to
// <prefix>/send/response. An SREQ's response carries the SRSP.
func (b *Bridge) handleSend(data []byte) {
	req, cmd, payload, err := parseSendRequest(data)
	if err != nil {
		b.logger.Warn("invalid send request", "err", err)
		b.publish(b.topic("send/response"), mustJSON(sendResponse{ID: req.ID, Status: "error", Error: err.Error()}), false)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	resp := sendResponse{ID: req.ID, Status: "ok", Cmd0: cmd.Cmd0, Cmd1: cmd.Cmd1}
	if cmd.Type() == mt.TypeSREQ {
		var rsp *mt.Frame
		rsp, err = b.sender.Request(ctx, cmd, payload)
		if err == nil {
			resp.Cmd0, resp.Cmd1 = rsp.Command().Cmd0, rsp.Command().Cmd1
			resp.Payload = fmt.Sprintf("%X", rsp.Payload)
		}
	} else {
		err = b.sender.Send(ctx, cmd, payload)
	}
	if err != nil {
		b.logger.Warn("send from mqtt failed", "cmd", cmd, "err", err)
		resp.Status = "error"
		resp.Error = err.Error()
	}
	b.publish(b.topic("send/response"), mustJSON(resp), false)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
