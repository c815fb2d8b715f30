// Package session runs the host side of an MT link: it writes envelopes,
// matches synchronous responses to requests, dispatches asynchronous frames,
// and answers link control frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"zigstack/internal/link"
	"zigstack/internal/mt"
	"zigstack/internal/transport"
)

const defaultRequestTimeout = 3 * time.Second

var (
	ErrClosed     = errors.New("session: closed")
	ErrNotRequest = errors.New("session: command is not an SREQ")
)

// Options tune a Session. Zero values are usable.
type Options struct {
	RequestTimeout time.Duration
	// LinkAck answers inbound link data control frames with an ACK.
	LinkAck  bool
	Observer Observer
}

// waiter is a pending match for an inbound frame.
type waiter struct {
	match func(*mt.Frame) bool
	ch    chan *mt.Frame
}

// Session owns a port. All methods are safe for concurrent use.
type Session struct {
	port   transport.Port
	frames *transport.FrameReader
	logger *slog.Logger
	opts   Options

	// MT allows one outstanding SREQ at a time.
	reqMu   sync.Mutex
	writeMu sync.Mutex

	waitMu  sync.Mutex
	waiters []*waiter

	handlerMu     sync.RWMutex
	onFrame       []func(*mt.Frame)
	onDecodeError []func(raw []byte, err error)
	onControl     []func(link.Frame)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts reading from port. The session takes ownership of port and
// closes it on Close.
func New(port transport.Port, opts Options, logger *slog.Logger) *Session {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		port:   port,
		frames: transport.NewFrameReader(port),
		logger: logger.With("component", "session"),
		opts:   opts,
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// OnFrame registers a handler for inbound frames not claimed by a pending
// request: AREQs, POLLs, and late or unmatched SRSPs.
func (s *Session) OnFrame(handler func(*mt.Frame)) {
	s.handlerMu.Lock()
	s.onFrame = append(s.onFrame, handler)
	s.handlerMu.Unlock()
}

// OnDecodeError registers a handler for dropped inbound bytes.
func (s *Session) OnDecodeError(handler func(raw []byte, err error)) {
	s.handlerMu.Lock()
	s.onDecodeError = append(s.onDecodeError, handler)
	s.handlerMu.Unlock()
}

// OnControl registers a handler for inbound link control frames.
func (s *Session) OnControl(handler func(link.Frame)) {
	s.handlerMu.Lock()
	s.onControl = append(s.onControl, handler)
	s.handlerMu.Unlock()
}

// Request sends an SREQ and waits for the SRSP with the same subsystem and
// command id. Without a deadline on ctx the configured request timeout applies.
func (s *Session) Request(ctx context.Context, cmd mt.Command, payload []byte) (*mt.Frame, error) {
	if cmd.Type() != mt.TypeSREQ {
		return nil, fmt.Errorf("%w: %s", ErrNotRequest, cmd)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	w := s.expect(func(f *mt.Frame) bool {
		c := f.Command()
		return c.Type() == mt.TypeSRSP && cmd.Matches(c)
	})
	defer s.forget(w)

	if err := s.write(ctx, cmd, payload); err != nil {
		return nil, err
	}
	resp, err := s.wait(ctx, w)
	if err != nil {
		s.logger.Warn("mt timeout", "cmd", cmd, "err", err)
		return nil, fmt.Errorf("session: %s: %w", cmd, err)
	}
	return resp, nil
}

// Send writes a frame without waiting for anything.
func (s *Session) Send(ctx context.Context, cmd mt.Command, payload []byte) error {
	return s.write(ctx, cmd, payload)
}

// SendAck writes a link ACK carrying seq.
func (s *Session) SendAck(seq uint8) error {
	return s.sendControl(link.AckControl(seq), seq, link.SendAck)
}

// SendNak writes a link NAK asking the coprocessor to resend frame seq.
func (s *Session) SendNak(seq uint8) error {
	return s.sendControl(link.NakControl(seq), seq, link.SendNak)
}

func (s *Session) sendControl(control, seq uint8, send func(io.Writer, uint8) error) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.writeMu.Lock()
	err := send(s.port, seq)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	raw := link.ControlFrame(control, nil)
	cf := link.Frame{Control: control, CRC: uint16(raw[1])<<8 | uint16(raw[2])}
	s.observe(Record{Direction: DirectionTX, Raw: raw, Control: &cf})
	return nil
}

// AckControl acknowledges the data frame whose control byte is b.
func (s *Session) AckControl(b uint8) error {
	return s.SendAck(link.NextAckSeq(link.ParseDataControl(b).FrameNumber))
}

func (s *Session) write(ctx context.Context, cmd mt.Command, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	f, err := mt.NewFrame(cmd, payload)
	if err != nil {
		return fmt.Errorf("session: %s: %w", cmd, err)
	}
	raw, err := mt.EncodeMonitorFrame(f)
	if err != nil {
		return fmt.Errorf("session: %s: %w", cmd, err)
	}

	s.writeMu.Lock()
	_, err = s.port.Write(raw)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("session: write %s: %w", cmd, err)
	}
	s.logger.Debug("mt TX", "cmd", cmd, "payload", fmt.Sprintf("%X", payload))
	s.observe(Record{Direction: DirectionTX, Raw: raw, Frame: f})
	return nil
}

func (s *Session) expect(match func(*mt.Frame) bool) *waiter {
	w := &waiter{match: match, ch: make(chan *mt.Frame, 1)}
	s.waitMu.Lock()
	s.waiters = append(s.waiters, w)
	s.waitMu.Unlock()
	return w
}

func (s *Session) forget(w *waiter) {
	s.waitMu.Lock()
	for i, x := range s.waiters {
		if x == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	s.waitMu.Unlock()
}

func (s *Session) wait(ctx context.Context, w *waiter) (*mt.Frame, error) {
	select {
	case f := <-w.ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

// claim hands f to the first waiter that matches it.
func (s *Session) claim(f *mt.Frame) bool {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	for i, w := range s.waiters {
		if w.match(f) {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			w.ch <- f
			return true
		}
	}
	return false
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-s.done:
			return
		default:
		}

		pkt, err := s.frames.Next()
		if err != nil {
			var de *transport.DecodeError
			if errors.As(err, &de) {
				s.handleDecodeError(de)
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				s.logger.Error("serial read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = 10 * time.Millisecond

		switch pkt.Kind {
		case transport.PacketControl:
			s.handleControl(pkt)
		case transport.PacketMonitor:
			s.handleFrame(pkt)
		}
	}
}

func (s *Session) handleDecodeError(de *transport.DecodeError) {
	s.logger.Warn("mt decode error", "kind", transport.ErrorKind(de), "raw", fmt.Sprintf("%X", de.Raw), "err", de.Err)
	s.observe(Record{Direction: DirectionRX, Raw: de.Raw, Err: de.Err})

	s.handlerMu.RLock()
	handlers := s.onDecodeError
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(de.Raw, de.Err)
	}
}

func (s *Session) handleControl(pkt transport.Packet) {
	cf := *pkt.Control
	s.logger.Debug("link RX", "kind", cf.Kind(), "control", fmt.Sprintf("0x%02X", cf.Control))
	s.observe(Record{Direction: DirectionRX, Raw: pkt.Raw, Control: &cf})

	if s.opts.LinkAck && cf.Kind() == link.KindData {
		if err := s.AckControl(cf.Control); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Error("link send ACK failed", "err", err)
		}
	}

	s.handlerMu.RLock()
	handlers := s.onControl
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(cf)
	}
}

func (s *Session) handleFrame(pkt transport.Packet) {
	f := pkt.Frame
	s.logger.Debug("mt RX", "cmd", f.Command(), "payload", fmt.Sprintf("%X", f.Payload))
	s.observe(Record{Direction: DirectionRX, Raw: pkt.Raw, Frame: f})

	if s.claim(f) {
		return
	}
	if f.Command().Type() == mt.TypeSRSP {
		s.logger.Warn("mt orphaned response", "cmd", f.Command(), "payload", fmt.Sprintf("%X", f.Payload))
	}

	s.handlerMu.RLock()
	handlers := s.onFrame
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(f)
	}
}

func (s *Session) observe(r Record) {
	if s.opts.Observer == nil {
		return
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	s.opts.Observer.Observe(r)
}

// Close stops the read loop and closes the port. It is safe to call more
// than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}
