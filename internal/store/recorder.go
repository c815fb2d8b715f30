package store

import (
	"log/slog"
	"sync"

	"zigstack/internal/session"
)

// pruneEvery is how many appends pass between retention sweeps.
const pruneEvery = 256

// Recorder journals session records on its own goroutine so the read loop
// never waits on disk. Records arriving while the queue is full are dropped
// and counted.
type Recorder struct {
	store     Store
	retention int
	logger    *slog.Logger

	queue   chan *Capture
	mu      sync.Mutex
	dropped uint64

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewRecorder starts the journal writer. retention <= 0 keeps everything.
func NewRecorder(s Store, retention int, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:     s,
		retention: retention,
		logger:    logger.With("component", "recorder"),
		queue:     make(chan *Capture, 1024),
		done:      make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// CaptureFromRecord converts a session record into a journal entry.
func CaptureFromRecord(rec session.Record) *Capture {
	c := &Capture{
		Time:      rec.Time,
		Direction: string(rec.Direction),
		Raw:       append([]byte(nil), rec.Raw...),
	}
	switch {
	case rec.Err != nil:
		c.Kind = KindError
		c.Error = rec.Err.Error()
	case rec.Control != nil:
		c.Kind = KindControl
		c.Cmd0 = rec.Control.Control
	case rec.Frame != nil:
		c.Kind = KindMonitor
		c.Cmd0 = rec.Frame.Header.Command.Cmd0
		c.Cmd1 = rec.Frame.Header.Command.Cmd1
	}
	return c
}

func (r *Recorder) Observe(rec session.Record) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.queue <- CaptureFromRecord(rec):
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// Dropped reports how many records were lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) run() {
	defer r.wg.Done()
	var n int
	for {
		select {
		case c := <-r.queue:
			r.append(c)
			n++
			if r.retention > 0 && n%pruneEvery == 0 {
				r.prune()
			}
		case <-r.done:
			// Drain what was queued before Close.
			for {
				select {
				case c := <-r.queue:
					r.append(c)
				default:
					if r.retention > 0 {
						r.prune()
					}
					return
				}
			}
		}
	}
}

func (r *Recorder) append(c *Capture) {
	if err := r.store.Append(c); err != nil {
		r.logger.Error("capture append failed", "err", err)
	}
}

func (r *Recorder) prune() {
	deleted, err := r.store.Prune(r.retention)
	if err != nil {
		r.logger.Error("capture prune failed", "err", err)
		return
	}
	if deleted > 0 {
		r.logger.Debug("captures pruned", "deleted", deleted)
	}
}

// Close flushes queued captures. It does not close the store.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
	return nil
}
