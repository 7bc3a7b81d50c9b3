package chain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Probe checks the connection once.
type Probe func(ctx context.Context) error

// Heartbeat tracks socket liveness with an explicit periodic probe.
// Alive requires a successful probe within the last three intervals and an active poll flag.
type Heartbeat struct {
	interval time.Duration
	probe    Probe
	log      *slog.Logger

	lastOK atomic.Int64 // unix nanos
	active atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// NewHeartbeat creates a stopped heartbeat.
func NewHeartbeat(interval time.Duration, probe Probe, log *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Heartbeat{
		interval: interval,
		probe:    probe,
		log:      log,
		now:      time.Now,
	}
}

// Beat records a successful exchange with the endpoint.
func (h *Heartbeat) Beat() {
	h.lastOK.Store(h.now().UnixNano())
}

// SetActive flips the polling-active flag.
func (h *Heartbeat) SetActive(active bool) {
	h.active.Store(active)
}

// Alive reports whether the connection is considered live.
func (h *Heartbeat) Alive() bool {
	if !h.active.Load() {
		return false
	}
	last := h.lastOK.Load()
	if last == 0 {
		return false
	}
	return h.now().Sub(time.Unix(0, last)) < 3*h.interval
}

// Start launches the probe loop and marks the heartbeat active.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.Beat()
	h.SetActive(true)

	go h.loop(ctx, h.done)
}

// Stop ends the probe loop and clears the active flag.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	h.SetActive(false)
	if cancel != nil {
		cancel()
		<-done
	}
}

func (h *Heartbeat) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, h.interval)
			err := h.probe(probeCtx)
			cancel()
			if err != nil {
				h.log.Warn("heartbeat probe failed", "error", err)
				continue
			}
			h.Beat()
		}
	}
}
