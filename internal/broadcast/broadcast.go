package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrHardwareUnavailable is wrapped by sources whose device cannot
	// be opened. Fatal to the owning Broadcaster only.
	ErrHardwareUnavailable = errors.New("camera hardware unavailable")

	// ErrReadFailed is wrapped by sources when a single frame read
	// fails. The capture loop logs it and retries after a short delay.
	ErrReadFailed = errors.New("frame read failed")

	// ErrEncodeFailed is wrapped by sources when compositing or JPEG
	// encoding fails. The frame is dropped and the loop continues.
	ErrEncodeFailed = errors.New("frame encode failed")

	// ErrStopped is returned by WaitFrame once the Broadcaster has
	// stopped (or was never started).
	ErrStopped = errors.New("broadcaster stopped")

	// ErrAlreadyStarted is returned by Start on a second call.
	ErrAlreadyStarted = errors.New("broadcaster already started")
)

// Source is implemented by capture backends.
//
// Implementations must guarantee:
//   - Open performs backend selection, configuration and warm-up, and
//     wraps ErrHardwareUnavailable when the device cannot be acquired
//   - Grab blocks until the next hardware frame and holds it
//     internally, so rate-capped frames can be discarded without
//     paying for compositing or encoding
//   - Encode composites the overlay onto the held frame, applies the
//     fixed rotation and returns a complete JPEG buffer that the
//     caller owns
//   - All methods are called from a single goroutine
type Source interface {
	Open(ctx context.Context) error
	Grab() error
	Encode() ([]byte, error)
	Close() error
}

// Options tunes the capture loop. Zero values are rejected by New.
type Options struct {
	// DeliveryFPS caps the publish rate independent of hardware
	// cadence. Frames arriving above the cap are dropped, never
	// buffered.
	DeliveryFPS float64
	// ReadRetry is the delay before retrying after a failed read.
	ReadRetry time.Duration
}

// Broadcaster is the single-producer, multi-consumer distribution unit
// for one camera. All methods are safe for concurrent use; the capture
// goroutine is the only writer of the frame slot.
type Broadcaster struct {
	name string
	src  Source
	opts Options

	// Frame slot. The buffer is replaced on publish and never mutated
	// afterwards, so consumers may hold the returned slice without
	// copying.
	mu      sync.Mutex
	cond    *sync.Cond
	frame   []byte
	seq     uint64
	running bool
	stopped bool

	// done is closed by the capture loop on exit; quit is closed by
	// Stop to wake a loop sleeping out a read-retry interval.
	done chan struct{}
	quit chan struct{}

	// Statistics (atomic, read by Stats from any goroutine)
	framesPublished atomic.Uint64
	framesDropped   atomic.Uint64
	readFailures    atomic.Uint64
	encodeFailures  atomic.Uint64
	lastPublishNS   atomic.Int64
	startedAt       time.Time
}

// Stats is a point-in-time snapshot of a Broadcaster's counters.
type Stats struct {
	// FramesPublished is the number of frames written to the slot
	FramesPublished uint64 `json:"frames_published"`
	// FramesDropped counts frames discarded by the delivery-rate cap
	FramesDropped uint64 `json:"frames_dropped"`
	// ReadFailures counts transient hardware read failures
	ReadFailures uint64 `json:"read_failures"`
	// EncodeFailures counts frames lost to encode errors
	EncodeFailures uint64 `json:"encode_failures"`
	// FPSReal is the measured publish rate since Start
	FPSReal float64 `json:"fps_real"`
	// LastPublish is the wall time of the newest frame, zero if none
	LastPublish time.Time `json:"last_publish"`
	// Running is true between a successful Start and Stop
	Running bool `json:"running"`
}

// New creates a Broadcaster for one camera. The source is not touched
// until Start.
func New(name string, src Source, opts Options) (*Broadcaster, error) {
	if src == nil {
		return nil, fmt.Errorf("broadcast: %s: nil source", name)
	}
	if opts.DeliveryFPS <= 0 {
		return nil, fmt.Errorf("broadcast: %s: invalid delivery fps %.2f", name, opts.DeliveryFPS)
	}
	if opts.ReadRetry <= 0 {
		return nil, fmt.Errorf("broadcast: %s: invalid read retry %v", name, opts.ReadRetry)
	}

	b := &Broadcaster{
		name: name,
		src:  src,
		opts: opts,
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Name returns the camera label the Broadcaster was created with.
func (b *Broadcaster) Name() string { return b.name }

// Start opens the source (backend probe plus warm-up happen inside
// Open) and spawns the capture loop. An open failure is fatal to this
// Broadcaster only: the error is returned, no goroutine is spawned and
// a later Stop will not touch the source.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return fmt.Errorf("broadcast: %s: %w", b.name, ErrStopped)
	}
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("broadcast: %s: %w", b.name, ErrAlreadyStarted)
	}
	b.mu.Unlock()

	// Open outside the lock: warm-up can take seconds and WaitFrame or
	// Stats callers must not stall behind it.
	if err := b.src.Open(ctx); err != nil {
		return fmt.Errorf("broadcast: %s: open source: %w", b.name, err)
	}

	b.mu.Lock()
	if b.stopped {
		// Stop raced with a slow open. Release the device; the loop
		// never ran.
		b.mu.Unlock()
		b.src.Close()
		return fmt.Errorf("broadcast: %s: %w", b.name, ErrStopped)
	}
	b.running = true
	b.startedAt = time.Now()
	b.mu.Unlock()

	go b.captureLoop()

	slog.Info("broadcast: started",
		"camera", b.name,
		"delivery_fps", b.opts.DeliveryFPS,
	)
	return nil
}

// captureLoop is the producer: read, rate-gate, composite+encode,
// publish. It exits when Stop flips the running flag.
func (b *Broadcaster) captureLoop() {
	defer close(b.done)

	interval := time.Duration(float64(time.Second) / b.opts.DeliveryFPS)
	var lastAccepted time.Time

	for b.isRunning() {
		if err := b.src.Grab(); err != nil {
			b.readFailures.Add(1)
			slog.Warn("broadcast: frame read failed, retrying",
				"camera", b.name,
				"error", err,
				"retry_in", b.opts.ReadRetry,
			)
			b.sleepRunning(b.opts.ReadRetry)
			continue
		}

		// Delivery-rate cap: hardware frames above the cap are read
		// and discarded so the driver buffer stays drained and the
		// next accepted frame is current.
		now := time.Now()
		if now.Sub(lastAccepted) < interval {
			b.framesDropped.Add(1)
			continue
		}

		data, err := b.src.Encode()
		if err != nil {
			b.encodeFailures.Add(1)
			slog.Warn("broadcast: frame encode failed, dropping",
				"camera", b.name,
				"error", err,
			)
			continue
		}

		lastAccepted = now
		b.publish(data)
	}
}

// publish replaces the frame slot and wakes every waiter. The slot and
// sequence number share the waiters' mutex; consumers can never observe
// a partially written frame.
func (b *Broadcaster) publish(data []byte) {
	b.mu.Lock()
	b.frame = data
	b.seq++
	b.cond.Broadcast()
	b.mu.Unlock()

	b.framesPublished.Add(1)
	b.lastPublishNS.Store(time.Now().UnixNano())
}

// WaitFrame blocks until a frame newer than the moment of the call is
// published, then returns its bytes and sequence number. The returned
// buffer is immutable and may be written to a socket without copying.
//
// Unblocks with ctx.Err() when the caller's context is cancelled and
// with ErrStopped once the Broadcaster stops. A producer that merely
// goes silent keeps callers blocked; live view prefers waiting for
// current reality over serving a backlog.
func (b *Broadcaster) WaitFrame(ctx context.Context) ([]byte, uint64, error) {
	// Wake our cond waiters when the caller disappears; Broadcast
	// because the signal must reach this specific waiter.
	unregister := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer unregister()

	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.seq
	for b.seq == entry {
		if !b.running {
			return nil, 0, fmt.Errorf("broadcast: %s: %w", b.name, ErrStopped)
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		b.cond.Wait()
	}
	return b.frame, b.seq, nil
}

// Stop signals the capture loop to exit, waits for it, then releases
// the source. Terminal: the Broadcaster cannot be restarted. Safe to
// call after a failed (or never attempted) Start, in which case the
// source is left untouched. Idempotent.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	wasRunning := b.running
	b.running = false
	close(b.quit)
	b.cond.Broadcast()
	b.mu.Unlock()

	if !wasRunning {
		// Start never succeeded; the hardware handle was never ours.
		return nil
	}

	<-b.done

	err := b.src.Close()

	stats := b.Stats()
	slog.Info("broadcast: stopped",
		"camera", b.name,
		"frames_published", stats.FramesPublished,
		"frames_dropped", stats.FramesDropped,
		"read_failures", stats.ReadFailures,
	)
	if err != nil {
		return fmt.Errorf("broadcast: %s: close source: %w", b.name, err)
	}
	return nil
}

// Running reports whether the capture loop is active. False before a
// successful Start, after Stop, and permanently for a camera whose
// Start failed.
func (b *Broadcaster) Running() bool {
	return b.isRunning()
}

func (b *Broadcaster) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// sleepRunning sleeps up to d, returning early when Stop closes the
// quit channel so shutdown is never delayed by a retry interval.
func (b *Broadcaster) sleepRunning(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-b.quit:
	case <-t.C:
	}
}

// Stats returns a snapshot of the counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	running := b.running
	startedAt := b.startedAt
	b.mu.Unlock()

	published := b.framesPublished.Load()

	var fpsReal float64
	if !startedAt.IsZero() {
		if uptime := time.Since(startedAt).Seconds(); uptime > 0 {
			fpsReal = float64(published) / uptime
		}
	}

	var lastPublish time.Time
	if ns := b.lastPublishNS.Load(); ns != 0 {
		lastPublish = time.Unix(0, ns)
	}

	return Stats{
		FramesPublished: published,
		FramesDropped:   b.framesDropped.Load(),
		ReadFailures:    b.readFailures.Load(),
		EncodeFailures:  b.encodeFailures.Load(),
		FPSReal:         fpsReal,
		LastPublish:     lastPublish,
		Running:         running,
	}
}
