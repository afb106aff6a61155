package overlay

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wnccnasa/FishCam/internal/config"
)

func TestVisible(t *testing.T) {
	const (
		cycle    = 600 * time.Second
		duration = 30 * time.Second
	)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"cycle start", 0, true},
		{"inside window", 29 * time.Second, true},
		{"window edge is exclusive", 30 * time.Second, false},
		{"mid cycle", 300 * time.Second, false},
		{"just before wrap", 599 * time.Second, false},
		{"second cycle start", 600 * time.Second, true},
		{"second cycle inside", 610 * time.Second, true},
		{"second cycle hidden", 650 * time.Second, false},
		{"tenth cycle", 9*cycle + 15*time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Visible(tt.elapsed, cycle, duration); got != tt.want {
				t.Errorf("Visible(%v) = %v, want %v", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestVisibleZeroCycle(t *testing.T) {
	if Visible(time.Second, 0, time.Second) {
		t.Error("zero cycle must never show the label")
	}
}

// countingHandler counts emitted records so edge-only logging can be
// asserted without inspecting formatted output.
type countingHandler struct {
	mu    sync.Mutex
	count int
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *countingHandler) Handle(context.Context, slog.Record) error {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	return nil
}
func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func (h *countingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func TestEdgeLoggedOncePerTransition(t *testing.T) {
	handler := &countingHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(handler))
	defer slog.SetDefault(prev)

	start := time.Now()
	c := NewCompositor("cam0", config.OverlayConfig{
		Enabled:         true,
		Text:            "feeding time",
		CycleMinutes:    10,
		DurationSeconds: 30,
		FontScale:       0.8,
		BackgroundAlpha: 0.7,
		TextAlpha:       0.9,
	}, start)

	// Simulate one full cycle at 1 Hz: 30 s shown, 570 s hidden.
	// The compositor starts in the hidden state, so the first visible
	// frame produces the shown edge.
	for sec := 0; sec < 600; sec++ {
		c.update(start.Add(time.Duration(sec) * time.Second))
	}

	// One shown edge at t=0, one hidden edge at t=30. 600 frames, two
	// log lines.
	if got := handler.total(); got != 2 {
		t.Errorf("expected 2 edge log lines per cycle, got %d", got)
	}

	// Second cycle adds exactly two more.
	for sec := 600; sec < 1200; sec++ {
		c.update(start.Add(time.Duration(sec) * time.Second))
	}
	if got := handler.total(); got != 4 {
		t.Errorf("expected 4 edge log lines after two cycles, got %d", got)
	}
}

func TestDisabledCompositorIsNil(t *testing.T) {
	c := NewCompositor("cam1", config.OverlayConfig{Enabled: false}, time.Now())
	if c != nil {
		t.Fatal("disabled overlay should yield a nil compositor")
	}
	// Apply on the nil compositor must be a safe no-op.
	c.Apply(nil, time.Now())
}

func TestVisibilitySequenceMatchesWindow(t *testing.T) {
	start := time.Now()
	c := NewCompositor("cam0", config.OverlayConfig{
		Enabled:         true,
		Text:            "label",
		CycleMinutes:    1,
		DurationSeconds: 10,
		FontScale:       0.7,
		BackgroundAlpha: 0.5,
		TextAlpha:       0.9,
	}, start)

	for sec := 0; sec < 120; sec++ {
		want := sec%60 < 10
		got := c.update(start.Add(time.Duration(sec) * time.Second))
		if got != want {
			t.Fatalf("second %d: visible=%v, want %v", sec, got, want)
		}
	}
}
