package sensors

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSensor struct {
	name  string
	value atomic.Value // float64
	ok    atomic.Bool
	reads atomic.Int64
}

func newFakeSensor(name string, value float64, ok bool) *fakeSensor {
	s := &fakeSensor{name: name}
	s.value.Store(value)
	s.ok.Store(ok)
	return s
}

func (s *fakeSensor) Name() string { return s.name }

func (s *fakeSensor) Read() (float64, bool) {
	s.reads.Add(1)
	return s.value.Load().(float64), s.ok.Load()
}

func TestPollerSamplesImmediately(t *testing.T) {
	temp := newFakeSensor("water_temp_f", 76.5, true)
	p := NewPoller(time.Hour, temp)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for temp.reads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("poller never sampled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := p.Snapshot()
	r, found := snap["water_temp_f"]
	if !found {
		t.Fatal("reading missing from snapshot")
	}
	if !r.OK || r.Value != 76.5 {
		t.Fatalf("got %+v, want ok 76.5", r)
	}
	if r.At.IsZero() {
		t.Fatal("sample time not recorded")
	}

	cancel()
	<-done
}

func TestPollerRecordsUnavailableReadings(t *testing.T) {
	ph := newFakeSensor("ph", 0, false)
	p := NewPoller(time.Hour, ph)
	p.sample()

	r := p.Snapshot()["ph"]
	if r.OK {
		t.Fatal("failed reading reported as ok")
	}
}

func TestPollerTracksChangingValues(t *testing.T) {
	temp := newFakeSensor("air_temp_f", 70.0, true)
	p := NewPoller(time.Hour, temp)

	p.sample()
	temp.value.Store(71.25)
	p.sample()

	if got := p.Snapshot()["air_temp_f"].Value; got != 71.25 {
		t.Fatalf("snapshot value = %v, want 71.25", got)
	}
}

func TestPollerWithNoSensorsBlocksUntilCancel(t *testing.T) {
	p := NewPoller(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	if len(p.Snapshot()) != 0 {
		t.Fatal("snapshot should be empty")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	temp := newFakeSensor("water_temp_f", 76.5, true)
	p := NewPoller(time.Hour, temp)
	p.sample()

	snap := p.Snapshot()
	snap["water_temp_f"] = Reading{Value: -1}

	if got := p.Snapshot()["water_temp_f"].Value; got != 76.5 {
		t.Fatalf("mutating a snapshot leaked into the poller: %v", got)
	}
}
