package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wnccnasa/FishCam/internal/broadcast"
	"github.com/wnccnasa/FishCam/internal/status"
)

// fakeStream hands out a fixed sequence of frames then blocks until
// the caller's context ends.
type fakeStream struct {
	running bool

	mu     sync.Mutex
	frames [][]byte
	seq    uint64
}

func newFakeStream(running bool, frames ...[]byte) *fakeStream {
	return &fakeStream{running: running, frames: frames}
}

func (f *fakeStream) Running() bool { return f.running }

func (f *fakeStream) Stats() broadcast.Stats {
	return broadcast.Stats{FramesPublished: f.seq}
}

func (f *fakeStream) WaitFrame(ctx context.Context) ([]byte, uint64, error) {
	f.mu.Lock()
	if len(f.frames) > 0 {
		frame := f.frames[0]
		f.frames = f.frames[1:]
		f.seq++
		seq := f.seq
		f.mu.Unlock()
		return frame, seq, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func testServer(cameras ...Camera) *Server {
	collect := func() status.Snapshot {
		snap := status.NewSnapshot()
		for _, cam := range cameras {
			snap.Cameras = append(snap.Cameras, status.CameraStatus{
				Name:    cam.Name,
				Path:    cam.Path,
				Running: cam.Stream.Running(),
				Stats:   cam.Stream.Stats(),
			})
		}
		return snap
	}
	return NewServer(":0", cameras, collect, time.Second)
}

func TestUnknownPathIs404(t *testing.T) {
	s := testServer(Camera{Name: "main", Path: "/stream0.mjpg", Stream: newFakeStream(true)})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStoppedCameraIs503(t *testing.T) {
	s := testServer(Camera{Name: "main", Path: "/stream0.mjpg", Stream: newFakeStream(false)})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream0.mjpg", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestIndexListsCameras(t *testing.T) {
	s := testServer(
		Camera{Name: "main tank", Path: "/stream0.mjpg", Stream: newFakeStream(true)},
		Camera{Name: "fry tank", Path: "/stream1.mjpg", Stream: newFakeStream(true)},
	)
	for _, path := range []string{"/", "/index.html"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, rec.Code)
		}
		body := rec.Body.String()
		for _, want := range []string{"main tank", "/stream0.mjpg", "fry tank", "/stream1.mjpg"} {
			if !strings.Contains(body, want) {
				t.Fatalf("%s: page missing %q", path, want)
			}
		}
	}
}

func TestStreamEmitsMultipartFrames(t *testing.T) {
	frames := [][]byte{[]byte("jpeg-one"), []byte("jpeg-two")}
	s := testServer(Camera{Name: "main", Path: "/stream0.mjpg", Stream: newFakeStream(true, frames...)})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream0.mjpg", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "multipart/x-mixed-replace; boundary=FRAME" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache, private" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if got := resp.Header.Get("Age"); got != "0" {
		t.Fatalf("Age = %q", got)
	}

	mr := multipart.NewReader(resp.Body, "FRAME")
	for i, want := range frames {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Fatalf("part %d: Content-Type = %q", i, ct)
		}
		if cl := part.Header.Get("Content-Length"); cl != fmt.Sprint(len(want)) {
			t.Fatalf("part %d: Content-Length = %q", i, cl)
		}
		got, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("part %d: payload = %q, want %q", i, got, want)
		}
	}
	// Frames exhausted; the fake blocks until we hang up.
	cancel()
}

func TestWritePartFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := writePart(rec, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	want := "--FRAME\r\nContent-Type: image/jpeg\r\nContent-Length: 3\r\n\r\nabc\r\n"
	if rec.Body.String() != want {
		t.Fatalf("framing = %q, want %q", rec.Body.String(), want)
	}
}

func TestStatusEndpointReportsCameras(t *testing.T) {
	s := testServer(Camera{Name: "main", Path: "/stream0.mjpg", Stream: newFakeStream(true)})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap status.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Cameras) != 1 || snap.Cameras[0].Name != "main" || !snap.Cameras[0].Running {
		t.Fatalf("snapshot cameras = %+v", snap.Cameras)
	}
}

func TestConnectionCountTracksViewers(t *testing.T) {
	s := testServer()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.addConnection()
		}()
	}
	wg.Wait()
	if got := s.ConnectionCount(); got != 50 {
		t.Fatalf("count = %d, want 50", got)
	}
	for i := 0; i < 50; i++ {
		s.removeConnection()
	}
	if got := s.ConnectionCount(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}

func TestStreamCountsConnections(t *testing.T) {
	stream := newFakeStream(true, []byte("frame"))
	s := testServer(Camera{Name: "main", Path: "/stream0.mjpg", Stream: stream})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream0.mjpg", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Consume the first frame so the handler is known to be inside
	// its loop before checking the counter.
	br := bufio.NewReader(resp.Body)
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatal(err)
	}
	if got := s.ConnectionCount(); got != 1 {
		t.Fatalf("count during stream = %d, want 1", got)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for s.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("count after disconnect = %d, want 0", s.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
