// Package web is the HTTP surface of the service: the landing page,
// one MJPEG endpoint per camera, the JSON status endpoint and a
// websocket status feed. Stream delivery is pull based; each viewer
// connection runs its own loop against the camera's broadcaster, so a
// slow viewer only slows itself.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/wnccnasa/FishCam/internal/broadcast"
	"github.com/wnccnasa/FishCam/internal/status"
)

// Stream is the broadcaster side the web layer needs. Satisfied by
// *broadcast.Broadcaster.
type Stream interface {
	Running() bool
	WaitFrame(ctx context.Context) ([]byte, uint64, error)
	Stats() broadcast.Stats
}

// Camera binds one URL path to one camera's broadcaster.
type Camera struct {
	Name   string
	Path   string
	Stream Stream
}

// Server serves the configured cameras over HTTP.
type Server struct {
	addr         string
	cameras      []Camera
	collect      status.Collector
	pushInterval time.Duration

	mu          sync.Mutex
	connections int
}

// NewServer builds a server for the given camera table. collect feeds
// the status endpoints; pushInterval paces the websocket feed.
func NewServer(addr string, cameras []Camera, collect status.Collector, pushInterval time.Duration) *Server {
	if pushInterval <= 0 {
		pushInterval = 5 * time.Second
	}
	return &Server{
		addr:         addr,
		cameras:      cameras,
		collect:      collect,
		pushInterval: pushInterval,
	}
}

// Handler returns the route table. Camera paths come from config, so
// registration is dynamic rather than declared at compile time.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws/status", s.handleStatusFeed)
	for _, cam := range s.cameras {
		mux.HandleFunc(cam.Path, s.streamHandler(cam))
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down draining active
// connections for up to five seconds.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		// Streams are long lived; only bound the handshake.
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		slog.Info("web: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ConnectionCount reports the number of active stream viewers.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *Server) addConnection() {
	s.mu.Lock()
	s.connections++
	s.mu.Unlock()
}

func (s *Server) removeConnection() {
	s.mu.Lock()
	s.connections--
	s.mu.Unlock()
}
