package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/wnccnasa/FishCam/internal/broadcast"
)

const boundary = "FRAME"

// streamHandler serves one camera as multipart/x-mixed-replace. Each
// request loops on WaitFrame until the client goes away or the camera
// stops, so every viewer always carries the newest frame and nothing
// older.
func (s *Server) streamHandler(cam Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cam.Stream.Running() {
			http.Error(w, "camera unavailable", http.StatusServiceUnavailable)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		conn := uuid.NewString()
		s.addConnection()
		slog.Info("web: viewer connected",
			"conn", conn, "camera", cam.Name, "remote", r.RemoteAddr, "viewers", s.ConnectionCount())
		defer func() {
			s.removeConnection()
			slog.Info("web: viewer disconnected",
				"conn", conn, "camera", cam.Name, "remote", r.RemoteAddr, "viewers", s.ConnectionCount())
		}()

		h := w.Header()
		h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
		h.Set("Age", "0")
		h.Set("Cache-Control", "no-cache, private")
		h.Set("Pragma", "no-cache")
		w.WriteHeader(http.StatusOK)

		for {
			frame, _, err := cam.Stream.WaitFrame(r.Context())
			if err != nil {
				if errors.Is(err, broadcast.ErrStopped) {
					slog.Info("web: stream ended", "conn", conn, "camera", cam.Name)
				}
				return
			}
			if err := writePart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writePart emits one JPEG as a multipart section. The part framing is
// what browsers expect from motion JPEG servers: boundary line, part
// headers, payload, trailing CRLF.
func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
