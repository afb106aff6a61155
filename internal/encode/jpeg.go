// Package encode turns captured frames into transport-ready JPEG
// buffers.
package encode

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/wnccnasa/FishCam/internal/broadcast"
)

// JPEG encodes frames at a fixed quality. The zero value is invalid;
// use NewJPEG.
type JPEG struct {
	params []int
}

// NewJPEG creates an encoder with the given quality (1-100). Quality
// is validated by config; out-of-range values here are clamped by
// OpenCV itself.
func NewJPEG(quality int) JPEG {
	return JPEG{params: []int{gocv.IMWriteJpegQuality, quality}}
}

// Encode compresses m and returns a buffer the caller owns. A failure
// wraps broadcast.ErrEncodeFailed so the capture loop drops the frame
// and continues.
func (e JPEG) Encode(m gocv.Mat) ([]byte, error) {
	if m.Empty() {
		return nil, fmt.Errorf("encode: empty frame: %w", broadcast.ErrEncodeFailed)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, e.params)
	if err != nil {
		return nil, fmt.Errorf("encode: %v: %w", err, broadcast.ErrEncodeFailed)
	}
	defer buf.Close()

	// The native buffer is freed on Close; hand back a Go-owned copy.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
