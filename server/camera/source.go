package camera

import (
	"errors"

	"github.com/bmharper/cimg/v2"
)

// ErrNoFrame means no frame is available right now, but a later read may
// succeed. The caller should back off briefly and try again.
var ErrNoFrame = errors.New("no frame available")

// ConnState is the connection state of a camera stream
type ConnState int32

const (
	Disconnected ConnState = iota // No usable stream
	Connecting                    // Busy establishing the stream
	Connected                     // Frames are flowing
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	}
	return "Disconnected"
}

// FrameSource produces decoded RGB frames from one camera stream.
// A FrameSource is driven by a single goroutine, except for Release, which
// may be called from anywhere to unblock a stuck ReadFrame.
type FrameSource interface {
	// Connect establishes the stream and starts the decoder
	Connect() error

	// ReadFrame returns the next decoded frame. The image may alias an
	// internal buffer that the next ReadFrame overwrites, so don't hold
	// onto it.
	// Any error means this stream is finished, and the caller must Release
	// and reconnect. A live stream has no transient read errors.
	ReadFrame() (*cimg.Image, error)

	// Release tears down the stream and reclaims decoder resources.
	// Safe to call twice, and safe to call if Connect never succeeded.
	Release()

	// Dims returns the output frame size
	Dims() (width, height int)
}
