package camera

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
)

// Reconnector wraps a FrameSource and keeps it connected. When the source
// fails to connect, or its stream ends, we go back to Disconnected and wait
// out the backoff before dialing again.
//
// Reconnector never sleeps. When there is nothing to read it returns
// ErrNoFrame immediately, so the caller's poll loop stays responsive to a
// stop request. The backoff is enforced by a deadline, not by blocking.
type Reconnector struct {
	log     logs.Log
	source  FrameSource
	backoff time.Duration

	state         atomic.Int32 // ConnState
	nextConnectAt time.Time
}

func NewReconnector(log logs.Log, source FrameSource, backoff time.Duration) *Reconnector {
	r := &Reconnector{
		log:     log,
		source:  source,
		backoff: backoff,
	}
	r.state.Store(int32(Disconnected))
	return r
}

func (r *Reconnector) State() ConnState {
	return ConnState(r.state.Load())
}

// ReadFrame returns the next frame, or ErrNoFrame when the source is down
// and we're either waiting out the backoff or have just failed again.
func (r *Reconnector) ReadFrame() (*cimg.Image, error) {
	if r.State() != Connected {
		if time.Now().Before(r.nextConnectAt) {
			return nil, ErrNoFrame
		}
		r.state.Store(int32(Connecting))
		if err := r.source.Connect(); err != nil {
			r.state.Store(int32(Disconnected))
			r.nextConnectAt = time.Now().Add(r.backoff)
			r.log.Errorf("Failed to connect: %v. Retrying in %v.", err, r.backoff)
			return nil, ErrNoFrame
		}
		r.state.Store(int32(Connected))
		r.log.Infof("Connected")
	}
	img, err := r.source.ReadFrame()
	if err != nil {
		r.source.Release()
		r.state.Store(int32(Disconnected))
		r.nextConnectAt = time.Now().Add(r.backoff)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.log.Infof("Stream ended. Reconnecting in %v.", r.backoff)
		} else {
			r.log.Errorf("Stream failed: %v. Reconnecting in %v.", err, r.backoff)
		}
		return nil, ErrNoFrame
	}
	return img, nil
}

// Release tears down the underlying source. It may be called from a different
// goroutine to the one calling ReadFrame, to unblock a read that is stuck
// inside the source.
func (r *Reconnector) Release() {
	r.source.Release()
	r.state.Store(int32(Disconnected))
}

func (r *Reconnector) Dims() (int, int) {
	return r.source.Dims()
}
