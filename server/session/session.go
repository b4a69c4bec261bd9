// Package session runs the per-camera analysis loop: read a frame, detect
// vehicles, aggregate zone statistics, annotate, and publish the result.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/zonecam/zonecam/server/analytics"
	"github.com/zonecam/zonecam/server/annotate"
	"github.com/zonecam/zonecam/server/camera"
	"github.com/zonecam/zonecam/server/configdb"
	"github.com/zonecam/zonecam/server/detector"
	"github.com/zonecam/zonecam/server/metrics"
	"github.com/zonecam/zonecam/server/zones"
)

// How long we wait before polling the source again when no frame is available
const pollInterval = 50 * time.Millisecond

// Minimum time between repeated error log messages. The loop runs at frame
// rate, so an error that recurs every frame would flood the log.
const errorLogInterval = 15 * time.Second

// FrameSource is the session's view of a camera stream. The concrete
// implementation handles connects and reconnects internally, so ReadFrame
// either yields a frame or ErrNoFrame, and the session never dials.
type FrameSource interface {
	ReadFrame() (*cimg.Image, error)
	Release()
	State() camera.ConnState
	Dims() (width, height int)
}

// Environment carries the services shared by every camera session.
type Environment struct {
	Detector     detector.Detector
	DetectParams *detector.DetectParams
	Zones        *zones.Store
	Stats        *analytics.StatsSink
	Metrics      *metrics.Metrics
	JpegQuality  int
}

// Session is the analysis loop for a single camera. It owns its frame source,
// and runs until Stop is called. A failure inside the loop never terminates
// it: a processing error degrades that one frame to raw video, and a stream
// error is handled by the source's reconnect logic.
type Session struct {
	Log      logs.Log
	CameraID int64
	Config   configdb.Camera

	env    *Environment
	source FrameSource
	clock  *camera.FrameClock
	frames *Broadcast

	started       atomic.Bool
	mustStop      atomic.Bool
	looperStopped chan bool

	lastErrAt time.Time

	latestLock sync.Mutex
	latestJPEG []byte
}

func NewSession(log logs.Log, cam configdb.Camera, source FrameSource, env *Environment) *Session {
	return &Session{
		Log:           logs.NewPrefixLogger(log, fmt.Sprintf("Camera %v:", cam.Name)),
		CameraID:      cam.ID,
		Config:        cam,
		env:           env,
		source:        source,
		clock:         camera.NewFrameClock(),
		frames:        NewBroadcast(),
		looperStopped: make(chan bool),
	}
}

// Start launches the analysis loop. Calling Start twice is a no-op.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
}

// Stop shuts the session down and waits for the loop to exit. It is safe to
// call Stop more than once, and safe to call it on a session that was never
// started, or that never managed to connect.
func (s *Session) Stop() {
	s.mustStop.Store(true)
	// Releasing the source unblocks a read that is stuck waiting on the stream
	s.source.Release()
	if s.started.Load() {
		<-s.looperStopped
	}
}

// Stopped returns true once Stop has been called
func (s *Session) Stopped() bool {
	return s.mustStop.Load()
}

func (s *Session) ConnState() camera.ConnState {
	return s.source.State()
}

func (s *Session) Dims() (int, int) {
	return s.source.Dims()
}

// FPS returns the observed frame rate of the stream
func (s *Session) FPS() float64 {
	return s.clock.FPS()
}

// Subscribe registers for the session's annotated JPEG frames. The channel
// is closed when the session stops.
func (s *Session) Subscribe() chan []byte {
	return s.frames.Subscribe()
}

func (s *Session) Unsubscribe(ch chan []byte) {
	s.frames.Unsubscribe(ch)
}

// LatestJPEG returns the most recently published frame, or nil if the session
// hasn't produced one yet
func (s *Session) LatestJPEG() []byte {
	s.latestLock.Lock()
	defer s.latestLock.Unlock()
	return s.latestJPEG
}

func (s *Session) run() {
	s.Log.Infof("Session starting")
	s.env.Metrics.ActiveSessions.Add(1)
	for !s.mustStop.Load() {
		img, err := s.source.ReadFrame()
		if err != nil {
			// Disconnected, or waiting out the reconnect backoff
			time.Sleep(pollInterval)
			continue
		}
		s.clock.Tick(time.Now())
		if jpg := s.processFrame(img); jpg != nil {
			s.latestLock.Lock()
			s.latestJPEG = jpg
			s.latestLock.Unlock()
			s.env.Metrics.FramesProcessed.Add(1)
			if dropped := s.frames.Publish(jpg); dropped > 0 {
				s.env.Metrics.FramesDropped.Add(uint64(dropped))
			}
		}
	}
	// Release again on the way out. Stop's release can land while we're
	// mid-reconnect, in which case we're now holding a fresh connection.
	s.source.Release()
	s.frames.Close()
	s.env.Metrics.ActiveSessions.Add(-1)
	close(s.looperStopped)
	s.Log.Infof("Session stopped")
}

// processFrame runs the analysis pipeline on one frame and returns the
// annotated JPEG. If any stage fails then we fall back to the raw frame,
// because live video that keeps moving is worth more than a stalled stream.
func (s *Session) processFrame(img *cimg.Image) []byte {
	annotated, err := s.analyzeFrame(img)
	if err != nil {
		s.env.Metrics.ProcessErrors.Add(1)
		s.logThrottled("Frame processing failed: %v", err)
		annotated = img
	}
	jpg, err := cimg.Compress(annotated, cimg.MakeCompressParams(cimg.Sampling420, s.env.JpegQuality, 0))
	if err != nil {
		s.logThrottled("JPEG compression failed: %v", err)
		return nil
	}
	return jpg
}

func (s *Session) analyzeFrame(img *cimg.Image) (*cimg.Image, error) {
	// Zones are re-read on every frame, so an edit takes effect immediately
	zoneList := s.env.Zones.LoadValid(s.CameraID)
	objects, err := s.env.Detector.DetectObjects(img, s.env.DetectParams)
	if err != nil {
		return nil, err
	}
	stats, kept := analytics.Aggregate(objects, zoneList)
	if err := s.env.Stats.Write(s.CameraID, &stats); err != nil {
		return nil, err
	}
	return annotate.Render(img, kept, zoneList)
}

func (s *Session) logThrottled(format string, args ...any) {
	now := time.Now()
	if now.Sub(s.lastErrAt) > errorLogInterval {
		s.lastErrAt = now
		s.Log.Errorf(format, args...)
	}
}
