package camera

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
)

// Number of recent frame intervals we keep for FPS estimation.
// Must be a power of 2.
const frameClockHistory = 32

// FrameClock measures the actual frame rate of a stream by recording the
// interval between consecutive frames. The configured FPS is what we ask
// ffmpeg for, but the observed rate is what the camera actually delivers.
type FrameClock struct {
	lock      sync.Mutex
	intervals ringbuffer.RingP[time.Duration]
	lastAt    time.Time
}

func NewFrameClock() *FrameClock {
	return &FrameClock{
		intervals: ringbuffer.NewRingP[time.Duration](frameClockHistory),
	}
}

// Tick records the arrival of a frame.
func (c *FrameClock) Tick(now time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.lastAt.IsZero() {
		c.intervals.Add(now.Sub(c.lastAt))
	}
	c.lastAt = now
}

// FPS returns the estimated frame rate from the recorded intervals.
func (c *FrameClock) FPS() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	intervals := make([]time.Duration, c.intervals.Len())
	for i := 0; i < len(intervals); i++ {
		intervals[i] = c.intervals.Peek(i)
	}
	return EstimateFPS(intervals)
}

// Given a set of consecutive frame intervals, estimate the average frames per second.
// The value is a float64 because cameras can be configured for less than 1 FPS.
// The numbers I've seen on Hikvision are 1/2, 1/4, 1/8, 1/16
func EstimateFPS(frameIntervals []time.Duration) float64 {
	if len(frameIntervals) == 0 {
		return 10
	}
	sorted := make([]time.Duration, len(frameIntervals))
	copy(sorted, frameIntervals)
	slices.Sort(sorted)
	mid := sorted[len(sorted)/2]
	if mid == 0 {
		return 10
	}
	fps := float64(time.Second) / float64(mid)
	if fps >= 0.9 {
		return math.Round(fps)
	}
	// Below 1 FPS, we round to the nearest 1/2/4/8/16
	// This is because cameras can be configured for less than 1 FPS
	secondsPerFrame := 1.0 / fps
	spfR := math.Round(secondsPerFrame)
	return 1 / spfR
}
