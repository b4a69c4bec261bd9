package session

import (
	"sync"
	"sync/atomic"

	"github.com/zonecam/zonecam/pkg/gen"
)

// Broadcast fans encoded frames out to stream subscribers. Each subscriber
// has a single frame of buffering, and a new frame overwrites an unconsumed
// one. A slow subscriber therefore always sees the newest frame, and can
// never stall the pipeline or the other subscribers.
type Broadcast struct {
	lock        sync.Mutex
	subscribers []chan []byte
	closed      bool
	nDropped    atomic.Int64
}

func NewBroadcast() *Broadcast {
	return &Broadcast{}
}

// Subscribe returns a channel that receives encoded frames. The channel is
// closed when the broadcast ends, and a subscriber that arrives after the
// end gets a channel that is already closed.
func (b *Broadcast) Subscribe() chan []byte {
	b.lock.Lock()
	defer b.lock.Unlock()
	ch := make(chan []byte, 1)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a channel returned by Subscribe. The channel is not
// closed, so a concurrent receiver simply stops seeing new frames.
func (b *Broadcast) Unsubscribe(ch chan []byte) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.subscribers = gen.DeleteFirst(b.subscribers, ch)
}

// Publish delivers a frame to every subscriber without blocking, and returns
// the number of older frames that were discarded to make room
func (b *Broadcast) Publish(frame []byte) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	dropped := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- frame:
		default:
			// The subscriber hasn't consumed its previous frame.
			// Discard that one and hand it the newest.
			select {
			case <-ch:
				dropped++
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
	b.nDropped.Add(int64(dropped))
	return dropped
}

// Close ends the broadcast by closing every subscriber channel, which is how
// a streamer learns that no more frames are coming. Publishing to a closed
// broadcast delivers nothing.
func (b *Broadcast) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
	b.closed = true
}

// NumSubscribers returns the number of active subscribers
func (b *Broadcast) NumSubscribers() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.subscribers)
}

// NumDropped returns the total number of frames discarded because a
// subscriber was too slow
func (b *Broadcast) NumDropped() int64 {
	return b.nDropped.Load()
}
