package manager

import (
	"log/slog"
	"sync"

	"github.com/wI2L/jsondiff"

	"github.com/audiolibrelab/pipecast/internal/metrics"
)

// Broadcaster fans status patches out to subscribers. A subscriber that
// falls behind is closed instead of skipping a patch, since the patches
// only make sense applied in order; it has to resubscribe and fetch the
// full status again.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan jsondiff.Patch]struct{}
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subs:   make(map[chan jsondiff.Patch]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of patches and a function that cancels the
// subscription. The channel is closed on cancel or overflow.
func (b *Broadcaster) Subscribe() (<-chan jsondiff.Patch, func()) {
	ch := make(chan jsondiff.Patch, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	metrics.AddPatchSubscriber(1)

	return ch, func() { b.drop(ch) }
}

func (b *Broadcaster) drop(ch chan jsondiff.Patch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
	metrics.AddPatchSubscriber(-1)
}

// Publish sends patch to every subscriber without blocking
func (b *Broadcaster) Publish(patch jsondiff.Patch) {
	if len(patch) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- patch:
		default:
			slog.Warn("Patch subscriber too slow, disconnecting")
			delete(b.subs, ch)
			close(ch)
			metrics.PatchDropped()
			metrics.AddPatchSubscriber(-1)
		}
	}
}

// Close ends every subscription
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
		metrics.AddPatchSubscriber(-1)
	}
}
