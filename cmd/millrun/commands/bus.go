package commands

import (
	"sync"

	"github.com/millrun/millrun/pkg/sched"
)

// updateBus fans scheduler updates out to command-local subscribers. The
// publish side runs on the scheduler loop, so sends never block: a
// subscriber that falls behind loses updates rather than stalling dispatch.
type updateBus struct {
	mu   sync.Mutex
	subs map[chan sched.Update]bool
}

func newUpdateBus() *updateBus {
	return &updateBus{subs: make(map[chan sched.Update]bool)}
}

// subscribe returns a buffered update channel and its cancel function.
func (b *updateBus) subscribe() (<-chan sched.Update, func()) {
	ch := make(chan sched.Update, 64)
	b.mu.Lock()
	b.subs[ch] = true
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.subs[ch] {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (b *updateBus) publish(u sched.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
