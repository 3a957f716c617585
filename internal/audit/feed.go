package audit

import (
	"context"
	"sync"
)

// Feed fans recorded entries out to live subscribers such as the admin SSE
// tail. It implements Ledger so it can sit behind Tee.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]chan Entry
	next int
	buf  int
}

// NewFeed returns a feed whose subscriber channels hold buf entries.
func NewFeed(buf int) *Feed {
	if buf <= 0 {
		buf = 16
	}
	return &Feed{subs: make(map[int]chan Entry), buf: buf}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, f.buf)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Record publishes e to every subscriber. Slow subscribers miss entries.
func (f *Feed) Record(_ context.Context, e Entry) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- e.Clone():
		default:
		}
	}
	return nil
}

// Subscribers reports the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
