package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// subscriberBuffer is how many events a subscriber may lag before events are dropped for it.
const subscriberBuffer = 64

// Broadcaster fans engine events out to every active subscriber.
//
// Publish never blocks: a subscriber that is not keeping up misses events.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates a [Broadcaster] with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish sends evt to every subscriber that has room for it.
func (b *Broadcaster) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Progress publishes a progress update.
func (b *Broadcaster) Progress(u ProgressUpdate) {
	b.Publish(Event{Progress: &u})
}

// Log publishes a log event.
func (b *Broadcaster) Log(level log.Level, msg string) {
	b.Publish(Event{Log: &LogEvent{Level: level, Message: msg, Time: time.Now()}})
}
