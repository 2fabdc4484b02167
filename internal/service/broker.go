package service

import (
	"sync"

	"github.com/hydrowatch/hydrorisk-backend/internal/models"
)

const subscriberBuffer = 32

// Broker fans progress events of running jobs out to subscribers. Slow
// subscribers lose intermediate events, never the final one.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan models.JobProgress]struct{}
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan models.JobProgress]struct{})}
}

// Subscribe registers for events of jobID. The channel is closed after the
// final event or when cancel is called.
func (b *Broker) Subscribe(jobID string) (<-chan models.JobProgress, func()) {
	ch := make(chan models.JobProgress, subscriberBuffer)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan models.JobProgress]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[jobID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, jobID)
				}
			}
		})
	}
}

// Publish delivers ev to every subscriber of jobID without blocking.
func (b *Broker) Publish(jobID string, ev models.JobProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[jobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Finish delivers the final event and closes every subscription of jobID.
func (b *Broker) Finish(jobID string, ev models.JobProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[jobID] {
		select {
		case ch <- ev:
		default:
			// make room for the final event
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
		close(ch)
	}
	delete(b.subs, jobID)
}

// Subscribers returns the number of open subscriptions of jobID.
func (b *Broker) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
