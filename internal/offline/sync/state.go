package sync

import (
	"fmt"
	"strings"
	stdsync "sync"

	"github.com/rs/zerolog"
)

// State is a progress snapshot of the current or last sync pass.
type State struct {
	Syncing bool `json:"syncing"`
	Total   int  `json:"total"`
	Done    int  `json:"done"`
	// Remaining is the queue length read after the pass when Syncing is
	// false, and Total-Done while a pass is running.
	Remaining int `json:"remaining"`
}

// Broker fans State snapshots out to subscribers.
//
// Delivery is synchronous and follows registration order. The subscriber
// set is copied before each delivery, so a callback may subscribe or
// unsubscribe without deadlocking; such changes apply from the next
// publish on.
type Broker struct {
	logger zerolog.Logger

	mu   stdsync.Mutex
	next uint64
	subs []subscriber
	last State
}

type subscriber struct {
	id uint64
	fn func(State)
}

// NewBroker creates an empty broker.
func NewBroker(logger zerolog.Logger) *Broker {
	return &Broker{logger: logger}
}

// Subscribe registers fn and returns its disposer. Calling the disposer
// more than once is harmless.
func (b *Broker) Subscribe(fn func(State)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once stdsync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish records s as the latest state and delivers it.
func (b *Broker) Publish(s State) {
	b.mu.Lock()
	b.last = s
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, s)
	}
}

func (b *Broker) deliver(sub subscriber, s State) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Uint64("subscriber", sub.id).Msg("sync subscriber panicked")
		}
	}()
	sub.fn(s)
}

// Last returns the most recently published state.
func (b *Broker) Last() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Len returns the number of subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// RejectionPolicy decides what happens to a mutation the server answered
// with a non-2xx status.
type RejectionPolicy int

const (
	// DropAll dequeues on any received response, 5xx included.
	DropAll RejectionPolicy = iota
	// RetryServerErrors keeps 5xx items queued and ends the pass; 4xx are
	// still dropped.
	RetryServerErrors
)

func (p RejectionPolicy) String() string {
	switch p {
	case DropAll:
		return "drop-all"
	case RetryServerErrors:
		return "retry-server-errors"
	default:
		return fmt.Sprintf("RejectionPolicy(%d)", int(p))
	}
}

// ParseRejectionPolicy parses the config spelling of a policy.
func ParseRejectionPolicy(s string) (RejectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-all":
		return DropAll, nil
	case "retry-server-errors":
		return RetryServerErrors, nil
	default:
		return DropAll, fmt.Errorf("unknown rejection policy %q (want drop-all or retry-server-errors)", s)
	}
}
