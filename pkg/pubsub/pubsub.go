package pubsub

import (
	"sync"
)

// Subscription is a live feed for one topic. Cancel releases the channel;
// it is safe to call more than once.
type Subscription[T any] struct {
	C      <-chan T
	cancel func()
	once   sync.Once
}

func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
}

type PubSub[T any] struct {
	mu   sync.Mutex
	subs map[string][]chan T
}

func NewPubSub[T any]() *PubSub[T] {
	return &PubSub[T]{
		subs: make(map[string][]chan T),
	}
}

func (ps *PubSub[T]) Subscribe(topic string) *Subscription[T] {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.subscribeLocked(topic, nil)
}

// SubscribeWith seeds the subscription with an initial value so the first
// receive never blocks on a future publish.
func (ps *PubSub[T]) SubscribeWith(topic string, initial T) *Subscription[T] {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.subscribeLocked(topic, &initial)
}

func (ps *PubSub[T]) subscribeLocked(topic string, initial *T) *Subscription[T] {
	ch := make(chan T, 1)
	if initial != nil {
		ch <- *initial
	}
	ps.subs[topic] = append(ps.subs[topic], ch)
	return &Subscription[T]{
		C: ch,
		cancel: func() {
			ps.remove(topic, ch)
		},
	}
}

// Publish delivers data to every subscriber of the topic. A slow subscriber
// has its pending value replaced rather than blocking the publisher; since
// payloads are full snapshots the newest value subsumes the dropped one.
func (ps *PubSub[T]) Publish(topic string, data T) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, ch := range ps.subs[topic] {
		select {
		case ch <- data:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- data
		}
	}
}

func (ps *PubSub[T]) remove(topic string, ch chan T) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	subs := ps.subs[topic]
	for i, c := range subs {
		if c == ch {
			ps.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}
