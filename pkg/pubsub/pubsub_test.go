package pubsub

import (
	"testing"
	"time"
)

func TestPubSub(t *testing.T) {
	t.Run("subscribe and publish", func(t *testing.T) {
		ps := NewPubSub[string]()
		sub := ps.Subscribe("topic")
		defer sub.Cancel()

		ps.Publish("topic", "hello")
		select {
		case got := <-sub.C:
			if got != "hello" {
				t.Errorf("expected %q, got %q", "hello", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for publish")
		}
	})

	t.Run("subscribe with initial value", func(t *testing.T) {
		ps := NewPubSub[int]()
		sub := ps.SubscribeWith("topic", 42)
		defer sub.Cancel()

		select {
		case got := <-sub.C:
			if got != 42 {
				t.Errorf("expected 42, got %d", got)
			}
		default:
			t.Fatal("initial value should be available immediately")
		}
	})

	t.Run("slow subscriber keeps only the newest value", func(t *testing.T) {
		ps := NewPubSub[int]()
		sub := ps.Subscribe("topic")
		defer sub.Cancel()

		ps.Publish("topic", 1)
		ps.Publish("topic", 2)
		ps.Publish("topic", 3)

		got := <-sub.C
		if got != 3 {
			t.Errorf("expected newest value 3, got %d", got)
		}
	})

	t.Run("publish only reaches the topic's subscribers", func(t *testing.T) {
		ps := NewPubSub[string]()
		a := ps.Subscribe("a")
		defer a.Cancel()
		b := ps.Subscribe("b")
		defer b.Cancel()

		ps.Publish("a", "for a")
		select {
		case <-b.C:
			t.Fatal("subscriber of topic b received topic a's value")
		default:
		}
	})

	t.Run("cancel closes the channel and is idempotent", func(t *testing.T) {
		ps := NewPubSub[string]()
		sub := ps.Subscribe("topic")
		sub.Cancel()
		sub.Cancel()

		if _, ok := <-sub.C; ok {
			t.Error("expected closed channel after cancel")
		}
		// publishing after cancel must not panic or block
		ps.Publish("topic", "nobody home")
	})
}
