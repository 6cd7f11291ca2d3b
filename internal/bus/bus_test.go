package bus

import (
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Ch():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBus_DeliversTypedPayload(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicArchivePrefix)
	defer b.Unsubscribe(sub)

	b.Publish(TopicArchiveToggled, ArchiveEvent{Archive: "Steve", Outcome: "success", Enabled: false})

	ev := receive(t, sub)
	if ev.Topic != TopicArchiveToggled {
		t.Fatalf("topic = %q", ev.Topic)
	}
	payload, ok := ev.Payload.(ArchiveEvent)
	if !ok || payload.Archive != "Steve" || payload.Enabled {
		t.Fatalf("payload = %#v", ev.Payload)
	}
}

func TestBus_EmptyPrefixSeesEverything(t *testing.T) {
	b := New()
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	topics := []string{TopicArchiveCreated, TopicMemberTimedOut, TopicConfigReloaded}
	for _, topic := range topics {
		b.Publish(topic, nil)
	}
	for _, want := range topics {
		if got := receive(t, all).Topic; got != want {
			t.Fatalf("topic = %q, want %q", got, want)
		}
	}
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicArchivePrefix)
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			b.Publish(TopicArchiveScanned, ScanEvent{Errors: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if n := len(sub.Ch()); n != defaultBufferSize {
		t.Fatalf("buffered %d events, want %d", n, defaultBufferSize)
	}
	if first := receive(t, sub).Payload.(ScanEvent); first.Errors != 0 {
		t.Fatalf("oldest event should survive, got %+v", first)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicMemberTimedOut)
	if b.SubscriberCount() != 1 {
		t.Fatalf("subscribers = %d", b.SubscriberCount())
	}
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("channel should be closed")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("subscribers = %d", b.SubscriberCount())
	}
	b.Publish(TopicMemberTimedOut, TimeoutEvent{TargetID: "1"})
}

func TestBus_NilIsSafe(t *testing.T) {
	var b *Bus
	b.Publish(TopicArchiveCreated, ArchiveEvent{Archive: "x"})
}

func TestBus_FanOutUnderConcurrency(t *testing.T) {
	b := New()
	subs := []*Subscription{b.Subscribe(TopicArchivePrefix), b.Subscribe(TopicArchiveCreated)}
	defer func() {
		for _, s := range subs {
			b.Unsubscribe(s)
		}
	}()

	const publishers, each = 5, 10
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				b.Publish(TopicArchiveCreated, ArchiveEvent{Archive: "Steve"})
			}
		}()
	}
	wg.Wait()

	for i, s := range subs {
		if n := len(s.Ch()); n != publishers*each {
			t.Fatalf("subscriber %d got %d events, want %d", i, n, publishers*each)
		}
	}
}
