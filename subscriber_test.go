package nitros

import (
	"sync"
	"testing"
	"time"
)

func TestSubscriberReceivesFromMultiplePublishersOfSameTopic(t *testing.T) {
	topic := uniqueTopic(t)

	pubA, err := NewPublisher(topic)
	if err != nil {
		t.Fatalf("NewPublisher A: %v", err)
	}
	defer pubA.Close()
	pubB, err := NewPublisher(topic)
	if err != nil {
		t.Fatalf("NewPublisher B: %v", err)
	}
	defer pubB.Close()

	var mu sync.Mutex
	count := 0
	sub, err := NewSubscriber(topic, func(v Value) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	if !pubA.WaitForSubscribers(1, 2*time.Second) {
		t.Fatalf("subscriber never connected to publisher A")
	}
	if !pubB.WaitForSubscribers(1, 2*time.Second) {
		t.Fatalf("subscriber never connected to publisher B")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := pubA.Send(Int(1), ""); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if err := pubB.Send(Int(2), ""); err != nil {
			t.Fatalf("Send: %v", err)
		}
		mu.Lock()
		c := count
		mu.Unlock()
		if c > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		t.Fatalf("subscriber received nothing from either publisher")
	}
}

func TestSubscriberCloseIsIdempotent(t *testing.T) {
	topic := uniqueTopic(t)
	pub, err := NewPublisher(topic)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewSubscriber(topic, func(v Value) {})
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	if !pub.WaitForSubscribers(1, 2*time.Second) {
		t.Fatalf("subscriber never connected")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestSubscriberCallbackPanicDoesNotStopDispatch(t *testing.T) {
	topic := uniqueTopic(t)
	pub, err := NewPublisher(topic)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	var mu sync.Mutex
	calls := 0
	sub, err := NewSubscriber(topic, func(v Value) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
	})
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	if !pub.WaitForSubscribers(1, 2*time.Second) {
		t.Fatalf("subscriber never connected")
	}

	for i := 0; i < 2; i++ {
		if err := pub.Send(Int(int64(i)), ""); err != nil {
			t.Fatalf("Send: %v", err)
		}
		time.Sleep(150 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected dispatch to continue after the panicking callback, got %d calls", calls)
	}
}
