package scheduler

import "testing"

func TestReadyNotifyCoalescesRepeatedSignals(t *testing.T) {
	n := NewReadyNotify()
	n.Signal()
	n.Signal()
	n.Signal()

	select {
	case <-n.Wait():
	default:
		t.Fatal("expected a pending signal")
	}

	select {
	case <-n.Wait():
		t.Fatal("expected the three signals to have coalesced into one")
	default:
	}
}

func TestCompletionNotifierBroadcastsToAllSubscribers(t *testing.T) {
	n := NewCompletionNotifier()
	a := n.Subscribe("run-1")
	b := n.Subscribe("run-1")

	n.Broadcast("run-1")

	if _, ok := <-a; ok {
		t.Fatal("expected subscriber a's channel to be closed")
	}
	if _, ok := <-b; ok {
		t.Fatal("expected subscriber b's channel to be closed")
	}
}

func TestErrorNotifierDeliversError(t *testing.T) {
	n := NewErrorNotifier()
	ch := n.Subscribe("run-1")
	n.Broadcast("run-1", errBoom)

	if err := <-ch; err != errBoom {
		t.Fatalf("got %v, want errBoom", err)
	}
}
