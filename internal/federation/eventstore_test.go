package federation

import (
	"errors"
	"testing"

	"github.com/cis-project/cis-core/internal/domain"
)

func TestEventStorePersistAndDetectReplay(t *testing.T) {
	store, err := NewEventStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}

	ev := domain.CisMatrixEvent{EventID: "evt-1", RoomID: "room-a", Sender: "@alice:peer.example", EventType: "m.cis.memory"}
	if err := store.Persist(ev); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	seen, err := store.Seen("evt-1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Fatal("Seen(evt-1) = false, want true after Persist")
	}

	err = store.Persist(ev)
	if !errors.Is(err, domain.ErrEventReplayed) {
		t.Fatalf("Persist of a replayed event_id = %v, want ErrEventReplayed", err)
	}
}

func TestEventStoreSeenFalseForUnknownEvent(t *testing.T) {
	store, err := NewEventStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}
	seen, err := store.Seen("never-persisted")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Fatal("Seen should be false for an event that was never persisted")
	}
}
