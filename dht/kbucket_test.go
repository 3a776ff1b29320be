package dht

import (
	"sync"
	"testing"
)

// Helper to create a contact whose id starts with the given bytes
func createDummyContact(prefix ...byte) Contact {
	var id NodeID
	copy(id[:], prefix)
	return NewContact(id, "127.0.0.1", 3000)
}

func TestKBucketEvictsLeastRecentlySeen(t *testing.T) {
	const k = 4
	kb := NewKBucket(k)

	var contacts []Contact
	for i := 0; i <= k; i++ {
		contacts = append(contacts, createDummyContact(byte(i+1)))
	}

	for _, c := range contacts[:k] {
		if evicted := kb.Insert(c); evicted != nil {
			t.Fatalf("unexpected eviction of %s while bucket has space", evicted)
		}
	}

	evicted := kb.Insert(contacts[k])
	if evicted == nil || evicted.ID != contacts[0].ID {
		t.Fatalf("expected %s to be evicted, got %v", contacts[0], evicted)
	}
	if kb.Len() != k {
		t.Fatalf("expected %d contacts, got %d", k, kb.Len())
	}
	if kb.Contains(contacts[0]) {
		t.Error("evicted contact is still present")
	}
	for _, c := range contacts[1:] {
		if !kb.Contains(c) {
			t.Errorf("expected %s to be present", c)
		}
	}
}

func TestKBucketReinsertMovesToTail(t *testing.T) {
	kb := NewKBucket(3)
	a := createDummyContact(1)
	b := createDummyContact(2)
	c := createDummyContact(3)
	kb.Insert(a)
	kb.Insert(b)
	kb.Insert(c)

	a.Port = 4000
	if evicted := kb.Insert(a); evicted != nil {
		t.Fatalf("refresh must not evict, evicted %s", evicted)
	}
	if kb.Len() != 3 {
		t.Fatalf("expected size 3 after refresh, got %d", kb.Len())
	}

	contacts := kb.Contacts()
	if contacts[2].ID != a.ID {
		t.Errorf("refreshed contact should be most recently seen, got %s", contacts[2])
	}
	if contacts[2].Port != 4000 {
		t.Errorf("refresh should take the new address, got port %d", contacts[2].Port)
	}
	if contacts[0].ID != b.ID {
		t.Errorf("expected %s at the head, got %s", b, contacts[0])
	}

	// The next insert into a full bucket now evicts b, not a.
	evicted := kb.Insert(createDummyContact(4))
	if evicted == nil || evicted.ID != b.ID {
		t.Errorf("expected %s to be evicted, got %v", b, evicted)
	}
}

func TestKBucketContactsIsSnapshot(t *testing.T) {
	kb := NewKBucket(2)
	kb.Insert(createDummyContact(1))

	snapshot := kb.Contacts()
	snapshot[0].Port = 1

	if kb.Contacts()[0].Port == 1 {
		t.Error("Contacts() must not alias the bucket's internal state")
	}
}

func TestKBucketRemoveAndMarkStale(t *testing.T) {
	kb := NewKBucket(2)
	a := createDummyContact(1)
	kb.Insert(a)

	if got := kb.MarkStale(a.ID); got != 1 {
		t.Errorf("expected stale count 1, got %d", got)
	}
	if got := kb.MarkStale(createDummyContact(9).ID); got != -1 {
		t.Errorf("expected -1 for unknown id, got %d", got)
	}

	kb.Insert(a)
	if kb.Contacts()[0].StaleCount != 0 {
		t.Error("insert should reset the stale count")
	}

	if !kb.Remove(a) {
		t.Fatal("expected Remove to report success")
	}
	if kb.Remove(a) {
		t.Fatal("second Remove should report false")
	}
	if kb.Len() != 0 {
		t.Fatalf("expected empty bucket, got %d", kb.Len())
	}
}

func TestKBucketConcurrentInserts(t *testing.T) {
	const k = 8
	kb := NewKBucket(k)

	var wg sync.WaitGroup
	for worker := 0; worker < 16; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				// Overlapping ids across workers exercise refresh and eviction together.
				kb.Insert(createDummyContact(byte((worker*7 + i) % 40)))
			}
		}(worker)
	}
	wg.Wait()

	contacts := kb.Contacts()
	if len(contacts) > k {
		t.Fatalf("bucket exceeded capacity: %d > %d", len(contacts), k)
	}
	seen := make(map[NodeID]bool)
	for _, c := range contacts {
		if seen[c.ID] {
			t.Fatalf("duplicate id %s in bucket", c.ID)
		}
		seen[c.ID] = true
	}
}
