package dht

import (
	"sync"
)

// KBucket holds at most k contacts ordered least recently seen (head) to
// most recently seen (tail).
type KBucket struct {
	contacts []Contact
	k        int
	mutex    sync.Mutex
}

func NewKBucket(k int) *KBucket {
	return &KBucket{
		contacts: make([]Contact, 0, k),
		k:        k,
	}
}

// Insert adds or refreshes a contact.
// Logic:
// 1. If contact exists -> Move to tail, take the new address, reset stale count.
// 2. If not exists and has space -> Add to tail.
// 3. If full -> Evict the head (least recently seen) and add to tail.
//
// The evicted contact is returned so the caller can log it.
func (kb *KBucket) Insert(c Contact) (evicted *Contact) {
	kb.mutex.Lock()
	defer kb.mutex.Unlock()

	c.SetSeenNow()
	c.ResetStale()

	if i := kb.indexOf(c.ID); i >= 0 {
		kb.contacts = append(kb.contacts[:i], kb.contacts[i+1:]...)
		kb.contacts = append(kb.contacts, c)
		return nil
	}

	if len(kb.contacts) >= kb.k {
		head := kb.contacts[0]
		evicted = &head
		kb.contacts = append(kb.contacts[:0], kb.contacts[1:]...)
	}
	kb.contacts = append(kb.contacts, c)
	return evicted
}

func (kb *KBucket) Contains(c Contact) bool {
	kb.mutex.Lock()
	defer kb.mutex.Unlock()
	return kb.indexOf(c.ID) >= 0
}

func (kb *KBucket) Remove(c Contact) bool {
	kb.mutex.Lock()
	defer kb.mutex.Unlock()

	i := kb.indexOf(c.ID)
	if i < 0 {
		return false
	}
	kb.contacts = append(kb.contacts[:i], kb.contacts[i+1:]...)
	return true
}

// MarkStale bumps the stale count of id and returns the new count, or -1 if
// the bucket does not hold id.
func (kb *KBucket) MarkStale(id NodeID) int {
	kb.mutex.Lock()
	defer kb.mutex.Unlock()

	i := kb.indexOf(id)
	if i < 0 {
		return -1
	}
	kb.contacts[i].IncrementStale()
	return kb.contacts[i].StaleCount
}

// Contacts returns a safe copy of the contacts in this bucket
func (kb *KBucket) Contacts() []Contact {
	kb.mutex.Lock()
	defer kb.mutex.Unlock()

	snapshot := make([]Contact, len(kb.contacts))
	copy(snapshot, kb.contacts)
	return snapshot
}

// Len returns the number of contacts in the bucket
func (kb *KBucket) Len() int {
	kb.mutex.Lock()
	defer kb.mutex.Unlock()
	return len(kb.contacts)
}

func (kb *KBucket) indexOf(id NodeID) int {
	for i, existing := range kb.contacts {
		if existing.ID == id {
			return i
		}
	}
	return -1
}
