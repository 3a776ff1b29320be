package dht

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kutluhann/decen-dht/constants"
)

// RoutingTable holds 256 k-buckets.
// Bucket i holds the contacts whose XOR distance to the local id has its
// first set bit at position i, counting from the most significant bit:
// - Bucket 0:   Distance [2^255, 2^256) (Furthest nodes)
// - Bucket 255: Distance [2^0, 2^1)     (Closest nodes)
type RoutingTable struct {
	local   NodeID
	k       int
	buckets [constants.IDBits]*KBucket
}

func NewRoutingTable(local NodeID, k int) *RoutingTable {
	if k <= 0 {
		k = constants.K
	}
	rt := &RoutingTable{
		local: local,
		k:     k,
	}
	for i := range rt.buckets {
		rt.buckets[i] = NewKBucket(k)
	}
	return rt
}

func (rt *RoutingTable) LocalID() NodeID { return rt.local }

func (rt *RoutingTable) K() int { return rt.k }

// BucketIndex returns the bucket responsible for id. The local id maps to
// bucket 0.
func (rt *RoutingTable) BucketIndex(id NodeID) int {
	if id == rt.local {
		return 0
	}
	return rt.local.DistanceClass(id)
}

// Insert adds or refreshes a contact. Zero ids and the local node are ignored.
func (rt *RoutingTable) Insert(c Contact) {
	// Don't add ourselves!
	if c.ID.IsZero() || c.ID == rt.local {
		return
	}

	index := rt.BucketIndex(c.ID)
	if evicted := rt.buckets[index].Insert(c); evicted != nil {
		logrus.Debugf("[ROUTING] bucket %d full, evicted %s for %s", index, evicted, c)
	}
}

func (rt *RoutingTable) Remove(id NodeID) bool {
	return rt.buckets[rt.BucketIndex(id)].Remove(Contact{ID: id})
}

// MarkFailed records a failed exchange with id. A contact that fails
// MaxStaleCount times in a row is removed.
func (rt *RoutingTable) MarkFailed(id NodeID) {
	bucket := rt.buckets[rt.BucketIndex(id)]
	count := bucket.MarkStale(id)
	if count >= constants.MaxStaleCount {
		bucket.Remove(Contact{ID: id})
		logrus.Infof("[ROUTING] removed %s after %d failed exchanges", id.Short(), count)
	}
}

func (rt *RoutingTable) Contains(id NodeID) bool {
	return rt.buckets[rt.BucketIndex(id)].Contains(Contact{ID: id})
}

// FindClosest returns up to count contacts sorted by XOR distance to target.
// Every bucket is scanned: the table holds at most 256*k contacts.
func (rt *RoutingTable) FindClosest(target NodeID, count int) []Contact {
	candidates := rt.AllContacts()
	SortByDistance(candidates, target)

	if count >= 0 && len(candidates) > count {
		return candidates[:count]
	}
	return candidates
}

func (rt *RoutingTable) AllContacts() []Contact {
	var all []Contact
	for _, b := range rt.buckets {
		all = append(all, b.Contacts()...)
	}
	return all
}

func (rt *RoutingTable) TotalContacts() int {
	total := 0
	for _, b := range rt.buckets {
		total += b.Len()
	}
	return total
}

// BucketInfo describes one non-empty bucket for dumps.
type BucketInfo struct {
	Index    int       `json:"index"`
	Contacts []Contact `json:"contacts"`
}

// Buckets returns the non-empty buckets in index order.
func (rt *RoutingTable) Buckets() []BucketInfo {
	var infos []BucketInfo
	for i, b := range rt.buckets {
		if contacts := b.Contacts(); len(contacts) > 0 {
			infos = append(infos, BucketInfo{Index: i, Contacts: contacts})
		}
	}
	return infos
}

func (rt *RoutingTable) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Routing table of %s (%d contacts)\n", rt.local, rt.TotalContacts())
	for _, info := range rt.Buckets() {
		fmt.Fprintf(&sb, "  bucket %3d:\n", info.Index)
		for _, c := range info.Contacts {
			fmt.Fprintf(&sb, "    %s %s last seen %s\n", c.ID, c.Addr(), c.LastSeen.Format("15:04:05"))
		}
	}
	return sb.String()
}
