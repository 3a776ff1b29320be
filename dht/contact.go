package dht

import (
	"net"
	"sort"
	"strconv"
	"time"
)

// Contact is a peer as seen from the local routing table. Two contacts are
// the same peer when their ids match, whatever their address.
type Contact struct {
	ID         NodeID
	IP         string
	Port       int
	LastSeen   time.Time
	StaleCount int
}

func NewContact(id NodeID, ip string, port int) Contact {
	return Contact{
		ID:       id,
		IP:       ip,
		Port:     port,
		LastSeen: time.Now(),
	}
}

func (c Contact) Equal(other Contact) bool {
	return c.ID == other.ID
}

func (c Contact) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

func (c *Contact) SetSeenNow() {
	c.LastSeen = time.Now()
}

func (c *Contact) IncrementStale() {
	c.StaleCount++
}

func (c *Contact) ResetStale() {
	c.StaleCount = 0
}

func (c Contact) String() string {
	return c.ID.Short() + "@" + c.Addr()
}

// ContactSorter helps us sort a list of contacts by distance
type ContactSorter struct {
	contacts []Contact
	target   NodeID
}

func (s *ContactSorter) Len() int      { return len(s.contacts) }
func (s *ContactSorter) Swap(i, j int) { s.contacts[i], s.contacts[j] = s.contacts[j], s.contacts[i] }
func (s *ContactSorter) Less(i, j int) bool {
	return CompareDistance(s.contacts[i].ID, s.contacts[j].ID, s.target) < 0
}

// SortByDistance orders contacts closest to target first.
func SortByDistance(contacts []Contact, target NodeID) {
	sort.Sort(&ContactSorter{contacts: contacts, target: target})
}
