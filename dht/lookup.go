package dht

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

var ErrValueNotFound = errors.New("value not found")

// Network is what the lookups need from the transport. The lookup code does
// not care whether it talks TCP or to an in-memory fake.
type Network interface {
	FindNode(ctx context.Context, to Contact, target NodeID) ([]Contact, error)
	FindValue(ctx context.Context, to Contact, fileID string) (FindValueResult, error)
}

// IterativeFindValue walks the network for fileID starting from the k closest
// contacts in the local routing table.
func (n *Node) IterativeFindValue(ctx context.Context, network Network, fileID string) (FindValueResult, error) {
	key, err := ParseNodeID(fileID)
	if err != nil {
		return FindValueResult{}, err
	}
	seeds := n.RoutingTable.FindClosest(key, n.RoutingTable.K())
	return n.IterativeFindValueFrom(ctx, network, fileID, seeds)
}

// IterativeFindValueFrom runs the lookup with an explicit starting shortlist.
// Candidates are queried one at a time in the order they were learned; the
// first response carrying chunk ids ends the lookup. Unreachable candidates
// are skipped.
func (n *Node) IterativeFindValueFrom(ctx context.Context, network Network, fileID string, seeds []Contact) (FindValueResult, error) {
	var shortlist []Contact
	known := make(map[NodeID]bool)
	queried := make(map[NodeID]bool)

	enqueue := func(contacts []Contact) {
		for _, c := range contacts {
			if c.ID == n.ID() || c.ID.IsZero() || known[c.ID] {
				continue
			}
			known[c.ID] = true
			shortlist = append(shortlist, c)
		}
	}
	enqueue(seeds)

	hops := 0
	for len(shortlist) > 0 {
		if err := ctx.Err(); err != nil {
			return FindValueResult{Hops: hops}, err
		}

		candidate := shortlist[0]
		shortlist = shortlist[1:]
		if queried[candidate.ID] {
			continue
		}
		queried[candidate.ID] = true
		hops++

		logrus.Debugf("[LOOKUP] FIND_VALUE %s -> %s", shortID(fileID), candidate)
		result, err := network.FindValue(ctx, candidate, fileID)
		if err != nil {
			logrus.Debugf("[LOOKUP] %s unreachable, skipping: %v", candidate, err)
			continue
		}

		if result.Found() {
			logrus.Infof("[LOOKUP] found %s at %s after %d hops", shortID(fileID), candidate, hops)
			result.Source = &candidate
			result.Hops = hops
			return result, nil
		}
		enqueue(result.Nodes)
	}

	return FindValueResult{Hops: hops}, ErrValueNotFound
}

// LookupState manages the list of candidates during a node lookup.
type LookupState struct {
	Target    NodeID
	Shortlist []Contact       // Every node we know about in this search
	Contacted map[NodeID]bool // Keeps track of who we already queried
}

func NewLookupState(target NodeID, initialNodes []Contact) *LookupState {
	state := &LookupState{
		Target:    target,
		Shortlist: make([]Contact, 0),
		Contacted: make(map[NodeID]bool),
	}
	state.Append(initialNodes)
	return state
}

// Append adds new contacts to the shortlist if they aren't already there.
func (ls *LookupState) Append(contacts []Contact) {
	for _, c := range contacts {
		exists := false
		for _, existing := range ls.Shortlist {
			if existing.ID == c.ID {
				exists = true
				break
			}
		}
		if !exists {
			ls.Shortlist = append(ls.Shortlist, c)
		}
	}
	SortByDistance(ls.Shortlist, ls.Target)
}

// PickNextBest returns the closest node that has NOT been queried yet.
func (ls *LookupState) PickNextBest() *Contact {
	for i := range ls.Shortlist {
		c := &ls.Shortlist[i]
		if !ls.Contacted[c.ID] {
			return c
		}
	}
	return nil
}

// MarkContacted records that we have queried this node.
func (ls *LookupState) MarkContacted(id NodeID) {
	ls.Contacted[id] = true
}

// IterativeFindNode crawls the network toward target, closest candidate
// first, until no unqueried candidate is left. Contacts that answer are
// added to the routing table. It returns the k closest contacts that
// answered.
func (n *Node) IterativeFindNode(ctx context.Context, network Network, target NodeID) []Contact {
	k := n.RoutingTable.K()
	state := NewLookupState(target, n.withoutSelf(n.RoutingTable.FindClosest(target, k)))
	failed := make(map[NodeID]bool)

	for {
		if ctx.Err() != nil {
			break
		}

		candidate := state.PickNextBest()
		if candidate == nil {
			break
		}
		peer := *candidate
		state.MarkContacted(peer.ID)

		logrus.Debugf("[LOOKUP] FIND_NODE %s -> %s", target.Short(), peer)
		newNodes, err := network.FindNode(ctx, peer, target)
		if err != nil {
			failed[peer.ID] = true
			continue
		}

		// They replied, so they are alive.
		n.RoutingTable.Insert(peer)
		state.Append(n.withoutSelf(newNodes))

		for _, received := range newNodes {
			if received.ID == target && target != n.ID() {
				return []Contact{received}
			}
		}
	}

	var closest []Contact
	for _, c := range state.Shortlist {
		if state.Contacted[c.ID] && !failed[c.ID] {
			closest = append(closest, c)
		}
	}
	if len(closest) > k {
		closest = closest[:k]
	}
	return closest
}

func (n *Node) withoutSelf(contacts []Contact) []Contact {
	filtered := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		if c.ID != n.ID() && !c.ID.IsZero() {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func shortID(fileID string) string {
	if len(fileID) > 16 {
		return fileID[:16]
	}
	return fileID
}
