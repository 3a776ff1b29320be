package dht

import (
	"github.com/sirupsen/logrus"
)

// MetadataStore is the part of the local metadata persistence the query
// engine reads from.
type MetadataStore interface {
	HasFile(fileID string) (bool, error)
	GetChunks(fileID string) ([]string, error)
	GetOwner(fileID string) (Contact, error)
}

// FindValueResult is the answer to a FIND_VALUE, local or remote. A hit has
// ChunkIDs set; a miss carries the closest known Nodes instead.
type FindValueResult struct {
	ChunkIDs []string
	Owner    *Contact
	Nodes    []Contact

	// Set by the iterative lookup only.
	Source *Contact
	Hops   int
}

func (r FindValueResult) Found() bool {
	return len(r.ChunkIDs) > 0
}

// Node answers DHT queries from its routing table and metadata store. It keeps
// no state of its own.
type Node struct {
	Self         Contact
	RoutingTable *RoutingTable
	Metadata     MetadataStore
}

func NewNode(self Contact, rt *RoutingTable, metadata MetadataStore) *Node {
	return &Node{
		Self:         self,
		RoutingTable: rt,
		Metadata:     metadata,
	}
}

func (n *Node) ID() NodeID {
	return n.Self.ID
}

// FindNode returns the k closest contacts to target. k <= 0 means the table's k.
func (n *Node) FindNode(target NodeID, k int) []Contact {
	if k <= 0 {
		k = n.RoutingTable.K()
	}
	return n.RoutingTable.FindClosest(target, k)
}

// FindValue returns the chunk ids of fileID when the file is known locally,
// otherwise the k closest contacts to fileID read as a node id. A failing
// metadata read counts as a miss. The only error is ErrInvalidIdentifier, for
// a miss on a fileID that is not a valid key.
func (n *Node) FindValue(fileID string, k int) (FindValueResult, error) {
	if chunkIDs := n.localChunks(fileID); len(chunkIDs) > 0 {
		result := FindValueResult{ChunkIDs: chunkIDs}
		if owner, err := n.Metadata.GetOwner(fileID); err == nil {
			result.Owner = &owner
		}
		return result, nil
	}

	key, err := ParseNodeID(fileID)
	if err != nil {
		return FindValueResult{}, err
	}
	return FindValueResult{Nodes: n.FindNode(key, k)}, nil
}

func (n *Node) localChunks(fileID string) []string {
	if n.Metadata == nil {
		return nil
	}
	has, err := n.Metadata.HasFile(fileID)
	if err != nil {
		logrus.Warnf("[DHT] metadata lookup for %s failed, treating as miss: %v", fileID, err)
		return nil
	}
	if !has {
		return nil
	}
	chunkIDs, err := n.Metadata.GetChunks(fileID)
	if err != nil {
		logrus.Warnf("[DHT] reading chunks of %s failed, treating as miss: %v", fileID, err)
		return nil
	}
	return chunkIDs
}

// Store records the contact in the routing table. Values are persisted by the
// message handler, not here.
func (n *Node) Store(c Contact) {
	n.RoutingTable.Insert(c)
}
