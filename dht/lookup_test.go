package dht

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

type memMetadata struct {
	files  map[string][]string
	owners map[string]Contact
	err    error
}

func newMemMetadata() *memMetadata {
	return &memMetadata{files: make(map[string][]string), owners: make(map[string]Contact)}
}

func (m *memMetadata) HasFile(fileID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.files[fileID]
	return ok, nil
}

func (m *memMetadata) GetChunks(fileID string) ([]string, error) {
	return m.files[fileID], nil
}

func (m *memMetadata) GetOwner(fileID string) (Contact, error) {
	owner, ok := m.owners[fileID]
	if !ok {
		return Contact{}, errors.New("no owner")
	}
	return owner, nil
}

// MockNetwork delivers calls straight to the handler methods of the nodes
// registered in it, the way a real transport would after decoding.
type MockNetwork struct {
	Self  Contact
	Nodes map[NodeID]*Node
	Calls []NodeID
}

func (mn *MockNetwork) FindNode(_ context.Context, to Contact, target NodeID) ([]Contact, error) {
	mn.Calls = append(mn.Calls, to.ID)
	dest, ok := mn.Nodes[to.ID]
	if !ok {
		return nil, errors.New("network: node unreachable")
	}
	dest.Store(mn.Self)
	return dest.FindNode(target, 0), nil
}

func (mn *MockNetwork) FindValue(_ context.Context, to Contact, fileID string) (FindValueResult, error) {
	mn.Calls = append(mn.Calls, to.ID)
	dest, ok := mn.Nodes[to.ID]
	if !ok {
		return FindValueResult{}, errors.New("network: node unreachable")
	}
	dest.Store(mn.Self)
	return dest.FindValue(fileID, 0)
}

type testCluster struct {
	nodes map[NodeID]*Node
	meta  map[NodeID]*memMetadata
}

func newTestCluster(t *testing.T, size int) (*testCluster, []*Node) {
	t.Helper()
	cluster := &testCluster{nodes: make(map[NodeID]*Node), meta: make(map[NodeID]*memMetadata)}
	var nodes []*Node
	for i := 0; i < size; i++ {
		id, err := NewRandomNodeID()
		if err != nil {
			t.Fatal(err)
		}
		meta := newMemMetadata()
		n := NewNode(NewContact(id, "127.0.0.1", 9000+i), NewRoutingTable(id, 20), meta)
		cluster.nodes[id] = n
		cluster.meta[id] = meta
		nodes = append(nodes, n)
	}
	return cluster, nodes
}

func (tc *testCluster) networkFor(n *Node) *MockNetwork {
	return &MockNetwork{Self: n.Self, Nodes: tc.nodes}
}

func testFileID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

func TestFindValueLocalHitAndMiss(t *testing.T) {
	cluster, nodes := newTestCluster(t, 3)
	a := nodes[0]
	a.Store(nodes[1].Self)
	a.Store(nodes[2].Self)

	fileID := testFileID("report.pdf")
	cluster.meta[a.ID()].files[fileID] = []string{"c1", "c2"}
	cluster.meta[a.ID()].owners[fileID] = a.Self

	hit, err := a.FindValue(fileID, 0)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if len(hit.ChunkIDs) != 2 || hit.Owner == nil || hit.Owner.ID != a.ID() {
		t.Fatalf("unexpected hit %+v", hit)
	}

	miss, err := a.FindValue(testFileID("other"), 0)
	if err != nil {
		t.Fatalf("FindValue miss: %v", err)
	}
	if miss.Found() || len(miss.Nodes) != 2 {
		t.Fatalf("expected miss with 2 nodes, got %+v", miss)
	}

	if _, err := a.FindValue("not-hex", 0); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
}

func TestFindValueMetadataErrorIsMiss(t *testing.T) {
	cluster, nodes := newTestCluster(t, 2)
	a := nodes[0]
	a.Store(nodes[1].Self)

	fileID := testFileID("broken")
	cluster.meta[a.ID()].files[fileID] = []string{"c1"}
	cluster.meta[a.ID()].err = errors.New("disk on fire")

	result, err := a.FindValue(fileID, 0)
	if err != nil {
		t.Fatalf("metadata failure must not surface: %v", err)
	}
	if result.Found() || len(result.Nodes) != 1 {
		t.Fatalf("expected a miss with closest nodes, got %+v", result)
	}
}

func TestIterativeFindValueDirectHit(t *testing.T) {
	cluster, nodes := newTestCluster(t, 2)
	a, b := nodes[0], nodes[1]

	fileID := testFileID("movie.mkv")
	cluster.meta[a.ID()].files[fileID] = []string{"c1", "c2", "c3"}

	net := cluster.networkFor(b)
	result, err := b.IterativeFindValueFrom(context.Background(), net, fileID, []Contact{a.Self})
	if err != nil {
		t.Fatalf("IterativeFindValueFrom: %v", err)
	}
	if result.Hops != 1 || len(net.Calls) != 1 {
		t.Fatalf("expected a single hop, got %d hops / %d calls", result.Hops, len(net.Calls))
	}
	if result.Source == nil || result.Source.ID != a.ID() {
		t.Fatalf("expected source %s, got %v", a.Self, result.Source)
	}
	if len(result.ChunkIDs) != 3 {
		t.Fatalf("expected 3 chunk ids, got %v", result.ChunkIDs)
	}
}

func TestIterativeFindValueFollowsReferrals(t *testing.T) {
	cluster, nodes := newTestCluster(t, 4)
	requester, hop1, hop2, holder := nodes[0], nodes[1], nodes[2], nodes[3]

	// requester knows hop1, hop1 knows hop2, hop2 knows holder.
	requester.Store(hop1.Self)
	hop1.Store(hop2.Self)
	hop2.Store(holder.Self)

	fileID := testFileID("deep.bin")
	cluster.meta[holder.ID()].files[fileID] = []string{"c1"}

	result, err := requester.IterativeFindValue(context.Background(), cluster.networkFor(requester), fileID)
	if err != nil {
		t.Fatalf("IterativeFindValue: %v", err)
	}
	if result.Source == nil || result.Source.ID != holder.ID() {
		t.Fatalf("expected holder to answer, got %v", result.Source)
	}
	if result.Hops != 3 {
		t.Errorf("expected 3 hops, got %d", result.Hops)
	}
}

func TestIterativeFindValueSkipsUnreachable(t *testing.T) {
	cluster, nodes := newTestCluster(t, 2)
	requester, holder := nodes[0], nodes[1]

	ghostID, _ := NewRandomNodeID()
	ghost := NewContact(ghostID, "127.0.0.1", 1)

	fileID := testFileID("survivor")
	cluster.meta[holder.ID()].files[fileID] = []string{"c1"}

	result, err := requester.IterativeFindValueFrom(context.Background(), cluster.networkFor(requester), fileID,
		[]Contact{ghost, holder.Self})
	if err != nil {
		t.Fatalf("lookup should survive an unreachable peer: %v", err)
	}
	if result.Source.ID != holder.ID() || result.Hops != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestIterativeFindValueNotFound(t *testing.T) {
	cluster, nodes := newTestCluster(t, 3)
	nodes[0].Store(nodes[1].Self)
	nodes[1].Store(nodes[2].Self)
	nodes[2].Store(nodes[1].Self)

	net := cluster.networkFor(nodes[0])
	result, err := nodes[0].IterativeFindValue(context.Background(), net, testFileID("nowhere"))
	if !errors.Is(err, ErrValueNotFound) {
		t.Fatalf("expected ErrValueNotFound, got %v", err)
	}
	// Each peer is queried exactly once even though they refer to each other.
	if result.Hops != 2 || len(net.Calls) != 2 {
		t.Fatalf("expected 2 queries, got %d hops / %d calls", result.Hops, len(net.Calls))
	}
}

func TestIterativeFindNodePopulatesRoutingTable(t *testing.T) {
	cluster, nodes := newTestCluster(t, 6)
	newcomer := nodes[0]
	bootstrap := nodes[1]
	for _, n := range nodes[2:] {
		bootstrap.Store(n.Self)
	}
	newcomer.Store(bootstrap.Self)

	closest := newcomer.IterativeFindNode(context.Background(), cluster.networkFor(newcomer), newcomer.ID())
	if len(closest) != 5 {
		t.Fatalf("expected 5 contacts from the self lookup, got %d", len(closest))
	}
	if newcomer.RoutingTable.TotalContacts() != 5 {
		t.Fatalf("expected 5 routing table entries, got %d", newcomer.RoutingTable.TotalContacts())
	}
	for i := 1; i < len(closest); i++ {
		if CompareDistance(closest[i-1].ID, closest[i].ID, newcomer.ID()) > 0 {
			t.Fatal("self lookup result not sorted by distance")
		}
	}
	// Everyone the newcomer talked to learned about it.
	for _, n := range nodes[1:] {
		if !n.RoutingTable.Contains(newcomer.ID()) {
			t.Errorf("%s did not learn the newcomer", n.Self)
		}
	}
}
