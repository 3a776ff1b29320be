package network

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ecies "github.com/ecies/go/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kutluhann/decen-dht/crypto"
	"github.com/kutluhann/decen-dht/dht"
	"github.com/kutluhann/decen-dht/id_tools"
	"github.com/kutluhann/decen-dht/storage"
)

type testPeer struct {
	key        *ecies.PrivateKey
	self       dht.Contact
	node       *dht.Node
	chunks     *storage.ChunkStore
	metadata   *storage.MetadataStore
	dispatcher *Dispatcher
	server     *Server
	client     *Client
}

// newTestPeer builds a full peer listening on a loopback port.
func newTestPeer(t *testing.T) *testPeer {
	t.Helper()

	key, pid, err := id_tools.GenerateNewPID()
	if err != nil {
		t.Fatalf("GenerateNewPID: %v", err)
	}
	server, err := Listen("127.0.0.1", 0, 16, 2*time.Second)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	self := dht.NewContact(dht.NodeID(pid), "127.0.0.1", server.Port())

	dir := t.TempDir()
	metadata, err := storage.NewMetadataStore(filepath.Join(dir, "metadata.db"))
	if err != nil {
		t.Fatalf("NewMetadataStore: %v", err)
	}
	chunks, err := storage.NewChunkStore(filepath.Join(dir, "chunks"))
	if err != nil {
		t.Fatalf("NewChunkStore: %v", err)
	}

	rt := dht.NewRoutingTable(self.ID, 20)
	node := dht.NewNode(self, rt, metadata)
	dispatcher := NewDispatcher(node, chunks, metadata, key)
	client := NewClient(self, 2*time.Second)
	client.Observe(rt.Insert, rt.MarkFailed)

	go server.Serve(self, dispatcher)
	t.Cleanup(func() {
		server.Close()
		metadata.Close()
	})

	return &testPeer{
		key:        key,
		self:       self,
		node:       node,
		chunks:     chunks,
		metadata:   metadata,
		dispatcher: dispatcher,
		server:     server,
		client:     client,
	}
}

func TestDispatcher_UnknownTypeIsError(t *testing.T) {
	p := newTestPeer(t)

	for _, typ := range []MessageType{UNKNOWN, CHUNK_RESPONSE, MessageType(42)} {
		resp := p.dispatcher.Handle(context.Background(), &Message{Type: typ})
		if resp.Type != ERROR || resp.Error == nil {
			t.Errorf("%s: expected ERROR, got %s", typ, resp.Type)
		}
	}
}

func TestDispatcher_KeyRequestMiss(t *testing.T) {
	p := newTestPeer(t)
	requester, _, _ := id_tools.GenerateNewPID()

	resp := p.dispatcher.Handle(context.Background(),
		NewKeyRequest(crypto.FileID("unknown.txt"), requester.PublicKey.Bytes(true)))
	if resp.Type != ERROR || !strings.Contains(resp.Error.Reason, "key not found") {
		t.Fatalf("expected ERROR key not found, got %+v", resp)
	}
}

func TestDispatcher_PassiveLearning(t *testing.T) {
	p := newTestPeer(t)
	id, _ := dht.NewRandomNodeID()
	sender := dht.NewContact(id, "127.0.0.1", 12345)

	before := testutil.ToFloat64(handledRequests.WithLabelValues("FIND_NODE"))

	req := NewFindNodeRequest(id)
	req.Sender = FromContact(sender)
	resp := p.dispatcher.Handle(context.Background(), req)
	if resp.Type != FIND_NODE_RESPONSE {
		t.Fatalf("expected FIND_NODE_RESPONSE, got %s", resp.Type)
	}
	if !p.node.RoutingTable.Contains(id) {
		t.Fatal("sender was not added to the routing table")
	}
	// The sender is now the only known contact.
	if len(resp.Nodes.Contacts) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(resp.Nodes.Contacts))
	}

	if after := testutil.ToFloat64(handledRequests.WithLabelValues("FIND_NODE")); after != before+1 {
		t.Errorf("handled counter: expected %v, got %v", before+1, after)
	}
}

func TestDispatcher_StoreChunkVerifiesHash(t *testing.T) {
	p := newTestPeer(t)
	data := []byte("ciphertext")

	resp := p.dispatcher.Handle(context.Background(), NewStoreChunkRequest(crypto.HashHex([]byte("other")), data))
	if resp.Type != ERROR {
		t.Fatalf("expected ERROR for hash mismatch, got %s", resp.Type)
	}

	resp = p.dispatcher.Handle(context.Background(), NewStoreChunkRequest(crypto.HashHex(data), data))
	if resp.Type != STORE_CHUNK {
		t.Fatalf("expected STORE_CHUNK ack, got %s", resp.Type)
	}
	if !p.chunks.Has(crypto.HashHex(data)) {
		t.Fatal("chunk was not persisted")
	}
}

func TestDispatcher_StoreKeepsOwnedRecord(t *testing.T) {
	p := newTestPeer(t)
	fileID := crypto.FileID("notes.txt")
	ours := []string{crypto.HashHex([]byte("a")), crypto.HashHex([]byte("b"))}

	if err := p.metadata.PutFile(fileID, ours); err != nil {
		t.Fatal(err)
	}
	if err := p.metadata.PutOwner(fileID, p.self); err != nil {
		t.Fatal(err)
	}
	if err := p.metadata.PutKey(fileID, []byte("0123456789abcdef0123456789abcdef")); err != nil {
		t.Fatal(err)
	}

	otherID, _ := dht.NewRandomNodeID()
	other := dht.NewContact(otherID, "127.0.0.1", 12345)
	resp := p.dispatcher.Handle(context.Background(),
		NewStoreRequest(fileID, []string{crypto.HashHex([]byte("c"))}, &other))
	if resp.Type != STORE {
		t.Fatalf("expected STORE ack, got %s", resp.Type)
	}

	got, err := p.metadata.GetChunks(fileID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(ours) || got[0] != ours[0] || got[1] != ours[1] {
		t.Fatalf("owned record was replaced: %v", got)
	}
	owner, err := p.metadata.GetOwner(fileID)
	if err != nil || owner.ID != p.self.ID {
		t.Fatalf("owner changed to %v (%v)", owner, err)
	}
}
