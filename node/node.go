package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	ecies "github.com/ecies/go/v2"
	"github.com/sirupsen/logrus"

	"github.com/kutluhann/decen-dht/config"
	"github.com/kutluhann/decen-dht/dht"
	"github.com/kutluhann/decen-dht/id_tools"
	"github.com/kutluhann/decen-dht/network"
	"github.com/kutluhann/decen-dht/storage"
	"github.com/kutluhann/decen-dht/transfer"
)

const bootstrapMaxElapsed = 30 * time.Second

// Node wires identity, storage, routing, transport and file transfer into a
// running peer.
type Node struct {
	cfg  *config.Config
	key  *ecies.PrivateKey
	self dht.Contact

	dht      *dht.Node
	chunks   *storage.ChunkStore
	metadata *storage.MetadataStore
	server   *network.Server
	client   *network.Client
	manager  *transfer.Manager
}

// New builds a node from cfg. The listener is bound here so that a zero
// port resolves before the node id and contact are published.
func New(cfg *config.Config) (*Node, error) {
	cfg.ResolveDataDir()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	key, pid, err := id_tools.LoadOrCreate(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	if !id_tools.VerifyIdentity(key, pid) {
		return nil, errors.New("identity verification failed")
	}

	server, err := network.Listen("", cfg.Port, cfg.MaxConcurrentHandlers, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	self := dht.NewContact(dht.NodeID(pid), cfg.AdvertiseHost, server.Port())

	chunks, err := storage.NewChunkStore(filepath.Join(cfg.DataDir, "chunks"))
	if err != nil {
		server.Close()
		return nil, err
	}
	metadata, err := storage.NewMetadataStore(filepath.Join(cfg.DataDir, "metadata.db"))
	if err != nil {
		server.Close()
		return nil, err
	}

	rt := dht.NewRoutingTable(self.ID, cfg.K)
	dhtNode := dht.NewNode(self, rt, metadata)
	client := network.NewClient(self, cfg.RequestTimeout)
	client.Observe(rt.Insert, rt.MarkFailed)

	manager := transfer.NewManager(dhtNode, client, chunks, metadata, key, transfer.Options{
		ChunkSize:       cfg.ChunkSize,
		ReplicateChunks: cfg.ReplicateChunks,
	})

	logrus.Infof("[NODE] initialized %s at %s, data in %s", self.ID, self.Addr(), cfg.DataDir)
	return &Node{
		cfg:      cfg,
		key:      key,
		self:     self,
		dht:      dhtNode,
		chunks:   chunks,
		metadata: metadata,
		server:   server,
		client:   client,
		manager:  manager,
	}, nil
}

// Start serves peer requests until Close.
func (n *Node) Start() error {
	dispatcher := network.NewDispatcher(n.dht, n.chunks, n.metadata, n.key)
	return n.server.Serve(n.self, dispatcher)
}

func (n *Node) Self() dht.Contact {
	return n.self
}

func (n *Node) ID() dht.NodeID {
	return n.self.ID
}

// Bootstrap joins the network through the peer at host:port: FIND_NODE for
// our own id (retried with backoff), then a self-lookup to fill the buckets
// close to us.
func (n *Node) Bootstrap(ctx context.Context, host string, port int) error {
	addr := dht.Contact{IP: host, Port: port}
	logrus.Infof("[BOOTSTRAP] connecting to %s", addr.Addr())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = bootstrapMaxElapsed

	var responder dht.Contact
	err := backoff.Retry(func() error {
		var err error
		responder, _, err = n.client.FindNodeFrom(ctx, addr, n.self.ID)
		if err != nil {
			logrus.Debugf("[BOOTSTRAP] %s: %v", addr.Addr(), err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("bootstrap via %s: %w", addr.Addr(), err)
	}
	logrus.Infof("[BOOTSTRAP] bootstrap node is %s", responder)

	closest := n.dht.IterativeFindNode(ctx, n.client, n.self.ID)
	logrus.Infof("[BOOTSTRAP] done, %d nodes close to self, %d contacts known",
		len(closest), n.dht.RoutingTable.TotalContacts())
	return nil
}

// StoreFile encrypts and publishes the file at path and returns its id.
func (n *Node) StoreFile(ctx context.Context, path string) (string, error) {
	return n.manager.Store(ctx, path)
}

// FetchFile retrieves fileID from the network into outputPath.
func (n *Node) FetchFile(ctx context.Context, fileID, outputPath string) error {
	return n.manager.Fetch(ctx, fileID, outputPath)
}

// Files lists the file records this node holds.
func (n *Node) Files() ([]storage.FileInfo, error) {
	return n.metadata.ListFiles()
}

func (n *Node) ChunkCount() (int, error) {
	return n.chunks.Count()
}

func (n *Node) KnownPeers() int {
	return n.dht.RoutingTable.TotalContacts()
}

func (n *Node) Buckets() []dht.BucketInfo {
	return n.dht.RoutingTable.Buckets()
}

// Routes renders the routing table for the console.
func (n *Node) Routes() string {
	return n.dht.RoutingTable.String()
}

func (n *Node) Close() error {
	return errors.Join(n.server.Close(), n.metadata.Close())
}
