package transfer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	ecies "github.com/ecies/go/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kutluhann/decen-dht/crypto"
	"github.com/kutluhann/decen-dht/dht"
	"github.com/kutluhann/decen-dht/id_tools"
	"github.com/kutluhann/decen-dht/network"
	"github.com/kutluhann/decen-dht/storage"
)

var (
	ErrFileNotFound     = errors.New("file not found")
	ErrChunkUnavailable = errors.New("chunk unavailable")
	ErrKeyExchange      = errors.New("key exchange failed")
	ErrEmptyFile        = errors.New("empty file")
)

// Transport is the outbound side of the peer protocol.
type Transport interface {
	dht.Network
	Store(ctx context.Context, to dht.Contact, fileID string, chunkIDs []string, owner *dht.Contact) error
	StoreChunk(ctx context.Context, to dht.Contact, chunkID string, data []byte) error
	GetChunk(ctx context.Context, to dht.Contact, chunkID string) ([]byte, error)
	RequestKey(ctx context.Context, to dht.Contact, fileID string, publicKey []byte) (*network.KeyResponsePayload, dht.Contact, error)
}

type ChunkStore interface {
	Put(id string, data []byte) error
	Get(id string) ([]byte, error)
}

type MetadataStore interface {
	PutFile(fileID string, chunkIDs []string) error
	HasFile(fileID string) (bool, error)
	GetChunks(fileID string) ([]string, error)
	PutKey(fileID string, key []byte) error
	GetKey(fileID string) ([]byte, error)
	PutOwner(fileID string, owner dht.Contact) error
	GetOwner(fileID string) (dht.Contact, error)
}

type Options struct {
	ChunkSize int
	// Push every chunk to the peers that accepted the STORE announce.
	ReplicateChunks bool
}

// Manager stores files into the network and fetches them back.
type Manager struct {
	node       *dht.Node
	transport  Transport
	chunks     ChunkStore
	metadata   MetadataStore
	privateKey *ecies.PrivateKey
	opts       Options
}

func NewManager(node *dht.Node, transport Transport, chunks ChunkStore, metadata MetadataStore, privateKey *ecies.PrivateKey, opts Options) *Manager {
	return &Manager{
		node:       node,
		transport:  transport,
		chunks:     chunks,
		metadata:   metadata,
		privateKey: privateKey,
		opts:       opts,
	}
}

// Store encrypts the file at path under a fresh key, keeps chunks, record
// and key locally and announces the record to the closest known peers. It
// returns the file id (hash of the file name).
func (m *Manager) Store(ctx context.Context, path string) (string, error) {
	fileID := crypto.FileID(filepath.Base(path))

	pieces, err := storage.Split(path, m.opts.ChunkSize)
	if err != nil {
		return "", err
	}
	if len(pieces) == 0 {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}

	chunkIDs := make([]string, 0, len(pieces))
	blobs := make([][]byte, 0, len(pieces))
	for i, piece := range pieces {
		blob, err := crypto.EncryptChunk(key, piece)
		if err != nil {
			return "", fmt.Errorf("encrypt chunk %d: %w", i, err)
		}
		id := crypto.HashHex(blob)
		if err := m.chunks.Put(id, blob); err != nil {
			return "", err
		}
		chunkIDs = append(chunkIDs, id)
		blobs = append(blobs, blob)
	}

	if err := m.metadata.PutFile(fileID, chunkIDs); err != nil {
		return "", err
	}
	if err := m.metadata.PutOwner(fileID, m.node.Self); err != nil {
		return "", err
	}
	if err := m.metadata.PutKey(fileID, key); err != nil {
		return "", err
	}
	logrus.Infof("[STORE] %s stored locally as %s (%d chunks)", filepath.Base(path), fileID, len(chunkIDs))

	accepted := m.announce(ctx, fileID, chunkIDs)
	if m.opts.ReplicateChunks {
		m.replicate(ctx, accepted, chunkIDs, blobs)
	}
	return fileID, nil
}

// announce sends STORE to the k closest known contacts. Failures are logged
// per peer; the peers that accepted are returned.
func (m *Manager) announce(ctx context.Context, fileID string, chunkIDs []string) []dht.Contact {
	key, _ := dht.ParseNodeID(fileID)
	targets := m.node.FindNode(key, 0)
	if len(targets) == 0 {
		logrus.Infof("[STORE] no known peers, %s is only held locally", fileID)
		return nil
	}

	var (
		mu       sync.Mutex
		accepted []dht.Contact
		g        errgroup.Group
	)
	owner := m.node.Self
	for _, peer := range targets {
		g.Go(func() error {
			if err := m.transport.Store(ctx, peer, fileID, chunkIDs, &owner); err != nil {
				logrus.Warnf("[STORE] announce to %s failed: %v", peer, err)
				return nil
			}
			mu.Lock()
			accepted = append(accepted, peer)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	logrus.Infof("[STORE] %s announced to %d/%d peers", fileID, len(accepted), len(targets))
	return accepted
}

func (m *Manager) replicate(ctx context.Context, peers []dht.Contact, chunkIDs []string, blobs [][]byte) {
	var g errgroup.Group
	for _, peer := range peers {
		g.Go(func() error {
			for i, id := range chunkIDs {
				if err := m.transport.StoreChunk(ctx, peer, id, blobs[i]); err != nil {
					logrus.Warnf("[STORE] replicating chunk %d to %s failed: %v", i, peer, err)
					return nil
				}
			}
			return nil
		})
	}
	g.Wait()
}

// Fetch resolves fileID, collects every chunk, obtains the key from the owner
// and writes the decrypted file to outputPath.
func (m *Manager) Fetch(ctx context.Context, fileID, outputPath string) error {
	key, err := dht.ParseNodeID(fileID)
	if err != nil {
		return err
	}
	// Records, chunk lookups and key wrapping all use the lowercase form.
	fileID = key.String()

	chunkIDs, owner, source, err := m.resolve(ctx, fileID)
	if err != nil {
		return err
	}

	peers := m.chunkPeers(ctx, key, owner, source)
	blobs := make([][]byte, len(chunkIDs))
	for i, chunkID := range chunkIDs {
		blob, err := m.chunks.Get(chunkID)
		if err == nil {
			blobs[i] = blob
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		blob, err = m.fetchChunk(ctx, peers, chunkID)
		if err != nil {
			return fmt.Errorf("chunk %d of %s: %w", i, fileID, err)
		}
		if err := m.chunks.Put(chunkID, blob); err != nil {
			logrus.Warnf("[FETCH] caching chunk %s failed: %v", chunkID, err)
		}
		blobs[i] = blob
	}

	symKey, err := m.fileKey(ctx, fileID, owner)
	if err != nil {
		return err
	}

	plain := make([][]byte, len(blobs))
	for i, blob := range blobs {
		plain[i], err = crypto.DecryptChunk(symKey, blob)
		if err != nil {
			return fmt.Errorf("decrypt chunk %d of %s: %w", i, fileID, err)
		}
	}

	if err := storage.Join(plain, outputPath); err != nil {
		return err
	}
	logrus.Infof("[FETCH] %s written to %s (%d chunks)", fileID, outputPath, len(chunkIDs))
	return nil
}

// resolve finds the chunk ids and owner of fileID, locally first and then
// with an iterative lookup.
func (m *Manager) resolve(ctx context.Context, fileID string) ([]string, *dht.Contact, *dht.Contact, error) {
	if has, err := m.metadata.HasFile(fileID); err == nil && has {
		chunkIDs, err := m.metadata.GetChunks(fileID)
		if err != nil {
			return nil, nil, nil, err
		}
		var owner *dht.Contact
		if o, err := m.metadata.GetOwner(fileID); err == nil {
			owner = &o
		}
		return chunkIDs, owner, nil, nil
	}

	result, err := m.node.IterativeFindValue(ctx, m.transport, fileID)
	if errors.Is(err, dht.ErrValueNotFound) {
		return nil, nil, nil, fmt.Errorf("%s: %w", fileID, ErrFileNotFound)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	owner := result.Owner
	if owner == nil {
		// Records announced without an owner are answered by the owner itself.
		owner = result.Source
	}
	return result.ChunkIDs, owner, result.Source, nil
}

// chunkPeers is the set GET_CHUNK is broadcast to: what the answering peer
// knows about the file key, plus owner, answering peer and our own closest
// contacts.
func (m *Manager) chunkPeers(ctx context.Context, key dht.NodeID, owner, source *dht.Contact) []dht.Contact {
	var candidates []dht.Contact
	if source != nil {
		if nodes, err := m.transport.FindNode(ctx, *source, key); err == nil {
			candidates = append(candidates, nodes...)
		}
		candidates = append(candidates, *source)
	}
	if owner != nil {
		candidates = append(candidates, *owner)
	}
	candidates = append(candidates, m.node.FindNode(key, 0)...)

	seen := map[dht.NodeID]bool{m.node.ID(): true}
	var peers []dht.Contact
	for _, c := range candidates {
		if c.ID.IsZero() || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		peers = append(peers, c)
	}
	return peers
}

// fetchChunk asks every peer at once and takes the first reply whose bytes
// hash to chunkID. Slower replies are ignored.
func (m *Manager) fetchChunk(ctx context.Context, peers []dht.Contact, chunkID string) ([]byte, error) {
	if len(peers) == 0 {
		return nil, fmt.Errorf("%w: no peers known", ErrChunkUnavailable)
	}

	results := make(chan []byte, len(peers))
	var g errgroup.Group
	for _, peer := range peers {
		g.Go(func() error {
			data, err := m.transport.GetChunk(ctx, peer, chunkID)
			if err != nil {
				logrus.Debugf("[FETCH] %s from %s: %v", chunkID, peer, err)
				return nil
			}
			if crypto.HashHex(data) != chunkID {
				logrus.Warnf("[FETCH] %s sent bytes that do not match chunk %s", peer, chunkID)
				return nil
			}
			results <- data
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	data, ok := <-results
	if !ok {
		return nil, fmt.Errorf("%w: %s not held by any of %d peers", ErrChunkUnavailable, chunkID, len(peers))
	}
	return data, nil
}

// fileKey returns the local key of an owned file or runs the key exchange
// with the owner.
func (m *Manager) fileKey(ctx context.Context, fileID string, owner *dht.Contact) ([]byte, error) {
	if key, err := m.metadata.GetKey(fileID); err == nil {
		return key, nil
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: owner of %s unknown", ErrKeyExchange, fileID)
	}
	if owner.ID == m.node.ID() {
		return nil, fmt.Errorf("%w: we own %s but hold no key", ErrKeyExchange, fileID)
	}

	ownPublicKey := m.privateKey.PublicKey.Bytes(true)
	resp, responder, err := m.transport.RequestKey(ctx, *owner, fileID, ownPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}

	if !id_tools.CheckPublicKeyMatchesPeerID(resp.OwnerPublicKey, id_tools.PeerID(responder.ID)) {
		return nil, fmt.Errorf("%w: owner key does not match node id %s", ErrKeyExchange, responder.ID.Short())
	}
	signed := network.KeyResponseSigningBytes(fileID, ownPublicKey, resp.OwnerPublicKey, resp.EncryptedKey)
	if !id_tools.VerifySignature(resp.OwnerPublicKey, signed, resp.Signature) {
		return nil, fmt.Errorf("%w: bad owner signature", ErrKeyExchange)
	}

	ownerKey, err := crypto.ParsePublicKey(resp.OwnerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	symKey, err := crypto.OpenKey(m.privateKey, ownerKey, fileID, resp.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	logrus.Infof("[FETCH] received key of %s from %s", fileID, responder)
	return symKey, nil
}
