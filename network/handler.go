package network

import (
	"context"
	"errors"

	ecies "github.com/ecies/go/v2"
	"github.com/sirupsen/logrus"

	"github.com/kutluhann/decen-dht/crypto"
	"github.com/kutluhann/decen-dht/dht"
	"github.com/kutluhann/decen-dht/id_tools"
	"github.com/kutluhann/decen-dht/storage"
)

// ChunkStore is the chunk persistence the dispatcher writes to and reads from.
type ChunkStore interface {
	Put(id string, data []byte) error
	Get(id string) ([]byte, error)
}

// MetadataStore is the metadata persistence the dispatcher needs.
type MetadataStore interface {
	PutFile(fileID string, chunkIDs []string) error
	PutOwner(fileID string, owner dht.Contact) error
	GetKey(fileID string) ([]byte, error)
}

// Dispatcher routes inbound requests to the query engine, the local stores
// and the key exchange.
type Dispatcher struct {
	node       *dht.Node
	chunks     ChunkStore
	metadata   MetadataStore
	privateKey *ecies.PrivateKey
}

func NewDispatcher(node *dht.Node, chunks ChunkStore, metadata MetadataStore, privateKey *ecies.PrivateKey) *Dispatcher {
	return &Dispatcher{
		node:       node,
		chunks:     chunks,
		metadata:   metadata,
		privateKey: privateKey,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, req *Message) *Message {
	handledRequests.WithLabelValues(req.Type.String()).Inc()

	// Every inbound message proves its sender is alive.
	if !req.Sender.IsZero() && req.Sender.IP != "" && req.Sender.Port > 0 {
		if sender, err := req.Sender.ToContact(); err == nil {
			d.node.Store(sender)
		}
	}

	if err := ValidateRequest(req); err != nil {
		logrus.Debugf("[HANDLER] rejecting %s: %v", req.Type, err)
		return NewErrorResponse("%v", err)
	}

	switch req.Type {
	case FIND_NODE:
		target, _ := dht.NodeIDFromBytes(req.FindNode.Target)
		contacts := d.node.FindNode(target, 0)
		return &Message{Type: FIND_NODE_RESPONSE, Nodes: &NodesPayload{Contacts: FromContacts(contacts)}}

	case FIND_VALUE:
		return d.handleFindValue(req.FindValue)

	case STORE:
		return d.handleStore(req.Store)

	case STORE_CHUNK:
		return d.handleStoreChunk(req.StoreChunk)

	case GET_CHUNK:
		return d.handleGetChunk(req.GetChunk)

	case KEY_REQUEST:
		return d.handleKeyRequest(req.KeyRequest)
	}

	return NewErrorResponse("unsupported message type %s", req.Type)
}

func (d *Dispatcher) handleFindValue(req *FindValuePayload) *Message {
	result, err := d.node.FindValue(req.FileID, 0)
	if err != nil {
		return NewErrorResponse("%v", err)
	}

	value := &ValuePayload{}
	if result.Found() {
		value.ChunkIDs = result.ChunkIDs
		if result.Owner != nil {
			owner := FromContact(*result.Owner)
			value.Owner = &owner
		}
	} else {
		value.Contacts = FromContacts(result.Nodes)
	}
	return &Message{Type: FIND_VALUE_RESPONSE, Value: value}
}

// handleStore keeps a replica of the announced file record.
func (d *Dispatcher) handleStore(req *StorePayload) *Message {
	// A file we own keeps our record; a colliding name from another node is
	// acked but not stored.
	if _, err := d.metadata.GetKey(req.FileID); err == nil {
		logrus.Warnf("[HANDLER] ignoring announce of %s, we own that file", req.FileID)
		return &Message{Type: STORE}
	} else if !errors.Is(err, storage.ErrNotFound) {
		logrus.Errorf("[HANDLER] read key of %s: %v", req.FileID, err)
		return NewErrorResponse("store failed")
	}

	if err := d.metadata.PutFile(req.FileID, req.ChunkIDs); err != nil {
		logrus.Errorf("[HANDLER] store record %s: %v", req.FileID, err)
		return NewErrorResponse("store failed")
	}
	if req.Owner != nil {
		if owner, err := req.Owner.ToContact(); err == nil {
			if err := d.metadata.PutOwner(req.FileID, owner); err != nil {
				logrus.Errorf("[HANDLER] store owner of %s: %v", req.FileID, err)
				return NewErrorResponse("store failed")
			}
		}
	}
	logrus.Infof("[HANDLER] stored record %s (%d chunks)", req.FileID, len(req.ChunkIDs))
	return &Message{Type: STORE}
}

func (d *Dispatcher) handleStoreChunk(req *ChunkPayload) *Message {
	if crypto.HashHex(req.Data) != req.ChunkID {
		return NewErrorResponse("chunk hash mismatch")
	}
	if err := d.chunks.Put(req.ChunkID, req.Data); err != nil {
		logrus.Errorf("[HANDLER] store chunk %s: %v", req.ChunkID, err)
		return NewErrorResponse("store chunk failed")
	}
	return &Message{Type: STORE_CHUNK}
}

func (d *Dispatcher) handleGetChunk(req *GetChunkPayload) *Message {
	data, err := d.chunks.Get(req.ChunkID)
	if errors.Is(err, storage.ErrNotFound) {
		return &Message{Type: CHUNK_RESPONSE, Chunk: &ChunkPayload{ChunkID: req.ChunkID}}
	}
	if err != nil {
		logrus.Errorf("[HANDLER] read chunk %s: %v", req.ChunkID, err)
		return NewErrorResponse("read chunk failed")
	}
	return &Message{Type: CHUNK_RESPONSE, Chunk: &ChunkPayload{ChunkID: req.ChunkID, Data: data}}
}

// handleKeyRequest wraps the file key for the requester's public key and
// signs the result with the node key.
func (d *Dispatcher) handleKeyRequest(req *KeyRequestPayload) *Message {
	symKey, err := d.metadata.GetKey(req.FileID)
	if errors.Is(err, storage.ErrNotFound) {
		return NewErrorResponse("key not found")
	}
	if err != nil {
		logrus.Errorf("[HANDLER] read key of %s: %v", req.FileID, err)
		return NewErrorResponse("read key failed")
	}

	requesterKey, err := crypto.ParsePublicKey(req.PublicKey)
	if err != nil {
		return NewErrorResponse("%v", err)
	}

	wrapped, err := crypto.SealKey(d.privateKey, requesterKey, req.FileID, symKey)
	if err != nil {
		logrus.Errorf("[HANDLER] seal key of %s: %v", req.FileID, err)
		return NewErrorResponse("key exchange failed")
	}

	ownerPublicKey := d.privateKey.PublicKey.Bytes(true)
	signature, err := id_tools.SignMessage(d.privateKey,
		KeyResponseSigningBytes(req.FileID, req.PublicKey, ownerPublicKey, wrapped))
	if err != nil {
		logrus.Errorf("[HANDLER] sign key response: %v", err)
		return NewErrorResponse("key exchange failed")
	}

	logrus.Infof("[HANDLER] released key of %s", req.FileID)
	return &Message{Type: KEY_RESPONSE, KeyResponse: &KeyResponsePayload{
		FileID:         req.FileID,
		OwnerPublicKey: ownerPublicKey,
		EncryptedKey:   wrapped,
		Signature:      signature,
	}}
}
