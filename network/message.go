package network

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kutluhann/decen-dht/dht"
)

type MessageType int

const (
	UNKNOWN MessageType = iota
	FIND_NODE
	FIND_NODE_RESPONSE
	FIND_VALUE
	FIND_VALUE_RESPONSE
	STORE
	STORE_CHUNK
	GET_CHUNK
	CHUNK_RESPONSE
	KEY_REQUEST
	KEY_RESPONSE
	ERROR
)

var messageTypeNames = map[MessageType]string{
	UNKNOWN:             "UNKNOWN",
	FIND_NODE:           "FIND_NODE",
	FIND_NODE_RESPONSE:  "FIND_NODE_RESPONSE",
	FIND_VALUE:          "FIND_VALUE",
	FIND_VALUE_RESPONSE: "FIND_VALUE_RESPONSE",
	STORE:               "STORE",
	STORE_CHUNK:         "STORE_CHUNK",
	GET_CHUNK:           "GET_CHUNK",
	CHUNK_RESPONSE:      "CHUNK_RESPONSE",
	KEY_REQUEST:         "KEY_REQUEST",
	KEY_RESPONSE:        "KEY_RESPONSE",
	ERROR:               "ERROR",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// WireContact is the serializable form of a contact. Liveness bookkeeping
// never goes on the wire.
type WireContact struct {
	ID   []byte `msgpack:"id"`
	IP   string `msgpack:"ip"`
	Port int    `msgpack:"port"`
}

func FromContact(c dht.Contact) WireContact {
	return WireContact{ID: c.ID.Bytes(), IP: c.IP, Port: c.Port}
}

func (w WireContact) ToContact() (dht.Contact, error) {
	id, err := dht.NodeIDFromBytes(w.ID)
	if err != nil {
		return dht.Contact{}, err
	}
	return dht.NewContact(id, w.IP, w.Port), nil
}

func (w WireContact) IsZero() bool {
	return len(w.ID) == 0
}

// FromContacts converts a contact list for the wire.
func FromContacts(contacts []dht.Contact) []WireContact {
	out := make([]WireContact, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, FromContact(c))
	}
	return out
}

// ToContacts converts wire contacts back, dropping malformed entries.
func ToContacts(wire []WireContact) []dht.Contact {
	out := make([]dht.Contact, 0, len(wire))
	for _, w := range wire {
		c, err := w.ToContact()
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Message is the envelope of every request and response. Exactly the arm
// matching Type is set; bare acknowledgements carry no arm at all.
type Message struct {
	Type      MessageType `msgpack:"type"`
	RequestID string      `msgpack:"request_id"`
	Sender    WireContact `msgpack:"sender"`

	FindNode    *FindNodePayload    `msgpack:"find_node,omitempty"`
	Nodes       *NodesPayload       `msgpack:"nodes,omitempty"`
	FindValue   *FindValuePayload   `msgpack:"find_value,omitempty"`
	Value       *ValuePayload       `msgpack:"value,omitempty"`
	Store       *StorePayload       `msgpack:"store,omitempty"`
	StoreChunk  *ChunkPayload       `msgpack:"store_chunk,omitempty"`
	GetChunk    *GetChunkPayload    `msgpack:"get_chunk,omitempty"`
	Chunk       *ChunkPayload       `msgpack:"chunk,omitempty"`
	KeyRequest  *KeyRequestPayload  `msgpack:"key_request,omitempty"`
	KeyResponse *KeyResponsePayload `msgpack:"key_response,omitempty"`
	Error       *ErrorPayload       `msgpack:"error,omitempty"`
}

type FindNodePayload struct {
	Target []byte `msgpack:"target"`
}

type NodesPayload struct {
	Contacts []WireContact `msgpack:"contacts"`
}

type FindValuePayload struct {
	FileID string `msgpack:"file_id"`
}

// ValuePayload answers FIND_VALUE: ChunkIDs on a hit, Contacts on a miss.
type ValuePayload struct {
	ChunkIDs []string      `msgpack:"chunk_ids,omitempty"`
	Owner    *WireContact  `msgpack:"owner,omitempty"`
	Contacts []WireContact `msgpack:"contacts,omitempty"`
}

type StorePayload struct {
	FileID   string       `msgpack:"file_id"`
	ChunkIDs []string     `msgpack:"chunk_ids"`
	Owner    *WireContact `msgpack:"owner,omitempty"`
}

// ChunkPayload carries chunk bytes for STORE_CHUNK and CHUNK_RESPONSE. Data
// is nil in a CHUNK_RESPONSE when the peer does not hold the chunk.
type ChunkPayload struct {
	ChunkID string `msgpack:"chunk_id"`
	Data    []byte `msgpack:"data"`
}

type GetChunkPayload struct {
	ChunkID string `msgpack:"chunk_id"`
}

type KeyRequestPayload struct {
	FileID    string `msgpack:"file_id"`
	PublicKey []byte `msgpack:"public_key"`
}

type KeyResponsePayload struct {
	FileID         string `msgpack:"file_id"`
	OwnerPublicKey []byte `msgpack:"owner_public_key"`
	EncryptedKey   []byte `msgpack:"encrypted_key"`
	Signature      []byte `msgpack:"signature"`
}

type ErrorPayload struct {
	Reason string `msgpack:"reason"`
}

func NewFindNodeRequest(target dht.NodeID) *Message {
	return &Message{Type: FIND_NODE, FindNode: &FindNodePayload{Target: target.Bytes()}}
}

func NewFindValueRequest(fileID string) *Message {
	return &Message{Type: FIND_VALUE, FindValue: &FindValuePayload{FileID: fileID}}
}

func NewStoreRequest(fileID string, chunkIDs []string, owner *dht.Contact) *Message {
	payload := &StorePayload{FileID: fileID, ChunkIDs: chunkIDs}
	if owner != nil {
		w := FromContact(*owner)
		payload.Owner = &w
	}
	return &Message{Type: STORE, Store: payload}
}

func NewStoreChunkRequest(chunkID string, data []byte) *Message {
	return &Message{Type: STORE_CHUNK, StoreChunk: &ChunkPayload{ChunkID: chunkID, Data: data}}
}

func NewGetChunkRequest(chunkID string) *Message {
	return &Message{Type: GET_CHUNK, GetChunk: &GetChunkPayload{ChunkID: chunkID}}
}

func NewKeyRequest(fileID string, publicKey []byte) *Message {
	return &Message{Type: KEY_REQUEST, KeyRequest: &KeyRequestPayload{FileID: fileID, PublicKey: publicKey}}
}

func NewErrorResponse(format string, args ...any) *Message {
	return &Message{Type: ERROR, Error: &ErrorPayload{Reason: fmt.Sprintf(format, args...)}}
}

var errMissingPayload = errors.New("missing payload")

// ValidateRequest checks that req is a request type and carries the arm that
// type needs.
func ValidateRequest(req *Message) error {
	switch req.Type {
	case FIND_NODE:
		if req.FindNode == nil {
			return fmt.Errorf("%s: %w", req.Type, errMissingPayload)
		}
		if _, err := dht.NodeIDFromBytes(req.FindNode.Target); err != nil {
			return fmt.Errorf("%s target: %w", req.Type, err)
		}
	case FIND_VALUE:
		if req.FindValue == nil {
			return fmt.Errorf("%s: %w", req.Type, errMissingPayload)
		}
		if _, err := dht.ParseNodeID(req.FindValue.FileID); err != nil {
			return fmt.Errorf("%s file id: %w", req.Type, err)
		}
	case STORE:
		if req.Store == nil {
			return fmt.Errorf("%s: %w", req.Type, errMissingPayload)
		}
		if _, err := dht.ParseNodeID(req.Store.FileID); err != nil {
			return fmt.Errorf("%s file id: %w", req.Type, err)
		}
		if len(req.Store.ChunkIDs) == 0 {
			return fmt.Errorf("%s: no chunk ids", req.Type)
		}
	case STORE_CHUNK:
		if req.StoreChunk == nil || req.StoreChunk.ChunkID == "" {
			return fmt.Errorf("%s: %w", req.Type, errMissingPayload)
		}
	case GET_CHUNK:
		if req.GetChunk == nil || req.GetChunk.ChunkID == "" {
			return fmt.Errorf("%s: %w", req.Type, errMissingPayload)
		}
	case KEY_REQUEST:
		if req.KeyRequest == nil || len(req.KeyRequest.PublicKey) == 0 {
			return fmt.Errorf("%s: %w", req.Type, errMissingPayload)
		}
		if _, err := dht.ParseNodeID(req.KeyRequest.FileID); err != nil {
			return fmt.Errorf("%s file id: %w", req.Type, err)
		}
	default:
		return fmt.Errorf("unsupported message type %s", req.Type)
	}
	return nil
}

// KeyResponseSigningBytes is what the owner signs in a KEY_RESPONSE. Binding
// the requester's key stops a response from being replayed to someone else.
func KeyResponseSigningBytes(fileID string, requesterPublicKey, ownerPublicKey, encryptedKey []byte) []byte {
	var out []byte
	out = append(out, "decen-dht key-response"...)
	for _, field := range [][]byte{[]byte(fileID), requesterPublicKey, ownerPublicKey, encryptedKey} {
		out = binary.BigEndian.AppendUint32(out, uint32(len(field)))
		out = append(out, field...)
	}
	return out
}
