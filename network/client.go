package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kutluhann/decen-dht/dht"
)

var (
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrNoChunk            = errors.New("peer does not hold chunk")
)

// RemoteError is an ERROR reply from a peer.
type RemoteError struct {
	Peer   string
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("peer %s: %s", e.Peer, e.Reason)
}

// Client sends one request per TCP connection and waits for the single reply.
type Client struct {
	self    dht.Contact
	timeout time.Duration

	onSuccess func(dht.Contact)
	onFailure func(dht.NodeID)
}

func NewClient(self dht.Contact, timeout time.Duration) *Client {
	return &Client{self: self, timeout: timeout}
}

// Observe registers callbacks for exchanges that got a reply (with the
// responder as a contact) and for exchanges that failed at the network level.
func (c *Client) Observe(onSuccess func(dht.Contact), onFailure func(dht.NodeID)) {
	c.onSuccess = onSuccess
	c.onFailure = onFailure
}

// Send delivers req to the peer and returns its reply. The sender fields and
// a request id are filled in here. An ERROR reply is returned as *RemoteError.
func (c *Client) Send(ctx context.Context, to dht.Contact, req *Message) (*Message, dht.Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req.Sender = FromContact(c.self)
	req.RequestID = uuid.NewString()

	resp, err := c.roundTrip(ctx, to.Addr(), req)
	if err != nil {
		outboundRequests.WithLabelValues(req.Type.String(), resultFailure).Inc()
		if c.onFailure != nil && !to.ID.IsZero() {
			c.onFailure(to.ID)
		}
		return nil, dht.Contact{}, fmt.Errorf("%s to %s: %w", req.Type, to.Addr(), err)
	}

	// The address we dialed is known to work; the id comes from the reply.
	responderID, err := dht.NodeIDFromBytes(resp.Sender.ID)
	if err != nil {
		outboundRequests.WithLabelValues(req.Type.String(), resultFailure).Inc()
		return nil, dht.Contact{}, fmt.Errorf("%s to %s: responder id: %w", req.Type, to.Addr(), err)
	}
	if !to.ID.IsZero() && responderID != to.ID {
		outboundRequests.WithLabelValues(req.Type.String(), resultFailure).Inc()
		if c.onFailure != nil {
			c.onFailure(to.ID)
		}
		return nil, dht.Contact{}, fmt.Errorf("%w: %s answered as %s", ErrUnexpectedResponse, to, responderID.Short())
	}
	responder := dht.NewContact(responderID, to.IP, to.Port)
	if c.onSuccess != nil {
		c.onSuccess(responder)
	}

	if resp.RequestID != req.RequestID {
		logrus.Debugf("[CLIENT] request id mismatch from %s: sent %s got %s", responder, req.RequestID, resp.RequestID)
	}

	if resp.Type == ERROR {
		outboundRequests.WithLabelValues(req.Type.String(), resultRemote).Inc()
		reason := "unknown error"
		if resp.Error != nil {
			reason = resp.Error.Reason
		}
		return resp, responder, &RemoteError{Peer: responder.String(), Reason: reason}
	}
	outboundRequests.WithLabelValues(req.Type.String(), resultOK).Inc()
	return resp, responder, nil
}

func (c *Client) roundTrip(ctx context.Context, addr string, req *Message) (*Message, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := WriteMessage(conn, req); err != nil {
		return nil, err
	}
	return ReadMessage(conn)
}

func expect(resp *Message, want MessageType, arm bool) error {
	if resp.Type != want || !arm {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, resp.Type, want)
	}
	return nil
}

// FindNode asks to for the contacts closest to target.
func (c *Client) FindNode(ctx context.Context, to dht.Contact, target dht.NodeID) ([]dht.Contact, error) {
	_, contacts, err := c.FindNodeFrom(ctx, to, target)
	return contacts, err
}

// FindNodeFrom is FindNode that also reports who answered. to.ID may be zero
// when only the address is known, as with a bootstrap peer.
func (c *Client) FindNodeFrom(ctx context.Context, to dht.Contact, target dht.NodeID) (dht.Contact, []dht.Contact, error) {
	resp, responder, err := c.Send(ctx, to, NewFindNodeRequest(target))
	if err != nil {
		return dht.Contact{}, nil, err
	}
	if err := expect(resp, FIND_NODE_RESPONSE, resp.Nodes != nil); err != nil {
		return dht.Contact{}, nil, err
	}
	return responder, ToContacts(resp.Nodes.Contacts), nil
}

func (c *Client) FindValue(ctx context.Context, to dht.Contact, fileID string) (dht.FindValueResult, error) {
	resp, _, err := c.Send(ctx, to, NewFindValueRequest(fileID))
	if err != nil {
		return dht.FindValueResult{}, err
	}
	if err := expect(resp, FIND_VALUE_RESPONSE, resp.Value != nil); err != nil {
		return dht.FindValueResult{}, err
	}

	result := dht.FindValueResult{
		ChunkIDs: resp.Value.ChunkIDs,
		Nodes:    ToContacts(resp.Value.Contacts),
	}
	if resp.Value.Owner != nil {
		if owner, err := resp.Value.Owner.ToContact(); err == nil {
			result.Owner = &owner
		}
	}
	return result, nil
}

// Store announces a file record to the peer.
func (c *Client) Store(ctx context.Context, to dht.Contact, fileID string, chunkIDs []string, owner *dht.Contact) error {
	resp, _, err := c.Send(ctx, to, NewStoreRequest(fileID, chunkIDs, owner))
	if err != nil {
		return err
	}
	return expect(resp, STORE, true)
}

func (c *Client) StoreChunk(ctx context.Context, to dht.Contact, chunkID string, data []byte) error {
	resp, _, err := c.Send(ctx, to, NewStoreChunkRequest(chunkID, data))
	if err != nil {
		return err
	}
	return expect(resp, STORE_CHUNK, true)
}

// GetChunk fetches chunk bytes from the peer, or ErrNoChunk when it has none.
func (c *Client) GetChunk(ctx context.Context, to dht.Contact, chunkID string) ([]byte, error) {
	resp, _, err := c.Send(ctx, to, NewGetChunkRequest(chunkID))
	if err != nil {
		return nil, err
	}
	if err := expect(resp, CHUNK_RESPONSE, resp.Chunk != nil); err != nil {
		return nil, err
	}
	if len(resp.Chunk.Data) == 0 {
		return nil, ErrNoChunk
	}
	return resp.Chunk.Data, nil
}

// RequestKey sends a KEY_REQUEST carrying our public key to the owner.
func (c *Client) RequestKey(ctx context.Context, to dht.Contact, fileID string, publicKey []byte) (*KeyResponsePayload, dht.Contact, error) {
	resp, responder, err := c.Send(ctx, to, NewKeyRequest(fileID, publicKey))
	if err != nil {
		return nil, dht.Contact{}, err
	}
	if err := expect(resp, KEY_RESPONSE, resp.KeyResponse != nil); err != nil {
		return nil, dht.Contact{}, err
	}
	return resp.KeyResponse, responder, nil
}
