package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/kutluhann/decen-dht/dht"
)

// Handler turns one decoded request into its response.
type Handler interface {
	Handle(ctx context.Context, req *Message) *Message
}

// Server accepts connections on one port and handles each in its own
// goroutine: read one request, dispatch, write one response, close.
type Server struct {
	listener net.Listener
	timeout  time.Duration
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Listen binds host:port. Port 0 picks a free port; see Port.
func Listen(host string, port int, maxHandlers int64, timeout time.Duration) (*Server, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on %d: %w", port, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listener: listener,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(maxHandlers),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Serve runs the accept loop until Close. Every response is stamped with
// self as the sender.
func (s *Server) Serve(self dht.Contact, handler Handler) error {
	logrus.Infof("[PeerServer] listening on %s as %s", s.Addr(), self.ID.Short())
	stamp := FromContact(self)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logrus.Warnf("[PeerServer] accept: %v", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		// Blocks while MaxConcurrentHandlers connections are in flight.
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handleConn(conn, stamp, handler)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn, self WireContact, handler Handler) {
	defer conn.Close()
	activeHandlers.Inc()
	defer activeHandlers.Dec()

	conn.SetDeadline(time.Now().Add(s.timeout))

	req, err := ReadMessage(conn)
	if err != nil {
		logrus.Debugf("[PeerServer] read from %s: %v", conn.RemoteAddr(), err)
		return
	}

	// Peers that do not advertise a host are reachable where they came from.
	if req.Sender.IP == "" {
		if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			req.Sender.IP = addr.IP.String()
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	resp := handler.Handle(ctx, req)
	if resp == nil {
		resp = NewErrorResponse("no response")
	}
	resp.Sender = self
	resp.RequestID = req.RequestID

	if err := WriteMessage(conn, resp); err != nil {
		logrus.Debugf("[PeerServer] write %s to %s: %v", resp.Type, conn.RemoteAddr(), err)
	}
}

// Close stops accepting and waits for in-flight handlers.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()
	return err
}
