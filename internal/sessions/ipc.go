package sessions

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/shai-run/agentcore/pkg/models"
)

// IPCRequest is one length-prefixed MessagePack frame sent to the
// session-history IPC server: fetch or append, against one session.
type IPCRequest struct {
	Op        string         `msgpack:"op"` // "get_history" | "append_message" | "list"
	SessionID string         `msgpack:"session_id,omitempty"`
	Key       string         `msgpack:"key,omitempty"`
	Limit     int            `msgpack:"limit,omitempty"`
	Message   *models.Message `msgpack:"message,omitempty"`
}

// IPCResponse is the corresponding reply frame.
type IPCResponse struct {
	Error    string           `msgpack:"error,omitempty"`
	Messages []*models.Message `msgpack:"messages,omitempty"`
	Sessions []*Session       `msgpack:"sessions,omitempty"`
}

// maxFrameSize bounds a single IPC frame, guarding the server against a
// misbehaving client declaring an unbounded length prefix.
const maxFrameSize = 16 << 20 // 16MB

// IPCServer exposes a Store's history over a Unix domain socket using
// length-prefixed MessagePack frames, so a companion process (a TUI, an
// editor plugin) can read and append to an agent's transcript without
// linking against the store's Go package directly.
type IPCServer struct {
	store    Store
	listener net.Listener
}

// ListenIPC binds a Unix domain socket at socketPath. Any pre-existing
// socket file at that path is removed first, matching the conventional
// "stale socket from a crashed prior run" cleanup.
func ListenIPC(socketPath string, store Store) (*IPCServer, error) {
	if store == nil {
		return nil, errors.New("sessions: store is required")
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("sessions: removing stale socket: %w", err)
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("sessions: listening on %s: %w", socketPath, err)
	}
	return &IPCServer{store: store, listener: l}, nil
}

// Addr returns the bound socket path.
func (s *IPCServer) Addr() string { return s.listener.Addr().String() }

// Close stops accepting new connections.
func (s *IPCServer) Close() error { return s.listener.Close() }

// Serve accepts connections until ctx is cancelled or Close is called.
// Each connection is handled in its own goroutine and may carry multiple
// sequential request/response frames.
func (s *IPCServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				return err
			}
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *IPCServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		req, err := readFrame[IPCRequest](reader)
		if err != nil {
			return
		}

		resp := s.dispatch(ctx, req)
		if err := writeFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *IPCServer) dispatch(ctx context.Context, req *IPCRequest) *IPCResponse {
	switch req.Op {
	case "get_history":
		msgs, err := s.store.GetHistory(ctx, req.SessionID, req.Limit)
		if err != nil {
			return &IPCResponse{Error: err.Error()}
		}
		return &IPCResponse{Messages: msgs}

	case "append_message":
		if req.Message == nil {
			return &IPCResponse{Error: "append_message: message is required"}
		}
		if err := s.store.AppendMessage(ctx, req.SessionID, req.Message); err != nil {
			return &IPCResponse{Error: err.Error()}
		}
		return &IPCResponse{}

	case "list":
		sessions, err := s.store.List(ctx, ListOptions{Limit: req.Limit})
		if err != nil {
			return &IPCResponse{Error: err.Error()}
		}
		return &IPCResponse{Sessions: sessions}

	default:
		return &IPCResponse{Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

// IPCClient is a thin dialer for IPCServer, used by companion processes
// that only need history read/append and never construct their own Store.
type IPCClient struct {
	conn net.Conn
	rd   *bufio.Reader
}

// DialIPC connects to a running IPCServer's socket.
func DialIPC(ctx context.Context, socketPath string) (*IPCClient, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("sessions: dialing %s: %w", socketPath, err)
	}
	return &IPCClient{conn: conn, rd: bufio.NewReader(conn)}, nil
}

// Close closes the client's connection.
func (c *IPCClient) Close() error { return c.conn.Close() }

// GetHistory fetches up to limit trailing messages for sessionID (0 means
// no limit, matching Store.GetHistory's own convention).
func (c *IPCClient) GetHistory(sessionID string, limit int) ([]*models.Message, error) {
	resp, err := c.roundTrip(&IPCRequest{Op: "get_history", SessionID: sessionID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// AppendMessage appends msg to sessionID's transcript.
func (c *IPCClient) AppendMessage(sessionID string, msg *models.Message) error {
	_, err := c.roundTrip(&IPCRequest{Op: "append_message", SessionID: sessionID, Message: msg})
	return err
}

// ListSessions lists up to limit sessions (0 means no limit).
func (c *IPCClient) ListSessions(limit int) ([]*Session, error) {
	resp, err := c.roundTrip(&IPCRequest{Op: "list", Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *IPCClient) roundTrip(req *IPCRequest) (*IPCResponse, error) {
	if err := writeFrame(c.conn, req); err != nil {
		return nil, err
	}
	resp, err := readFrame[IPCResponse](c.rd)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp, nil
}

// writeFrame encodes v as MessagePack and writes it to w behind a
// big-endian uint32 length prefix, so a reader never needs to guess where
// one frame ends and the next begins.
func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("sessions: encoding frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("sessions: frame exceeds %d bytes", maxFrameSize)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readFrame[T any](r io.Reader) (*T, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("sessions: frame of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	var v T
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("sessions: decoding frame: %w", err)
	}
	return &v, nil
}
