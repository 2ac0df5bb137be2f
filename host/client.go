// Package host runs the script host subprocess and exposes it as the
// engine's frame backend.
//
// The host process evaluates the user's script and decodes frames on
// demand. It speaks the ipc wire protocol over its stdin/stdout; stderr
// is forwarded line by line to engine logging. The engine is the only
// side that initiates requests; responses are correlated by request id,
// so completions may arrive out of order while multiple decodes are in
// flight.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/ipc"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/types"
)

// ErrHostExited is returned for requests outstanding when the host
// process terminated or its stream broke.
var ErrHostExited = errors.New("script host exited")

// RemoteError is a failure reported by the host for one request,
// typically a script evaluation or decode error.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "script host error: " + e.Message
}

// Client speaks the wire protocol over a connected host's pipes and
// implements the dispatch backend. Safe for concurrent use.
type Client struct {
	enc    *ipc.FrameEncoder
	stdin  io.Closer
	logger *log.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan any
	failed  error

	done chan struct{}
}

// NewClient wires a client over the host's stdin/stdout, performs the
// hello handshake, and starts the response demux loop.
func NewClient(stdin io.WriteCloser, stdout io.Reader, scriptPath string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Nop()
	}
	c := &Client{
		enc:     ipc.NewFrameEncoder(stdin),
		stdin:   stdin,
		logger:  logger,
		pending: make(map[uint64]chan any),
		done:    make(chan struct{}),
	}

	if err := c.send(ipc.Hello{
		Type:       ipc.TypeHello,
		Version:    ipc.ProtocolVersion,
		ScriptPath: scriptPath,
	}); err != nil {
		return nil, fmt.Errorf("host handshake: %w", err)
	}

	go c.readLoop(ipc.NewFrameDecoder(stdout))
	return c, nil
}

func (c *Client) send(msg any) error {
	payload, err := ipc.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		return c.failed
	}
	return c.enc.WriteFrame(payload)
}

// call sends a request and waits for its correlated response.
func (c *Client) call(ctx context.Context, msgType string, node, index int) (any, error) {
	ch := make(chan any, 1)

	c.mu.Lock()
	if c.failed != nil {
		c.mu.Unlock()
		return nil, c.failed
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	err := c.send(ipc.Request{Type: msgType, RequestID: id, Node: node, Index: index})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case msg := <-ch:
		if errMsg, ok := msg.(*ipc.ErrorResponse); ok {
			return nil, &RemoteError{Message: errMsg.Message}
		}
		return msg, nil
	case <-c.done:
		// Prefer a response that raced with shutdown.
		select {
		case msg := <-ch:
			if errMsg, ok := msg.(*ipc.ErrorResponse); ok {
				return nil, &RemoteError{Message: errMsg.Message}
			}
			return msg, nil
		default:
		}
		return nil, c.failure()
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		return c.failed
	}
	return ErrHostExited
}

// readLoop demultiplexes host responses to their waiting callers until
// the stream ends or breaks.
func (c *Client) readLoop(dec *ipc.FrameDecoder) {
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrClosedPipe) {
				c.logger.Error("host stream failed", map[string]any{"error": err.Error()})
			}
			c.fail(err)
			return
		}

		msg, err := ipc.Decode(payload)
		if err != nil {
			// Decode errors are local to one message; skip it.
			c.logger.Warn("undecodable host message", map[string]any{"error": err.Error()})
			continue
		}

		switch m := msg.(type) {
		case *ipc.NodeList:
			c.deliver(m.RequestID, m)
		case *ipc.FrameResponse:
			c.deliver(m.RequestID, m)
		case *ipc.ErrorResponse:
			c.deliver(m.RequestID, m)
		case *ipc.LogMessage:
			c.logger.Info("host: "+m.Message, map[string]any{"host_level": m.Level})
		default:
			c.logger.Warn("unexpected host message", map[string]any{})
		}
	}
}

func (c *Client) deliver(id uint64, msg any) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		// Caller gave up (context cancelled); response is dropped.
		return
	}
	ch <- msg
}

// fail poisons the client: every outstanding and future request errors.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.failed == nil {
		if cause == nil || cause == io.EOF || errors.Is(cause, io.ErrClosedPipe) {
			c.failed = ErrHostExited
		} else {
			c.failed = fmt.Errorf("%w: %v", ErrHostExited, cause)
		}
		close(c.done)
	}
	// Outstanding callers wake on the closed done channel.
	c.pending = make(map[uint64]chan any)
	c.mu.Unlock()
}

// Nodes asks the host to evaluate the script and return its output nodes.
func (c *Client) Nodes(ctx context.Context) ([]types.OutputNode, error) {
	msg, err := c.call(ctx, ipc.TypeListNodes, 0, 0)
	if err != nil {
		return nil, err
	}
	list, ok := msg.(*ipc.NodeList)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T to node list request", msg)
	}
	nodes := make([]types.OutputNode, 0, len(list.Nodes))
	for _, info := range list.Nodes {
		nodes = append(nodes, info.Output())
	}
	return nodes, nil
}

// RenderFrame asks the host to decode one frame.
func (c *Client) RenderFrame(ctx context.Context, node types.NodeID, index int) (*dispatch.FrameData, error) {
	msg, err := c.call(ctx, ipc.TypeRenderFrame, int(node), index)
	if err != nil {
		return nil, err
	}
	frame, ok := msg.(*ipc.FrameResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T to render request", msg)
	}
	return &dispatch.FrameData{
		Pixels: frame.Pixels,
		Stride: frame.Stride,
		Format: frame.Format,
		Props:  frame.Props,
	}, nil
}

// Close shuts the request stream down. The host exits on stdin EOF.
func (c *Client) Close() error {
	err := c.stdin.Close()
	c.fail(nil)
	return err
}

var _ dispatch.Backend = (*Client)(nil)
