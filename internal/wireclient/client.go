// Package wireclient is an authority.Client over the line protocol. It is
// what CLI tools use on the local IPC socket, and it works over any
// net.Conn the server's line-protocol listener accepts.
package wireclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/crypto"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/message"
	"go.klb.dev/clipcache/internal/store"
	"go.klb.dev/clipcache/internal/wire"
)

const helloTimeout = 10 * time.Second

// ErrClosed is returned for calls made after the connection ended.
var ErrClosed = errors.New("connection closed")

// Config holds the session settings.
type Config struct {
	Token   string
	Source  string
	Process authority.ProcessRef // empty lets the server pick
}

// Client is one process's session on a line-protocol connection.
type Client struct {
	conn    *wire.Conn
	process authority.ProcessRef
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *message.Message
	err     error // set once the reader stops
	done    chan struct{}

	hmu     sync.RWMutex
	handler authority.RenderHandler
}

var _ authority.Client = (*Client)(nil)
var _ authority.Inspector = (*Client)(nil)
var _ authority.Registrar = (*Client)(nil)

// New runs the AUTH/HELLO handshake on conn and starts the reader. The
// client owns conn from here on.
func New(conn net.Conn, cfg Config) (*Client, error) {
	key, err := crypto.DeriveKey(cfg.Token)
	if err != nil {
		conn.Close()
		return nil, err
	}
	wc := wire.New(conn, key)

	if cfg.Token != "" {
		if err := wc.WriteMsg(&message.Message{Type: message.TypeAuth, Token: cfg.Token}); err != nil {
			wc.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}
	if err := wc.WriteMsg(&message.Message{Type: message.TypeHello, ID: 1, Process: string(cfg.Process), Source: cfg.Source}); err != nil {
		wc.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	wc.SetReadDeadline(helloTimeout)
	ack, err := wc.ReadMsg()
	wc.SetReadDeadline(0)
	if err != nil {
		wc.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	if ack.Type == message.TypeError {
		wc.Close()
		return nil, fmt.Errorf("hello rejected: %s", ack.Error)
	}

	c := &Client{
		conn:    wc,
		process: authority.ProcessRef(ack.Process),
		pending: make(map[uint64]chan *message.Message),
		done:    make(chan struct{}),
	}
	c.nextID.Store(1)
	go c.readLoop()
	return c, nil
}

// Shutdown closes the connection; the server detaches the process.
func (c *Client) Shutdown() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) Process() authority.ProcessRef { return c.process }

func (c *Client) SetRenderHandler(h authority.RenderHandler) {
	c.hmu.Lock()
	c.handler = h
	c.hmu.Unlock()
}

func (c *Client) renderHandler() authority.RenderHandler {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handler
}

func (c *Client) readLoop() {
	defer close(c.done)
	var err error
	for {
		var msg *message.Message
		msg, err = c.conn.ReadMsg()
		if err != nil {
			break
		}
		switch msg.Type {
		case message.TypeResult, message.TypeError:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case message.TypeRenderRequest:
			req := store.RenderRequest{Format: format.ID(msg.Format), Requester: authority.ProcessRef(msg.Requester)}
			go store.ServeRender(c.renderHandler(), req)
		case message.TypePing:
			go func() { _ = c.conn.WriteMsg(&message.Message{Type: message.TypePong}) }()
		case message.TypePong:
		default:
			slog.Debug("unexpected message type", "type", msg.Type)
		}
	}

	c.mu.Lock()
	c.err = fmt.Errorf("%w: %w: %w", authority.ErrUnavailable, ErrClosed, err)
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// call sends req and waits for its answer.
func (c *Client) call(ctx context.Context, req *message.Message) (*message.Message, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan *message.Message, 1)

	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.conn.WriteMsg(req); err != nil {
		c.forget(req.ID)
		return nil, fmt.Errorf("%w: %w", authority.ErrUnavailable, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return nil, err
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) Open(ctx context.Context) (authority.OpenResult, error) {
	resp, err := c.call(ctx, &message.Message{Type: message.TypeOpen})
	if err != nil {
		return authority.OpenResult{}, err
	}
	return authority.OpenResult{Granted: resp.Granted, PreviousOwner: authority.ProcessRef(resp.Previous), Sequence: resp.Seq}, nil
}

func (c *Client) Close(ctx context.Context) error {
	_, err := c.call(ctx, &message.Message{Type: message.TypeClose})
	return err
}

func (c *Client) seqCall(ctx context.Context, req *message.Message) (uint64, error) {
	resp, err := c.call(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.Seq, nil
}

func (c *Client) ClaimAndEmpty(ctx context.Context) (uint64, error) {
	return c.seqCall(ctx, &message.Message{Type: message.TypeEmpty})
}

func (c *Client) Put(ctx context.Context, f format.ID, data []byte) (uint64, error) {
	return c.seqCall(ctx, &message.Message{Type: message.TypePut, Format: uint32(f), Data: data})
}

func (c *Client) PutDelayed(ctx context.Context, f format.ID) (uint64, error) {
	return c.seqCall(ctx, &message.Message{Type: message.TypePutDelayed, Format: uint32(f)})
}

func (c *Client) Publish(ctx context.Context, f format.ID, data []byte) (uint64, error) {
	return c.seqCall(ctx, &message.Message{Type: message.TypePublish, Format: uint32(f), Data: data})
}

func (c *Client) Get(ctx context.Context, f format.ID, cached uint64) (authority.FetchResult, error) {
	resp, err := c.call(ctx, &message.Message{Type: message.TypeGet, Format: uint32(f), Cached: cached})
	if err != nil {
		return authority.FetchResult{}, err
	}
	return authority.FetchResult{
		Status:   authority.ParseStatus(resp.Status),
		Data:     resp.Data,
		Sequence: resp.Seq,
		Empty:    resp.Empty,
		Owner:    authority.ProcessRef(resp.Owner),
		Current:  resp.Current,
	}, nil
}

func (c *Client) EnumerateNext(ctx context.Context, prev format.ID) (format.ID, bool, error) {
	resp, err := c.call(ctx, &message.Message{Type: message.TypeEnumerate, Format: uint32(prev)})
	if err != nil {
		return 0, false, err
	}
	return format.ID(resp.Format), resp.OK, nil
}

func (c *Client) RequestRender(ctx context.Context, owner authority.ProcessRef, f format.ID) error {
	_, err := c.call(ctx, &message.Message{Type: message.TypeRender, Owner: string(owner), Format: uint32(f)})
	return err
}

func (c *Client) Status(ctx context.Context) (authority.Snapshot, error) {
	resp, err := c.call(ctx, &message.Message{Type: message.TypeStatus})
	if err != nil {
		return authority.Snapshot{}, err
	}
	if resp.Snapshot == nil {
		return authority.Snapshot{}, fmt.Errorf("status: empty answer")
	}
	return *resp.Snapshot, nil
}

func (c *Client) RegisterFormat(ctx context.Context, name string) (format.ID, error) {
	resp, err := c.call(ctx, &message.Message{Type: message.TypeRegister, Name: name})
	if err != nil {
		return 0, err
	}
	return format.ID(resp.Format), nil
}
