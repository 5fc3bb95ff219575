// Package grpcclient connects a process to a remote clipboard store over
// gRPC.
//
// A Client implements authority.Client. Besides the unary calls it keeps one
// Attach stream open so the store can ask this process to render its delayed
// formats; the stream reconnects with exponential back-off and the store
// treats its end as the process going away.
package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/rpc"
	"go.klb.dev/clipcache/internal/store"
	"go.klb.dev/clipcache/internal/tlsconf"
)

const (
	reconnectDelay = time.Second
	maxReconnect   = 30 * time.Second
)

// Config holds the connection settings.
type Config struct {
	// Addr is the server address (host:port), or any target the dialer understands.
	Addr string
	// Token is the shared secret (may be empty).
	Token string
	// Source names this host in the server's process list.
	Source string
	// Process is the identity to use; empty picks a fresh one.
	Process authority.ProcessRef
	// NoTLS dials in plaintext, for the local IPC socket and tests.
	NoTLS bool
	// Dialer replaces the default TCP dialer.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// Client is an authority.Client backed by a gRPC connection.
type Client struct {
	cfg    Config
	conn   *grpc.ClientConn
	rpc    *rpc.AuthorityClient
	cancel context.CancelFunc
	done   chan struct{}

	attachOnce sync.Once
	attached   chan struct{}

	mu      sync.RWMutex
	handler authority.RenderHandler
}

var _ authority.Client = (*Client)(nil)
var _ authority.Inspector = (*Client)(nil)
var _ authority.Registrar = (*Client)(nil)

// Dial creates a Client and starts its Attach loop. Shutdown must be called
// to release it.
func Dial(cfg Config, extra ...grpc.DialOption) (*Client, error) {
	if cfg.Process == "" {
		cfg.Process = authority.NewProcessRef()
	}
	opts, err := dialOpts(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(cfg.Addr, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		conn:     conn,
		rpc:      rpc.NewAuthorityClient(conn),
		cancel:   cancel,
		done:     make(chan struct{}),
		attached: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		c.attachLoop(ctx)
	}()
	return c, nil
}

// Shutdown stops the Attach loop and closes the connection.
func (c *Client) Shutdown() error {
	c.cancel()
	<-c.done
	return c.conn.Close()
}

// Attached is closed once the store has registered this process for render
// requests the first time.
func (c *Client) Attached() <-chan struct{} { return c.attached }

func (c *Client) Process() authority.ProcessRef { return c.cfg.Process }

func (c *Client) SetRenderHandler(h authority.RenderHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Client) renderHandler() authority.RenderHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

func (c *Client) Open(ctx context.Context) (authority.OpenResult, error) {
	resp, err := c.rpc.Open(ctx, &rpc.Empty{})
	if err != nil {
		return authority.OpenResult{}, rpc.FromStatus(err)
	}
	return authority.OpenResult{
		Granted:       resp.Granted,
		PreviousOwner: authority.ProcessRef(resp.PreviousOwner),
		Sequence:      resp.Sequence,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	_, err := c.rpc.Close(ctx, &rpc.Empty{})
	return rpc.FromStatus(err)
}

func (c *Client) ClaimAndEmpty(ctx context.Context) (uint64, error) {
	resp, err := c.rpc.ClaimAndEmpty(ctx, &rpc.Empty{})
	if err != nil {
		return 0, rpc.FromStatus(err)
	}
	return resp.Sequence, nil
}

func (c *Client) Put(ctx context.Context, f format.ID, data []byte) (uint64, error) {
	return c.put(ctx, &rpc.PutRequest{Format: uint32(f), Data: data})
}

func (c *Client) PutDelayed(ctx context.Context, f format.ID) (uint64, error) {
	return c.put(ctx, &rpc.PutRequest{Format: uint32(f), Delayed: true})
}

func (c *Client) put(ctx context.Context, req *rpc.PutRequest) (uint64, error) {
	resp, err := c.rpc.Put(ctx, req)
	if err != nil {
		return 0, rpc.FromStatus(err)
	}
	return resp.Sequence, nil
}

func (c *Client) Publish(ctx context.Context, f format.ID, data []byte) (uint64, error) {
	resp, err := c.rpc.Publish(ctx, &rpc.PublishRequest{Format: uint32(f), Data: data})
	if err != nil {
		return 0, rpc.FromStatus(err)
	}
	return resp.Sequence, nil
}

func (c *Client) Get(ctx context.Context, f format.ID, cached uint64) (authority.FetchResult, error) {
	resp, err := c.rpc.Get(ctx, &rpc.GetRequest{Format: uint32(f), Cached: cached})
	if err != nil {
		return authority.FetchResult{}, rpc.FromStatus(err)
	}
	return resp.Fetch(), nil
}

func (c *Client) EnumerateNext(ctx context.Context, prev format.ID) (format.ID, bool, error) {
	resp, err := c.rpc.EnumerateNext(ctx, &rpc.EnumerateRequest{Prev: uint32(prev)})
	if err != nil {
		return 0, false, rpc.FromStatus(err)
	}
	return format.ID(resp.Format), resp.OK, nil
}

func (c *Client) RequestRender(ctx context.Context, owner authority.ProcessRef, f format.ID) error {
	_, err := c.rpc.RequestRender(ctx, &rpc.RenderRequest{Owner: string(owner), Format: uint32(f)})
	return rpc.FromStatus(err)
}

func (c *Client) Status(ctx context.Context) (authority.Snapshot, error) {
	resp, err := c.rpc.Status(ctx, &rpc.Empty{})
	if err != nil {
		return authority.Snapshot{}, rpc.FromStatus(err)
	}
	return resp.Snapshot(), nil
}

func (c *Client) RegisterFormat(ctx context.Context, name string) (format.ID, error) {
	resp, err := c.rpc.Register(ctx, &rpc.RegisterRequest{Name: name})
	if err != nil {
		return 0, rpc.FromStatus(err)
	}
	return format.ID(resp.Format), nil
}

// attachLoop keeps the Attach stream open, reconnecting with exponential
// back-off until ctx is cancelled.
func (c *Client) attachLoop(ctx context.Context) {
	delay := reconnectDelay
	for {
		connected, err := c.runAttach(ctx)
		if err == nil || errors.Is(err, context.Canceled) ||
			status.Code(err) == codes.Canceled || ctx.Err() != nil {
			return
		}
		if connected {
			delay = reconnectDelay
		}
		slog.Warn("attach stream ended, reconnecting",
			"addr", c.cfg.Addr, "err", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay < maxReconnect {
			delay *= 2
		}
	}
}

// runAttach opens one Attach stream and serves render events until it errors
// or ctx is done. connected reports whether the server accepted the stream.
func (c *Client) runAttach(ctx context.Context) (connected bool, err error) {
	stream, err := c.rpc.Attach(ctx, &rpc.AttachRequest{Source: c.cfg.Source})
	if err != nil {
		return false, fmt.Errorf("attach: %w", err)
	}
	// The server sends headers once the process is registered.
	if _, err := stream.Header(); err != nil {
		return false, fmt.Errorf("attach: %w", err)
	}
	c.attachOnce.Do(func() { close(c.attached) })
	slog.Debug("attach stream open", "addr", c.cfg.Addr, "process", c.cfg.Process)

	for {
		ev, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return true, fmt.Errorf("server closed stream")
			}
			return true, err
		}
		req := store.RenderRequest{Format: format.ID(ev.Format), Requester: authority.ProcessRef(ev.Requester)}
		go store.ServeRender(c.renderHandler(), req)
	}
}

// ── dial helpers ──────────────────────────────────────────────────────────────

func dialOpts(cfg Config) ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{
		rpc.CallOption(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithPerRPCCredentials(&processCreds{
			token:   cfg.Token,
			source:  cfg.Source,
			process: cfg.Process,
			secure:  !cfg.NoTLS,
		}),
	}
	if cfg.NoTLS {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		passphrase := cfg.Token
		if passphrase == "" {
			passphrase = tlsconf.DefaultPassphrase
		}
		creds, err := tlsconf.ClientCredentials(passphrase)
		if err != nil {
			return nil, fmt.Errorf("tls credentials: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}
	if cfg.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(cfg.Dialer))
	}
	return opts, nil
}

type processCreds struct {
	token   string
	source  string
	process authority.ProcessRef
	secure  bool
}

func (c *processCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	md := map[string]string{rpc.MetadataProcess: string(c.process)}
	if c.token != "" {
		md["authorization"] = "Bearer " + c.token
	}
	if c.source != "" {
		md[rpc.MetadataSource] = c.source
	}
	return md, nil
}

func (c *processCreds) RequireTransportSecurity() bool { return c.secure }
