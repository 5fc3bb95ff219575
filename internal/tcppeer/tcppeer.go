// Package tcppeer serves the line protocol for one connection. The
// connection speaks for exactly one process: HELLO attaches it to the store
// and closing the connection detaches it.
package tcppeer

import (
	"context"
	"errors"
	"fmt"
	"io"
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

const (
	pingInterval = 15 * time.Second
	pongDeadline = 10 * time.Second
	helloTimeout = 10 * time.Second
)

var (
	errAuthFailed   = errors.New("auth failed")
	errBadHandshake = errors.New("bad handshake")
)

// Peer wraps a single connection to the store.
type Peer struct {
	addr   string
	conn   *wire.Conn
	s      *store.Store
	token  string
	sendCh chan *message.Message
	pongCh chan struct{}
	closed chan struct{}
	once   sync.Once

	process  authority.ProcessRef
	lastSeen atomic.Int64 // UnixNano
}

// New creates a Peer for conn. token may be empty to disable auth; key may be
// nil to disable encryption.
func New(conn net.Conn, s *store.Store, token string, key *[crypto.KeySize]byte) *Peer {
	p := &Peer{
		addr:   conn.RemoteAddr().String(),
		conn:   wire.New(conn, key),
		s:      s,
		token:  token,
		sendCh: make(chan *message.Message, 64),
		pongCh: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	p.lastSeen.Store(time.Now().UnixNano())
	return p
}

func (p *Peer) send(msg *message.Message) {
	select {
	case p.sendCh <- msg:
	case <-p.closed:
	}
}

func (p *Peer) close() {
	p.once.Do(func() {
		close(p.closed)
		p.conn.Close()
	})
}

func (p *Peer) notifyAlive() {
	p.lastSeen.Store(time.Now().UnixNano())
	select {
	case p.pongCh <- struct{}{}:
	default:
	}
}

// Serve authenticates, attaches the process and runs the read, write and ping
// loops until the connection ends.
func (p *Peer) Serve() {
	defer p.close()
	log := slog.With("peer", p.addr)

	hello, err := p.handshake()
	if err != nil {
		log.Warn("handshake failed", "err", err)
		if hello != nil {
			// The peer is readable, so tell it why.
			_ = p.conn.WriteMsg(hello.Fail(err))
		}
		return
	}
	p.process = authority.ProcessRef(hello.Process)
	if p.process == "" {
		p.process = authority.NewProcessRef()
	}
	source := hello.Source
	if source == "" {
		source = p.addr
	}

	renders, detach := p.s.Attach(p.process, source)
	defer detach()
	log = log.With("process", p.process)

	ack := hello.Result()
	ack.Process = string(p.process)
	if err := p.conn.WriteMsg(ack); err != nil {
		log.Warn("hello ack failed", "err", err)
		return
	}

	go p.writeLoop(log)
	go p.pingLoop(log)
	go p.forwardRenders(renders)

	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		msg, err := p.conn.ReadMsg()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				log.Info("connection closed", "err", err)
			}
			return
		}
		p.notifyAlive()

		switch {
		case msg.Type == message.TypePong:
			// handled by notifyAlive
		case msg.Type == message.TypePing:
			p.send(&message.Message{Type: message.TypePong})
		case msg.Type == message.TypeRender:
			// Renders block until the owner answers, which may need this
			// connection's reader, so they run on their own.
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				p.send(p.handle(msg))
			}()
		case msg.Type.IsRequest():
			p.send(p.handle(msg))
		default:
			log.Warn("unexpected message type", "type", msg.Type)
		}
	}
}

// handshake reads the optional AUTH and the HELLO that opens a session. On
// a protocol error it still returns the last message read so the caller can
// answer it.
func (p *Peer) handshake() (*message.Message, error) {
	p.conn.SetReadDeadline(helloTimeout)
	defer p.conn.SetReadDeadline(0)

	msg, err := p.conn.ReadMsg()
	if err != nil {
		return nil, err
	}
	var token string
	if msg.Type == message.TypeAuth {
		token = msg.Token
		if msg, err = p.conn.ReadMsg(); err != nil {
			return nil, err
		}
	}
	if msg.Type != message.TypeHello {
		return msg, fmt.Errorf("%w: expected HELLO, got %s", errBadHandshake, msg.Type)
	}
	if p.token != "" && token != p.token {
		return msg, errAuthFailed
	}
	return msg, nil
}

func (p *Peer) writeLoop(log *slog.Logger) {
	for {
		select {
		case <-p.closed:
			return
		case msg := <-p.sendCh:
			if err := p.conn.WriteMsg(msg); err != nil {
				log.Error("write failed", "err", err)
				p.close()
				return
			}
		}
	}
}

func (p *Peer) pingLoop(log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
		}
		p.send(&message.Message{Type: message.TypePing})
		select {
		case <-p.pongCh:
		case <-p.closed:
			return
		case <-time.After(pongDeadline):
			log.Warn("pong timeout, closing")
			p.close()
			return
		}
	}
}

func (p *Peer) forwardRenders(renders <-chan store.RenderRequest) {
	for {
		select {
		case <-p.closed:
			return
		case r := <-renders:
			p.send(&message.Message{
				Type:      message.TypeRenderRequest,
				Format:    uint32(r.Format),
				Requester: string(r.Requester),
			})
		}
	}
}

// handle runs one store operation for this connection's process.
func (p *Peer) handle(msg *message.Message) *message.Message {
	f := format.ID(msg.Format)
	out := msg.Result()
	var err error

	switch msg.Type {
	case message.TypeOpen:
		res := p.s.Open(p.process)
		out.Granted, out.Previous, out.Seq = res.Granted, string(res.PreviousOwner), res.Sequence
	case message.TypeClose:
		err = p.s.Close(p.process)
	case message.TypeEmpty:
		out.Seq, err = p.s.ClaimAndEmpty(p.process)
	case message.TypePut:
		out.Seq, err = p.s.Put(p.process, f, msg.Data)
	case message.TypePutDelayed:
		out.Seq, err = p.s.PutDelayed(p.process, f)
	case message.TypePublish:
		out.Seq, err = p.s.Publish(p.process, f, msg.Data)
	case message.TypeGet:
		res := p.s.Get(f, msg.Cached)
		out.Status, out.Data, out.Seq = res.Status.String(), res.Data, res.Sequence
		out.Empty, out.Owner, out.Current = res.Empty, string(res.Owner), res.Current
	case message.TypeEnumerate:
		next, ok := p.s.EnumerateNext(f)
		out.Format, out.OK = uint32(next), ok
	case message.TypeRender:
		ctx, cancel := context.WithTimeout(context.Background(), store.RenderTimeout)
		err = p.s.RequestRender(ctx, p.process, authority.ProcessRef(msg.Owner), f)
		cancel()
	case message.TypeRegister:
		var id format.ID
		id, err = p.s.Register(msg.Name)
		if err != nil {
			err = errors.Join(authority.ErrInvalidFormat, err)
		}
		out.Format = uint32(id)
	case message.TypeStatus:
		snap := p.s.Status()
		out.Snapshot = &snap
	}
	if err != nil {
		return msg.Fail(err)
	}
	return out
}
