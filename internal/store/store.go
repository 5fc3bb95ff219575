// Package store implements the canonical clipboard store.
// It is transport-agnostic: processes attach, receive render requests via a
// channel, and put or fetch formats. Every mutation advances the sequence.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
)

// RenderRequest asks an owner to render a delayed format.
type RenderRequest struct {
	Format    format.ID
	Requester authority.ProcessRef
}

// renderQueue is the per-process buffer of pending render requests.
const renderQueue = 16

type slot struct {
	format      format.ID
	data        []byte
	seq         uint64
	delayed     bool
	synthesized bool
}

type process struct {
	source   string
	attached time.Time
	renders  chan RenderRequest
}

// Store is the shared clipboard.
type Store struct {
	mu         sync.RWMutex
	seq        uint64
	owner      authority.ProcessRef
	opener     authority.ProcessRef
	lastOpener authority.ProcessRef
	slots      []*slot
	procs      map[authority.ProcessRef]*process
	waiters    map[format.ID][]chan struct{}

	registry *format.Registry
	now      func() time.Time
}

// New returns an empty store at sequence 1. A nil registry selects
// format.Default.
func New(reg *format.Registry) *Store {
	if reg == nil {
		reg = format.Default
	}
	return &Store{
		seq:      1,
		procs:    make(map[authority.ProcessRef]*process),
		waiters:  make(map[format.ID][]chan struct{}),
		registry: reg,
		now:      time.Now,
	}
}

// Attach registers p and returns the channel its render requests arrive on.
// detach must be called when the process goes away.
func (s *Store) Attach(p authority.ProcessRef, source string) (<-chan RenderRequest, func()) {
	ch := make(chan RenderRequest, renderQueue)
	s.mu.Lock()
	s.procs[p] = &process{source: source, attached: s.now(), renders: ch}
	total := len(s.procs)
	s.mu.Unlock()

	slog.Info("process attached", "process", p, "source", source, "total", total)

	var once sync.Once
	return ch, func() { once.Do(func() { s.detach(p, ch) }) }
}

func (s *Store) detach(p authority.ProcessRef, ch chan RenderRequest) {
	s.mu.Lock()
	if cur, ok := s.procs[p]; ok && cur.renders == ch {
		delete(s.procs, p)
	}
	if s.opener == p {
		s.opener = ""
	}
	total := len(s.procs)
	s.mu.Unlock()

	slog.Info("process detached", "process", p, "total", total)
}

// Open grants p the store unless another process holds it open.
func (s *Store) Open(p authority.ProcessRef) authority.OpenResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opener != "" && s.opener != p {
		return authority.OpenResult{Granted: false, PreviousOwner: s.lastOpener, Sequence: s.seq}
	}
	prev := s.lastOpener
	s.opener = p
	s.lastOpener = p
	return authority.OpenResult{Granted: true, PreviousOwner: prev, Sequence: s.seq}
}

// Close releases p's hold on the store.
func (s *Store) Close(p authority.ProcessRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opener != p {
		return authority.ErrNotOpen
	}
	s.opener = ""
	return nil
}

// ClaimAndEmpty makes p the owner of an empty store.
func (s *Store) ClaimAndEmpty(p authority.ProcessRef) (uint64, error) {
	s.mu.Lock()
	if s.opener != p {
		s.mu.Unlock()
		return 0, authority.ErrNotOpen
	}
	dropped := len(s.slots)
	s.slots = nil
	s.owner = p
	s.seq++
	seq := s.seq
	waiters := s.takeAllWaitersLocked()
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	slog.Info("store emptied", "process", p, "dropped", dropped, "seq", seq)
	return seq, nil
}

// Put stores data for f. An unowned store is claimed by p. The owner may put
// a delayed format without holding the store open.
func (s *Store) Put(p authority.ProcessRef, f format.ID, data []byte) (uint64, error) {
	return s.put(p, f, data, false)
}

// PutDelayed announces f without data; its owner renders it on demand.
func (s *Store) PutDelayed(p authority.ProcessRef, f format.ID) (uint64, error) {
	return s.put(p, f, nil, true)
}

func (s *Store) put(p authority.ProcessRef, f format.ID, data []byte, delayed bool) (uint64, error) {
	if f == 0 {
		return 0, authority.ErrInvalidFormat
	}
	s.mu.Lock()
	if s.owner != "" && s.owner != p {
		s.mu.Unlock()
		return 0, authority.ErrNotOwner
	}
	if s.opener != p {
		sl := s.findLocked(f)
		if delayed || s.owner != p || sl == nil || !sl.delayed {
			s.mu.Unlock()
			return 0, authority.ErrNotOpen
		}
	}
	s.owner = p
	s.seq++
	s.setLocked(&slot{format: f, data: clone(data), seq: s.seq, delayed: delayed})
	seq := s.seq
	waiters := s.takeWaitersLocked(f)
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if delayed {
		slog.Info("format announced", "process", p, "format", f, "seq", seq)
	} else {
		LogFormat("format stored", p, f, data, seq)
	}
	return seq, nil
}

// Publish stores synthesized data for an absent format without touching
// ownership.
func (s *Store) Publish(p authority.ProcessRef, f format.ID, data []byte) (uint64, error) {
	if f == 0 {
		return 0, authority.ErrInvalidFormat
	}
	s.mu.Lock()
	if s.findLocked(f) != nil {
		s.mu.Unlock()
		return 0, authority.ErrFormatPresent
	}
	s.seq++
	s.setLocked(&slot{format: f, data: clone(data), seq: s.seq, synthesized: true})
	seq := s.seq
	s.mu.Unlock()

	LogFormat("format published", p, f, data, seq)
	return seq, nil
}

// Get fetches f for a caller whose copy, if any, was written at cached.
func (s *Store) Get(f format.ID, cached uint64) authority.FetchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := authority.FetchResult{Current: s.seq}
	sl := s.findLocked(f)
	switch {
	case sl == nil:
		res.Status = authority.NotFound
		res.Empty = len(s.slots) == 0
	case sl.delayed:
		res.Status = authority.OwnerMustRender
		res.Owner = s.owner
	case cached != 0 && sl.seq <= cached:
		res.Status = authority.Unchanged
		res.Sequence = sl.seq
	default:
		res.Status = authority.Found
		res.Data = clone(sl.data)
		res.Sequence = sl.seq
	}
	return res
}

// EnumerateNext returns the format stored after prev; prev 0 starts over.
func (s *Store) EnumerateNext(prev format.ID) (format.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if prev == 0 {
		if len(s.slots) == 0 {
			return 0, false
		}
		return s.slots[0].format, true
	}
	for i, sl := range s.slots {
		if sl.format == prev {
			if i+1 < len(s.slots) {
				return s.slots[i+1].format, true
			}
			return 0, false
		}
	}
	return 0, false
}

// RequestRender asks owner to render f and waits until it has been put or
// ctx expires.
func (s *Store) RequestRender(ctx context.Context, requester, owner authority.ProcessRef, f format.ID) error {
	s.mu.Lock()
	sl := s.findLocked(f)
	if sl == nil || !sl.delayed {
		s.mu.Unlock()
		return nil
	}
	proc, ok := s.procs[owner]
	if !ok || owner != s.owner {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", authority.ErrNoRenderer, owner)
	}
	done := make(chan struct{})
	s.waiters[f] = append(s.waiters[f], done)
	s.mu.Unlock()

	select {
	case proc.renders <- RenderRequest{Format: f, Requester: requester}:
		slog.Debug("render requested", "process", owner, "format", f, "requester", requester)
	default:
		slog.Warn("render queue full, dropping request", "process", owner, "format", f)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.dropWaiter(f, done)
		return fmt.Errorf("%w: %s", authority.ErrRenderTimeout, f)
	}
}

// Register resolves a format name in the store's registry.
func (s *Store) Register(name string) (format.ID, error) {
	return s.registry.Register(name)
}

// Status returns a snapshot of the store.
func (s *Store) Status() authority.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := authority.Snapshot{
		Sequence:  s.seq,
		Owner:     s.owner,
		Opener:    s.opener,
		Formats:   make([]authority.FormatInfo, 0, len(s.slots)),
		Processes: make([]authority.ProcessInfo, 0, len(s.procs)),
		Taken:     s.now(),
	}
	for _, sl := range s.slots {
		snap.Formats = append(snap.Formats, authority.FormatInfo{
			Format:      sl.format,
			Name:        s.registry.Name(sl.format),
			Size:        len(sl.data),
			Sequence:    sl.seq,
			Delayed:     sl.delayed,
			Synthesized: sl.synthesized,
		})
	}
	for p, proc := range s.procs {
		snap.Processes = append(snap.Processes, authority.ProcessInfo{Process: p, Source: proc.source, Attached: proc.attached})
	}
	return snap
}

// Sequence returns the current sequence.
func (s *Store) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

func (s *Store) findLocked(f format.ID) *slot {
	for _, sl := range s.slots {
		if sl.format == f {
			return sl
		}
	}
	return nil
}

// setLocked replaces f in place, keeping enumeration order, or appends it.
func (s *Store) setLocked(n *slot) {
	for i, sl := range s.slots {
		if sl.format == n.format {
			s.slots[i] = n
			return
		}
	}
	s.slots = append(s.slots, n)
}

func (s *Store) takeWaitersLocked(f format.ID) []chan struct{} {
	w := s.waiters[f]
	delete(s.waiters, f)
	return w
}

func (s *Store) takeAllWaitersLocked() []chan struct{} {
	var all []chan struct{}
	for f, w := range s.waiters {
		all = append(all, w...)
		delete(s.waiters, f)
	}
	return all
}

func (s *Store) dropWaiter(f format.ID, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.waiters[f]
	for i, w := range ws {
		if w == done {
			s.waiters[f] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(s.waiters[f]) == 0 {
		delete(s.waiters, f)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
