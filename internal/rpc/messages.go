package rpc

import (
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"go.klb.dev/clipcache/internal/authority"
)

// Metadata keys sent with every call.
const (
	MetadataProcess = "x-clipcache-process"
	MetadataSource  = "x-clipcache-source"
)

type Empty struct{}

type OpenResponse struct {
	Granted       bool   `json:"granted"`
	PreviousOwner string `json:"previous_owner,omitempty"`
	Sequence      uint64 `json:"seq"`
}

type SeqResponse struct {
	Sequence uint64 `json:"seq"`
}

type PutRequest struct {
	Format  uint32 `json:"format"`
	Data    []byte `json:"data,omitempty"`
	Delayed bool   `json:"delayed,omitempty"`
}

type PublishRequest struct {
	Format uint32 `json:"format"`
	Data   []byte `json:"data"`
}

type GetRequest struct {
	Format uint32 `json:"format"`
	Cached uint64 `json:"cached,omitempty"`
}

type GetResponse struct {
	Status   string `json:"status"`
	Data     []byte `json:"data,omitempty"`
	Sequence uint64 `json:"seq,omitempty"`
	Empty    bool   `json:"empty,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Current  uint64 `json:"current"`
}

type EnumerateRequest struct {
	Prev uint32 `json:"prev"`
}

type EnumerateResponse struct {
	Format uint32 `json:"format"`
	OK     bool   `json:"ok"`
}

type RenderRequest struct {
	Owner  string `json:"owner"`
	Format uint32 `json:"format"`
}

type RegisterRequest struct {
	Name string `json:"name"`
}

type RegisterResponse struct {
	Format uint32 `json:"format"`
}

type AttachRequest struct {
	Source string `json:"source,omitempty"`
}

// RenderEvent is streamed to an attached owner when someone needs one of its
// delayed formats.
type RenderEvent struct {
	Format    uint32 `json:"format"`
	Requester string `json:"requester"`
}

type ProcessInfo struct {
	Process  string                 `json:"process"`
	Source   string                 `json:"source"`
	Attached *timestamppb.Timestamp `json:"attached"`
}

type StatusResponse struct {
	Sequence  uint64                 `json:"seq"`
	Owner     string                 `json:"owner,omitempty"`
	Opener    string                 `json:"opener,omitempty"`
	Formats   []authority.FormatInfo `json:"formats"`
	Processes []ProcessInfo          `json:"processes"`
	Taken     *timestamppb.Timestamp `json:"taken"`
}

// FromFetch converts a store answer to its wire form.
func FromFetch(r authority.FetchResult) *GetResponse {
	return &GetResponse{
		Status:   r.Status.String(),
		Data:     r.Data,
		Sequence: r.Sequence,
		Empty:    r.Empty,
		Owner:    string(r.Owner),
		Current:  r.Current,
	}
}

// Fetch converts a wire answer back to a FetchResult.
func (r *GetResponse) Fetch() authority.FetchResult {
	res := authority.FetchResult{
		Data:     r.Data,
		Sequence: r.Sequence,
		Empty:    r.Empty,
		Owner:    authority.ProcessRef(r.Owner),
		Current:  r.Current,
	}
	res.Status = authority.ParseStatus(r.Status)
	return res
}

// FromSnapshot converts a store snapshot to its wire form.
func FromSnapshot(s authority.Snapshot) *StatusResponse {
	out := &StatusResponse{
		Sequence:  s.Sequence,
		Owner:     string(s.Owner),
		Opener:    string(s.Opener),
		Formats:   s.Formats,
		Processes: make([]ProcessInfo, 0, len(s.Processes)),
		Taken:     timestamppb.New(s.Taken),
	}
	for _, p := range s.Processes {
		out.Processes = append(out.Processes, ProcessInfo{
			Process:  string(p.Process),
			Source:   p.Source,
			Attached: timestamppb.New(p.Attached),
		})
	}
	return out
}

// Snapshot converts a wire status back to a store snapshot.
func (r *StatusResponse) Snapshot() authority.Snapshot {
	snap := authority.Snapshot{
		Sequence:  r.Sequence,
		Owner:     authority.ProcessRef(r.Owner),
		Opener:    authority.ProcessRef(r.Opener),
		Formats:   r.Formats,
		Processes: make([]authority.ProcessInfo, 0, len(r.Processes)),
		Taken:     asTime(r.Taken),
	}
	if snap.Formats == nil {
		snap.Formats = []authority.FormatInfo{}
	}
	for _, p := range r.Processes {
		snap.Processes = append(snap.Processes, authority.ProcessInfo{
			Process:  authority.ProcessRef(p.Process),
			Source:   p.Source,
			Attached: asTime(p.Attached),
		})
	}
	return snap
}

func asTime(ts *timestamppb.Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.AsTime()
}
