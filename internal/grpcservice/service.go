// Package grpcservice implements the Authority gRPC server over a store.
package grpcservice

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/rpc"
	"go.klb.dev/clipcache/internal/store"
)

// Service implements rpc.AuthorityServer.
type Service struct {
	s     *store.Store
	token string // empty = no auth
}

var _ rpc.AuthorityServer = (*Service)(nil)

// New returns a Service backed by s. token may be empty to disable auth.
func New(s *store.Store, token string) *Service {
	return &Service{s: s, token: token}
}

func (svc *Service) Open(ctx context.Context, _ *rpc.Empty) (*rpc.OpenResponse, error) {
	p, err := svc.caller(ctx)
	if err != nil {
		return nil, err
	}
	res := svc.s.Open(p)
	return &rpc.OpenResponse{Granted: res.Granted, PreviousOwner: string(res.PreviousOwner), Sequence: res.Sequence}, nil
}

func (svc *Service) Close(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	p, err := svc.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := svc.s.Close(p); err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.Empty{}, nil
}

func (svc *Service) ClaimAndEmpty(ctx context.Context, _ *rpc.Empty) (*rpc.SeqResponse, error) {
	p, err := svc.caller(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := svc.s.ClaimAndEmpty(p)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.SeqResponse{Sequence: seq}, nil
}

func (svc *Service) Put(ctx context.Context, req *rpc.PutRequest) (*rpc.SeqResponse, error) {
	p, err := svc.caller(ctx)
	if err != nil {
		return nil, err
	}
	var seq uint64
	if req.Delayed {
		seq, err = svc.s.PutDelayed(p, format.ID(req.Format))
	} else {
		seq, err = svc.s.Put(p, format.ID(req.Format), req.Data)
	}
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.SeqResponse{Sequence: seq}, nil
}

func (svc *Service) Publish(ctx context.Context, req *rpc.PublishRequest) (*rpc.SeqResponse, error) {
	p, err := svc.caller(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := svc.s.Publish(p, format.ID(req.Format), req.Data)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.SeqResponse{Sequence: seq}, nil
}

func (svc *Service) Get(ctx context.Context, req *rpc.GetRequest) (*rpc.GetResponse, error) {
	if err := svc.auth(ctx); err != nil {
		return nil, err
	}
	return rpc.FromFetch(svc.s.Get(format.ID(req.Format), req.Cached)), nil
}

func (svc *Service) EnumerateNext(ctx context.Context, req *rpc.EnumerateRequest) (*rpc.EnumerateResponse, error) {
	if err := svc.auth(ctx); err != nil {
		return nil, err
	}
	f, ok := svc.s.EnumerateNext(format.ID(req.Prev))
	return &rpc.EnumerateResponse{Format: uint32(f), OK: ok}, nil
}

func (svc *Service) RequestRender(ctx context.Context, req *rpc.RenderRequest) (*rpc.Empty, error) {
	p, err := svc.caller(ctx)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, store.RenderTimeout)
	defer cancel()
	if err := svc.s.RequestRender(rctx, p, authority.ProcessRef(req.Owner), format.ID(req.Format)); err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.Empty{}, nil
}

func (svc *Service) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	if err := svc.auth(ctx); err != nil {
		return nil, err
	}
	f, err := svc.s.Register(req.Name)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &rpc.RegisterResponse{Format: uint32(f)}, nil
}

func (svc *Service) Status(ctx context.Context, _ *rpc.Empty) (*rpc.StatusResponse, error) {
	if err := svc.auth(ctx); err != nil {
		return nil, err
	}
	return rpc.FromSnapshot(svc.s.Status()), nil
}

// Attach registers the calling process and streams its render requests until
// the client goes away. Leaving detaches the process, which releases any
// open it still holds.
func (svc *Service) Attach(req *rpc.AttachRequest, stream grpc.ServerStreamingServer[rpc.RenderEvent]) error {
	ctx := stream.Context()
	p, err := svc.caller(ctx)
	if err != nil {
		return err
	}
	source := req.Source
	if source == "" {
		source = sourceFromCtx(ctx)
	}

	renders, detach := svc.s.Attach(p, source)
	defer detach()
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	slog.Info("attach started", "process", p, "source", source, "addr", addrFromCtx(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-renders:
			if err := stream.Send(&rpc.RenderEvent{Format: uint32(r.Format), Requester: string(r.Requester)}); err != nil {
				return err
			}
		}
	}
}

// caller authenticates ctx and returns the process it speaks for.
func (svc *Service) caller(ctx context.Context) (authority.ProcessRef, error) {
	if err := svc.auth(ctx); err != nil {
		return "", err
	}
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(rpc.MetadataProcess)
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Error(codes.InvalidArgument, "missing "+rpc.MetadataProcess)
	}
	return authority.ProcessRef(vals[0]), nil
}

// auth validates the bearer token in ctx metadata. Skipped when svc.token is empty.
func (svc *Service) auth(ctx context.Context) error {
	if svc.token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	const prefix = "Bearer "
	tok := vals[0]
	if len(tok) > len(prefix) && tok[:len(prefix)] == prefix {
		tok = tok[len(prefix):]
	}
	if tok != svc.token {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

func sourceFromCtx(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(rpc.MetadataSource); len(vals) > 0 {
			return vals[0]
		}
	}
	return addrFromCtx(ctx)
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}
