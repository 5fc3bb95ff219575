// Package gateway serves a read-only HTTP/JSON view of the store:
//
//	GET /v1/status             store snapshot
//	GET /v1/formats            stored and synthesizable formats
//	GET /v1/formats/{format}   one format's data; text formats as UTF-8
//
// Responses go through a grpc-gateway ServeMux so errors use the same
// status mapping as the gRPC service.
package gateway

import (
	"errors"
	"net/http"
	"strings"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/rpc"
)

// Config configures the gateway.
type Config struct {
	Clipboard *clipboard.Clipboard
	Inspector authority.Inspector
	Registry  *format.Registry // default: format.Default
	Token     string           // empty disables auth
}

// FormatEntry is one row of the /v1/formats answer.
type FormatEntry struct {
	Format format.ID `json:"format"`
	Name   string    `json:"name"`
	Stored bool      `json:"stored"`
}

// FormatsResponse is the /v1/formats answer.
type FormatsResponse struct {
	Sequence uint64        `json:"seq"`
	Formats  []FormatEntry `json:"formats"`
}

type gateway struct {
	cfg Config
	mux *gwruntime.ServeMux
}

// New returns the gateway handler.
func New(cfg Config) (http.Handler, error) {
	if cfg.Registry == nil {
		cfg.Registry = format.Default
	}
	g := &gateway{cfg: cfg, mux: gwruntime.NewServeMux()}
	for path, h := range map[string]gwruntime.HandlerFunc{
		"/v1/status":           g.status,
		"/v1/formats":          g.formats,
		"/v1/formats/{format}": g.data,
	} {
		if err := g.mux.HandlePath(http.MethodGet, path, g.authed(h)); err != nil {
			return nil, err
		}
	}
	return g.mux, nil
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	_, out := gwruntime.MarshalerForRequest(g.mux, r)
	gwruntime.HTTPError(r.Context(), g.mux, out, w, r, toStatus(err))
}

func (g *gateway) authed(h gwruntime.HandlerFunc) gwruntime.HandlerFunc {
	if g.cfg.Token == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != g.cfg.Token {
			g.fail(w, r, status.Error(codes.Unauthenticated, "invalid token"))
			return
		}
		h(w, r, params)
	}
}

func (g *gateway) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	_, out := gwruntime.MarshalerForRequest(g.mux, r)
	buf, err := out.Marshal(v)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", out.ContentType(v))
	_, _ = w.Write(buf)
}

func (g *gateway) status(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	snap, err := g.cfg.Inspector.Status(r.Context())
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.writeJSON(w, r, snap)
}

func (g *gateway) formats(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx := r.Context()
	snap, err := g.cfg.Inspector.Status(ctx)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	avail, err := g.cfg.Clipboard.Available(ctx)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	stored := make(map[format.ID]bool, len(snap.Formats))
	for _, fi := range snap.Formats {
		stored[fi.Format] = true
	}
	resp := FormatsResponse{Sequence: snap.Sequence, Formats: make([]FormatEntry, 0, len(avail))}
	for _, f := range avail {
		resp.Formats = append(resp.Formats, FormatEntry{Format: f, Name: g.cfg.Registry.Name(f), Stored: stored[f]})
	}
	g.writeJSON(w, r, resp)
}

func (g *gateway) data(w http.ResponseWriter, r *http.Request, params map[string]string) {
	f, ok := g.cfg.Registry.Lookup(params["format"])
	if !ok {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "unknown format %q", params["format"]))
		return
	}
	ctx := r.Context()
	w.Header().Set("X-Clipcache-Format", g.cfg.Registry.Name(f))

	if clipboard.IsText(f) && r.URL.Query().Get("raw") == "" {
		s, err := g.cfg.Clipboard.ExportString(ctx, f)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(s))
		return
	}
	data, err := g.cfg.Clipboard.Export(ctx, f)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, clipboard.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, clipboard.ErrNotConnected):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, clipboard.ErrMalformed):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return rpc.ToStatus(err)
}
