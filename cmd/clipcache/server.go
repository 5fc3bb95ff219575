package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/clip"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/crypto"
	"go.klb.dev/clipcache/internal/gateway"
	"go.klb.dev/clipcache/internal/grpcservice"
	"go.klb.dev/clipcache/internal/ipc"
	"go.klb.dev/clipcache/internal/mirror"
	"go.klb.dev/clipcache/internal/rpc"
	"go.klb.dev/clipcache/internal/store"
	"go.klb.dev/clipcache/internal/tcppeer"
	"go.klb.dev/clipcache/internal/tlsconf"
)

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the clipboard store (+ local clipboard mirror)",
		Long: `Starts the clipcache store. One TCP port carries gRPC, the read-only
HTTP gateway (GET /v1/status, /v1/formats, /v1/formats/{format}) and the line
protocol; the local IPC socket carries the line protocol for CLI tools.
Unless --no-local is given the host's OS clipboard is mirrored into the store.

Config file search order:
  /etc/clipcache/clipcache.toml
  $HOME/.config/clipcache/clipcache.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPCACHE_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServer(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("addr", defaultAddr, "TCP listen address")
	f.String("token", "", "shared secret (empty = no auth, no payload encryption)")
	f.Bool("no-local", false, "do not mirror the host's OS clipboard")
	f.Bool("no-tls", false, "serve TCP without TLS")
	f.String("source", defaultSource(), "name for this host in process lists")
	f.Duration("poll-interval", clip.DefaultPollInterval, "OS clipboard poll interval")
	addLocaleFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServer(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := v.GetString("addr")
	token := v.GetString("token")
	source := v.GetString("source")
	noTLS := v.GetBool("no-tls")

	key, err := crypto.DeriveKey(token)
	if err != nil {
		return fmt.Errorf("key derivation: %w", err)
	}

	slog.Info("clipcache server starting",
		"version", Version,
		"addr", addr,
		"local_clip", !v.GetBool("no-local"),
		"tls", !noTLS,
		"encrypted", key != nil,
	)

	s := store.New(nil)

	if !v.GetBool("no-local") {
		go runLocalMirror(ctx, v, s, source)
	}

	// IPC socket for CLI tools. The socket is owner-only, so no auth.
	ipcLn, err := ipc.Listen()
	if err != nil {
		slog.Warn("IPC socket unavailable", "err", err)
	} else {
		slog.Info("IPC socket listening", "path", ipc.SocketPath())
		defer ipcLn.Close()
		go serveLine(ipcLn, s, "", nil)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if !noTLS {
		passphrase := token
		if passphrase == "" {
			passphrase = tlsconf.DefaultPassphrase
		}
		creds, err := tlsconf.Derive(passphrase)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tls.NewListener(ln, creds.Server())
	}
	slog.Info("listening", "addr", ln.Addr())

	gw := s.Bind(authority.NewProcessRef(), source+":http")
	defer gw.Detach()
	gwCfg := clipboardConfig(v)
	gwCfg.Authority = gw
	httpHandler, err := gateway.New(gateway.Config{Clipboard: clipboard.New(gwCfg), Inspector: gw, Token: token})
	if err != nil {
		ln.Close()
		return err
	}

	m := cmux.New(ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.HTTP1Fast())
	lineL := m.Match(cmux.Any())

	gs := grpc.NewServer()
	rpc.RegisterAuthorityServer(gs, grpcservice.New(s, token))
	hs := &http.Server{Handler: httpHandler}

	go func() { _ = gs.Serve(grpcL) }()
	go func() { _ = hs.Serve(httpL) }()
	go serveLine(lineL, s, token, key)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve() }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		gs.GracefulStop()
		_ = hs.Close()
		m.Close()
		return nil
	case err := <-errCh:
		if listenerClosed(err) {
			return nil
		}
		return err
	}
}

func serveLine(ln net.Listener, s *store.Store, token string, key *[crypto.KeySize]byte) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !listenerClosed(err) {
				slog.Error("accept failed", "err", err)
			}
			return
		}
		go tcppeer.New(conn, s, token, key).Serve()
	}
}

func listenerClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, cmux.ErrServerClosed)
}

func runLocalMirror(ctx context.Context, v *viper.Viper, s *store.Store, source string) {
	backend := clip.New(readDuration(v, "poll-interval", clip.DefaultPollInterval))
	defer backend.Close()

	l := s.Bind(authority.NewProcessRef(), source+":local")
	defer l.Detach()

	cfg := clipboardConfig(v)
	cfg.Authority = l
	m := mirror.New(mirror.Config{Client: l, Backend: backend, Clipboard: clipboard.New(cfg)})
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("local mirror stopped", "err", err)
	}
}
