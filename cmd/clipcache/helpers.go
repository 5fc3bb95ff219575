package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/grpcclient"
	"go.klb.dev/clipcache/internal/ipc"
	"go.klb.dev/clipcache/internal/wireclient"
)

const dialCheckTimeout = 3 * time.Second

func getenv(key string) string  { return os.Getenv(key) }
func hostname() (string, error) { return os.Hostname() }

func isContainerID(s string) bool {
	if len(s) < 12 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// defaultSource returns a human-readable identifier for this host.
func defaultSource() string {
	for _, env := range []string{
		"CLIPCACHE_SOURCE",
		"CONTAINER_NAME",
		"COMPOSE_SERVICE",
		"SERVICE_NAME",
		"HOSTNAME_FRIENDLY",
	} {
		if v := getenv(env); v != "" {
			return v
		}
	}
	h, err := hostname()
	if err != nil {
		return "unknown"
	}
	if isContainerID(h) {
		return "container-" + h[:8]
	}
	return h
}

// session is a CLI tool's connection to the store, whichever transport
// carries it.
type session interface {
	authority.Client
	authority.Inspector
	authority.Registrar
	Shutdown() error
}

// connect prefers the local IPC socket unless --server was given, and falls
// back to gRPC. The returned string names the transport for status output.
func connect(cmd *cobra.Command, v *viper.Viper) (session, string, error) {
	source := v.GetString("source")

	if !cmd.Flags().Changed("server") && ipc.IsRunning() {
		conn, err := ipc.Dial()
		if err == nil {
			c, err := wireclient.New(conn, wireclient.Config{Source: source})
			if err == nil {
				return c, fmt.Sprintf("ipc (%s)", ipc.SocketPath()), nil
			}
		}
	}

	addr := v.GetString("server")
	c, err := grpcclient.Dial(grpcclient.Config{
		Addr:   addr,
		Token:  v.GetString("token"),
		Source: source,
		NoTLS:  v.GetBool("no-tls"),
	})
	if err != nil {
		return nil, "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialCheckTimeout)
	defer cancel()
	if _, err := c.Status(ctx); err != nil {
		_ = c.Shutdown()
		return nil, "", fmt.Errorf("no reachable clipcache server at %s: %w", addr, err)
	}
	return c, fmt.Sprintf("grpc (%s)", addr), nil
}

// withClipboard connects, builds a clipboard over the session and runs fn.
func withClipboard(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, s session, cb *clipboard.Clipboard) error) error {
	s, _, err := connect(cmd, v)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	cfg := clipboardConfig(v)
	cfg.Authority = s
	cb := clipboard.New(cfg)
	defer cb.Teardown()
	return fn(cmd.Context(), s, cb)
}

// resolveFormat looks name up locally and, for names this process has never
// seen, asks the store so ids agree with every other process.
func resolveFormat(ctx context.Context, r authority.Registrar, name string) (format.ID, error) {
	if f, ok := format.Default.Lookup(name); ok {
		return f, nil
	}
	f, err := r.RegisterFormat(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("format %q: %w", name, err)
	}
	return f, nil
}
