package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcache/internal/clip"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/grpcclient"
	"go.klb.dev/clipcache/internal/mirror"
)

func newMirrorCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Keep this host's OS clipboard in step with a remote server",
		Long: `Connects to a clipcache server over gRPC and mirrors the local OS
clipboard into it, and the server's clipboard back out. Reconnects
automatically on disconnect.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runMirror(cmd.Context(), v) },
	}

	cmd.Flags().Duration("poll-interval", clip.DefaultPollInterval, "OS clipboard poll interval")
	addClientFlags(cmd)
	addLoggingFlags(cmd)
	return cmd
}

func runMirror(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := v.GetString("server")
	slog.Info("clipcache mirror starting", "version", Version, "server", addr, "source", v.GetString("source"))

	c, err := grpcclient.Dial(grpcclient.Config{
		Addr:   addr,
		Token:  v.GetString("token"),
		Source: v.GetString("source"),
		NoTLS:  v.GetBool("no-tls"),
	})
	if err != nil {
		return err
	}
	defer c.Shutdown()

	backend := clip.New(readDuration(v, "poll-interval", clip.DefaultPollInterval))
	defer backend.Close()

	cfg := clipboardConfig(v)
	cfg.Authority = c
	m := mirror.New(mirror.Config{
		Client:    c,
		Backend:   backend,
		Clipboard: clipboard.New(cfg),
		Poll:      readDuration(v, "poll-interval", clip.DefaultPollInterval),
	})
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
