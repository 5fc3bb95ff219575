//go:build !windows

package ipc

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"
)

func socketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipcache.sock")
	}
	return filepath.Join(os.TempDir(), "clipcache.sock")
}

func listenIPC(path string) (net.Listener, error) {
	// A stale socket from a crashed run blocks bind; a live one does not
	// answer to dial failures.
	if c, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		c.Close()
		return nil, &net.OpError{Op: "listen", Net: "unix", Err: fs.ErrExist}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return ln, nil
}

func dialIPC(path string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", path, timeout)
}
