// Package ipc provides the local socket CLI tools use to reach a running
// clipcache server without going through TCP. The socket speaks the line
// protocol.
package ipc

import (
	"net"
	"os"
	"time"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux / macOS: $XDG_RUNTIME_DIR/clipcache.sock or $TMPDIR/clipcache.sock
//   - Windows:       \\.\pipe\clipcache
//
// $CLIPCACHE_SOCKET overrides both.
func SocketPath() string {
	if s := os.Getenv("CLIPCACHE_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a server appears to be listening on the IPC
// socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := Dial()
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates the IPC listener.
func Listen() (net.Listener, error) {
	return listenIPC(SocketPath())
}

// Dial connects to the IPC socket.
func Dial() (net.Conn, error) {
	return dialIPC(SocketPath(), 2*time.Second)
}
