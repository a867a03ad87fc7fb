package server

import (
	"os"
	"path/filepath"

	"github.com/hostup/hostup/common"
)

// SocketPath returns the unix socket path the daemon listens on.
func SocketPath() string {
	if path := os.Getenv(common.SocketPathEnv); path != "" {
		return path
	}
	return filepath.Join(os.TempDir(), "hostup.sock")
}
