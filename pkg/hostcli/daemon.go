package hostcli

import (
	"fmt"
	"net"
	"time"
)

const (
	daemonStartTimeout = 3 * time.Second
	socketPollInterval = 50 * time.Millisecond
	socketDialTimeout  = 100 * time.Millisecond
)

// EnsureDaemon checks that the daemon is reachable and spawns it if
// not. Returns nil once the daemon accepts connections.
func EnsureDaemon() error {
	if isDaemonRunning() {
		return nil
	}
	if err := spawnDaemon(); err != nil {
		return err
	}
	return waitForDaemon(daemonStartTimeout)
}

// isDaemonRunning probes the socket (or TCP fallback) with a short
// dial.
func isDaemonRunning() bool {
	conn, err := dialTimeout(socketDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func dialTimeout(timeout time.Duration) (net.Conn, error) {
	if forceTCP() {
		return net.DialTimeout("tcp", tcpAddress(), timeout)
	}
	conn, err := net.DialTimeout("unix", socketPath(), timeout)
	if err != nil {
		return net.DialTimeout("tcp", tcpAddress(), timeout)
	}
	return conn, nil
}

// waitForDaemon polls until the daemon accepts connections or the
// timeout expires.
func waitForDaemon(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if isDaemonRunning() {
			return nil
		}
		time.Sleep(socketPollInterval)
	}
	return fmt.Errorf("daemon failed to start within %v", timeout)
}
