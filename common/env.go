// Package common provides the wire types and constants shared by the
// hostup daemon and its clients.
package common

// Environment variable names for configuration.
const (
	// SocketPathEnv overrides the daemon's unix socket path.
	SocketPathEnv = "HOSTUP_SOCKET_PATH"

	// TCPPortEnv overrides the TCP fallback port.
	TCPPortEnv = "HOSTUP_TCP_PORT"

	// ForceTCPEnv forces clients to connect over TCP.
	ForceTCPEnv = "HOSTUP_FORCE_TCP"

	// RPCSecretEnv carries the bearer token for the HTTP RPC bridge.
	RPCSecretEnv = "HOSTUP_RPC_SECRET"

	// DebugEnv enables debug logging.
	DebugEnv = "HOSTUP_DEBUG"

	// ConfigDirEnv overrides the daemon's config directory.
	ConfigDirEnv = "HOSTUP_CONFIG_DIR"
)
