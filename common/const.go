package common

// DefaultTCPPort is the fallback TCP port when the unix socket is
// unavailable. The HTTP bridge listens on DefaultTCPPort+1.
const DefaultTCPPort = 4427

// TCPHost is the loopback address for the TCP fallback listener.
const TCPHost = "127.0.0.1"

// RPC method names.
const (
	MethodVersion = "system.version"

	MethodUploadAdd    = "upload.add"
	MethodUploadList   = "upload.list"
	MethodUploadStatus = "upload.status"
	MethodUploadCancel = "upload.cancel"
	MethodUploadRemove = "upload.remove"

	MethodHostList    = "host.list"
	MethodHostEnable  = "host.enable"
	MethodHostDisable = "host.disable"
	MethodHostPause   = "host.pause"
	MethodHostResume  = "host.resume"
	MethodHostTest    = "host.test"
	MethodHostStorage = "host.storage"

	MethodStats = "stats.get"

	MethodCredentialSet    = "credential.set"
	MethodCredentialDelete = "credential.delete"
	MethodCredentialList   = "credential.list"
)

// Push notification method names.
const (
	NotifyUploadStarted  = "upload.started"
	NotifyUploadProgress = "upload.progress"
	NotifyUploadComplete = "upload.complete"
	NotifyUploadFailed   = "upload.failed"
	NotifyStorageUpdated = "host.storage_updated"
	NotifyTestComplete   = "host.test_complete"
	NotifySpinupComplete = "host.spinup_complete"
	NotifyHostsChanged   = "host.running_changed"
	NotifyBandwidth      = "bandwidth"
)
