package server

import (
	"context"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/hostup/hostup/common"
	"github.com/hostup/hostup/pkg/hostlib"
	"github.com/hostup/hostup/pkg/logger"
)

// RPCNotifier maintains the set of connected jrpc2 servers and
// broadcasts push notifications to all of them.
type RPCNotifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	l       logger.Logger
}

// NewRPCNotifier creates a notifier.
func NewRPCNotifier(l logger.Logger) *RPCNotifier {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &RPCNotifier{
		servers: make(map[*jrpc2.Server]struct{}),
		l:       l.WithCategory("notify"),
	}
}

// Register adds a server to the broadcast set.
func (n *RPCNotifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes a server from the broadcast set.
func (n *RPCNotifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Broadcast sends a push notification to every registered server.
// Servers that fail to receive are unregistered.
func (n *RPCNotifier) Broadcast(method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(context.Background(), method, params); err != nil {
			n.l.Warning("push failed: %s", err.Error())
			failed = append(failed, srv)
		}
	}

	if len(failed) > 0 {
		n.mu.Lock()
		for _, srv := range failed {
			delete(n.servers, srv)
		}
		n.mu.Unlock()
	}
}

// Count returns the number of registered servers.
func (n *RPCNotifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

// EngineHandlers returns the engine observer callbacks wired to
// broadcast every event as a push notification.
func (n *RPCNotifier) EngineHandlers() *hostlib.Handlers {
	return &hostlib.Handlers{
		UploadStartedHandler: func(jobID, host string, totalBytes int64) {
			n.Broadcast(common.NotifyUploadStarted, common.UploadStartedNotification{
				ID: jobID, Host: host, TotalBytes: totalBytes,
			})
		},
		UploadProgressHandler: func(jobID string, uploadedBytes int64) {
			n.Broadcast(common.NotifyUploadProgress, common.UploadProgressNotification{
				ID: jobID, UploadedBytes: uploadedBytes,
			})
		},
		UploadCompleteHandler: func(jobID, host, downloadURL string) {
			n.Broadcast(common.NotifyUploadComplete, common.UploadCompleteNotification{
				ID: jobID, Host: host, DownloadURL: downloadURL,
			})
		},
		UploadFailedHandler: func(jobID, host string, err error) {
			n.Broadcast(common.NotifyUploadFailed, common.UploadFailedNotification{
				ID: jobID, Host: host, Error: err.Error(),
			})
		},
		StorageUpdatedHandler: func(host string, total, left int64) {
			n.Broadcast(common.NotifyStorageUpdated, common.StorageUpdatedNotification{
				Host: host, StorageTotal: total, StorageLeft: left,
			})
		},
		TestCompleteHandler: func(host string, result hostlib.TestResult) {
			n.Broadcast(common.NotifyTestComplete, common.TestCompleteNotification{
				Host: host, Result: result,
			})
		},
		SpinupCompleteHandler: func(host string, err error) {
			note := common.SpinupCompleteNotification{Host: host}
			if err != nil {
				note.Error = err.Error()
			}
			n.Broadcast(common.NotifySpinupComplete, note)
		},
		EnabledHostsChangedHandler: func(hosts []string) {
			n.Broadcast(common.NotifyHostsChanged, common.HostsChangedNotification{Hosts: hosts})
		},
		BandwidthHandler: func(bytesPerSecond int64) {
			n.Broadcast(common.NotifyBandwidth, common.BandwidthNotification{
				BytesPerSecond: bytesPerSecond,
			})
		},
	}
}
