package hostcli

import (
	"github.com/creachadair/jrpc2"

	"github.com/hostup/hostup/common"
)

// Events holds the push-notification callbacks. Nil callbacks are
// skipped; unknown notification methods are ignored.
type Events struct {
	UploadStarted  func(common.UploadStartedNotification)
	UploadProgress func(common.UploadProgressNotification)
	UploadComplete func(common.UploadCompleteNotification)
	UploadFailed   func(common.UploadFailedNotification)
	StorageUpdated func(common.StorageUpdatedNotification)
	TestComplete   func(common.TestCompleteNotification)
	SpinupComplete func(common.SpinupCompleteNotification)
	HostsChanged   func(common.HostsChangedNotification)
	Bandwidth      func(common.BandwidthNotification)
}

func (e *Events) dispatch(req *jrpc2.Request) {
	switch req.Method() {
	case common.NotifyUploadStarted:
		decodeInto(req, e.UploadStarted)
	case common.NotifyUploadProgress:
		decodeInto(req, e.UploadProgress)
	case common.NotifyUploadComplete:
		decodeInto(req, e.UploadComplete)
	case common.NotifyUploadFailed:
		decodeInto(req, e.UploadFailed)
	case common.NotifyStorageUpdated:
		decodeInto(req, e.StorageUpdated)
	case common.NotifyTestComplete:
		decodeInto(req, e.TestComplete)
	case common.NotifySpinupComplete:
		decodeInto(req, e.SpinupComplete)
	case common.NotifyHostsChanged:
		decodeInto(req, e.HostsChanged)
	case common.NotifyBandwidth:
		decodeInto(req, e.Bandwidth)
	}
}

// decodeInto unmarshals the notification params and invokes fn. A
// payload that fails to decode is dropped; one malformed push must not
// kill the listener.
func decodeInto[T any](req *jrpc2.Request, fn func(T)) {
	if fn == nil {
		return
	}
	var payload T
	if err := req.UnmarshalParams(&payload); err != nil {
		debugLog("dropping malformed %s notification: %v", req.Method(), err)
		return
	}
	fn(payload)
}
