package hostlib

import "github.com/hostup/hostup/pkg/logger"

type (
	// UploadStartedHandlerFunc is called when a job's transfer begins.
	// It takes the job id, host name and total byte count as arguments.
	UploadStartedHandlerFunc func(jobID, host string, totalBytes int64)
	// UploadProgressHandlerFunc is called as bytes move.
	// It takes the job id and cumulative uploaded bytes as arguments.
	UploadProgressHandlerFunc func(jobID string, uploadedBytes int64)
	// UploadCompleteHandlerFunc is called when a job finishes with the
	// final download URL assigned by the host.
	UploadCompleteHandlerFunc func(jobID, host, downloadURL string)
	// UploadFailedHandlerFunc is called when a job fails terminally.
	UploadFailedHandlerFunc func(jobID, host string, err error)
	// StorageUpdatedHandlerFunc is called when a host's storage figures
	// change. Values are bytes.
	StorageUpdatedHandlerFunc func(host string, total, left int64)
	// TestCompleteHandlerFunc is called when an ad-hoc connection test
	// finishes with its per-stage outcome.
	TestCompleteHandlerFunc func(host string, result TestResult)
	// SpinupCompleteHandlerFunc is called once per enable attempt with
	// the validation outcome.
	SpinupCompleteHandlerFunc func(host string, err error)
	// EnabledHostsChangedHandlerFunc is called whenever the running-host
	// set changes.
	EnabledHostsChangedHandlerFunc func(hosts []string)
	// BandwidthHandlerFunc is called with the aggregate upload rate in
	// bytes per second.
	BandwidthHandlerFunc func(bytesPerSecond int64)
)

// Handlers carries the observer callbacks the engine pushes events
// through. Events are fire-and-forget; consumers must tolerate repeats.
type Handlers struct {
	UploadStartedHandler       UploadStartedHandlerFunc
	UploadProgressHandler      UploadProgressHandlerFunc
	UploadCompleteHandler      UploadCompleteHandlerFunc
	UploadFailedHandler        UploadFailedHandlerFunc
	StorageUpdatedHandler      StorageUpdatedHandlerFunc
	TestCompleteHandler        TestCompleteHandlerFunc
	SpinupCompleteHandler      SpinupCompleteHandlerFunc
	EnabledHostsChangedHandler EnabledHostsChangedHandlerFunc
	BandwidthHandler           BandwidthHandlerFunc
}

func (h *Handlers) setDefault(l logger.Logger) {
	if h.UploadStartedHandler == nil {
		h.UploadStartedHandler = func(jobID, host string, totalBytes int64) {}
	}
	if h.UploadProgressHandler == nil {
		h.UploadProgressHandler = func(jobID string, uploadedBytes int64) {}
	}
	if h.UploadCompleteHandler == nil {
		h.UploadCompleteHandler = func(jobID, host, downloadURL string) {}
	}
	if h.UploadFailedHandler == nil {
		h.UploadFailedHandler = func(jobID, host string, err error) {
			l.Error("%s: job %s failed: %s", host, jobID, err.Error())
		}
	}
	if h.StorageUpdatedHandler == nil {
		h.StorageUpdatedHandler = func(host string, total, left int64) {}
	}
	if h.TestCompleteHandler == nil {
		h.TestCompleteHandler = func(host string, result TestResult) {}
	}
	if h.SpinupCompleteHandler == nil {
		h.SpinupCompleteHandler = func(host string, err error) {}
	}
	if h.EnabledHostsChangedHandler == nil {
		h.EnabledHostsChangedHandler = func(hosts []string) {}
	}
	if h.BandwidthHandler == nil {
		h.BandwidthHandler = func(bytesPerSecond int64) {}
	}
}

// TestResult is the per-stage outcome of a connection test. Delete is a
// soft stage: its failure is recorded but does not fail the test.
type TestResult struct {
	CredentialsOK bool   `json:"credentials_ok"`
	UserInfoOK    bool   `json:"user_info_ok"`
	UploadOK      bool   `json:"upload_ok"`
	DeleteOK      bool   `json:"delete_ok"`
	Passed        bool   `json:"passed"`
	Message       string `json:"message"`

	UserInfo *UserInfo `json:"user_info,omitempty"`
}
