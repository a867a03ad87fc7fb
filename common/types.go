package common

import (
	"time"

	"github.com/hostup/hostup/pkg/hostlib"
)

// VersionResult is the response for system.version.
type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"build_type,omitempty"`
}

// UploadAddParams is the input for upload.add. A zero ScheduleAt
// enqueues immediately; a cron expression makes the upload recur.
type UploadAddParams struct {
	Host        string    `json:"host"`
	SourceDir   string    `json:"source_dir"`
	DisplayName string    `json:"display_name,omitempty"`
	ScheduleAt  time.Time `json:"schedule_at,omitempty"`
	Cron        string    `json:"cron,omitempty"`
}

// UploadAddResult is the response for upload.add.
type UploadAddResult struct {
	ID string `json:"id"`
}

// UploadIDParams is the common input carrying just a job id.
type UploadIDParams struct {
	ID string `json:"id"`
}

// UploadListParams is the input for upload.list. Empty fields match
// everything.
type UploadListParams struct {
	Host   string `json:"host,omitempty"`
	Status string `json:"status,omitempty"`
}

// UploadListResult is the response for upload.list.
type UploadListResult struct {
	Uploads []*hostlib.UploadJob `json:"uploads"`
}

// HostParams is the common input carrying just a host name.
type HostParams struct {
	Host string `json:"host"`
}

// HostInfo describes one configured host in host.list.
type HostInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`
	State   string `json:"state,omitempty"`
}

// HostListResult is the response for host.list.
type HostListResult struct {
	Hosts []HostInfo `json:"hosts"`
}

// StorageResult is the response for host.storage.
type StorageResult struct {
	Host string           `json:"host"`
	Info hostlib.UserInfo `json:"info"`
}

// StatsParams is the input for stats.get. Empty host means all hosts.
type StatsParams struct {
	Host string `json:"host,omitempty"`
}

// HostStats is one host's aggregate transfer history.
type HostStats struct {
	Host     string `json:"host"`
	Uploads  int64  `json:"uploads"`
	Failures int64  `json:"failures"`
	Bytes    int64  `json:"bytes"`
}

// ActiveUpload is one currently held upload slot.
type ActiveUpload struct {
	JobID string    `json:"job_id"`
	Host  string    `json:"host"`
	Since time.Time `json:"since"`
}

// StatsResult is the response for stats.get.
type StatsResult struct {
	Hosts  []*HostStats   `json:"hosts"`
	Active []ActiveUpload `json:"active"`
}

// CredentialSetParams is the input for credential.set.
type CredentialSetParams struct {
	Host  string `json:"host"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// CredentialDeleteParams is the input for credential.delete.
type CredentialDeleteParams struct {
	Host  string `json:"host"`
	Field string `json:"field"`
}

// CredentialListResult is the response for credential.list. Values are
// never returned over the wire.
type CredentialListResult struct {
	Host   string   `json:"host"`
	Fields []string `json:"fields"`
}

// EmptyResult is the placeholder response for methods with no data.
type EmptyResult struct{}

// Push notification payloads.

// UploadStartedNotification is sent when a job's transfer begins.
type UploadStartedNotification struct {
	ID         string `json:"id"`
	Host       string `json:"host"`
	TotalBytes int64  `json:"total_bytes"`
}

// UploadProgressNotification is sent as bytes move.
type UploadProgressNotification struct {
	ID            string `json:"id"`
	UploadedBytes int64  `json:"uploaded_bytes"`
}

// UploadCompleteNotification is sent when a job finishes.
type UploadCompleteNotification struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	DownloadURL string `json:"download_url"`
}

// UploadFailedNotification is sent when a job fails terminally.
type UploadFailedNotification struct {
	ID    string `json:"id"`
	Host  string `json:"host"`
	Error string `json:"error"`
}

// StorageUpdatedNotification is sent when a host's storage figures
// change. Values are bytes.
type StorageUpdatedNotification struct {
	Host         string `json:"host"`
	StorageTotal int64  `json:"storage_total"`
	StorageLeft  int64  `json:"storage_left"`
}

// TestCompleteNotification is sent when an ad-hoc connection test
// finishes.
type TestCompleteNotification struct {
	Host   string             `json:"host"`
	Result hostlib.TestResult `json:"result"`
}

// SpinupCompleteNotification is sent once per enable attempt.
type SpinupCompleteNotification struct {
	Host  string `json:"host"`
	Error string `json:"error,omitempty"`
}

// HostsChangedNotification is sent when the running-host set changes.
type HostsChangedNotification struct {
	Hosts []string `json:"hosts"`
}

// BandwidthNotification carries the aggregate upload rate.
type BandwidthNotification struct {
	BytesPerSecond int64 `json:"bytes_per_second"`
}
