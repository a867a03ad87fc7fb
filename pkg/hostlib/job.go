package hostlib

// JobStatus is the queue-visible lifecycle state of an upload job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusUploading JobStatus = "uploading"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// UploadJob is one unit of work pulled from the external queue. The
// engine reads the identity fields and writes back status, progress and
// the upload result; everything else stays owned by the queue.
type UploadJob struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	// SourceDir is the folder to package and upload.
	SourceDir string `json:"source_dir"`
	// DisplayName names the archive presented to the host.
	DisplayName string `json:"display_name"`

	Status        JobStatus `json:"status"`
	UploadedBytes int64     `json:"uploaded_bytes"`
	TotalBytes    int64     `json:"total_bytes"`
	DownloadURL   string    `json:"download_url,omitempty"`
	FileID        string    `json:"file_id,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	RetryCount    int       `json:"retry_count"`
}

// UploadStore is the queue/database collaborator. Implementations must
// be safe for use from multiple workers.
type UploadStore interface {
	// GetPendingUploads returns the pending jobs for a host in queue order.
	GetPendingUploads(host string) ([]*UploadJob, error)
	// UpdateUpload persists the engine-owned fields of a job.
	UpdateUpload(job *UploadJob) error
}

// Archiver packages a job's source folder into an uploadable archive.
// Archives are reference counted: the final Release for a job deletes
// the temporary file.
type Archiver interface {
	GetOrCreateArchive(jobID, sourceDir, displayName string) (path string, err error)
	Release(jobID string)
}

// Settings is the host-scoped settings collaborator. Lookups fall back
// persisted override -> descriptor default -> the def argument.
type Settings interface {
	String(host, key, def string) string
	Int(host, key string, def int) int
	Bool(host, key string, def bool) bool

	SetString(host, key, value string) error
	SetInt(host, key string, value int) error
	SetBool(host, key string, value bool) error
}

// CredentialSource resolves decrypted credential values by key
// ("<host>.username", "<host>.password", "<host>.api_key"). Encryption
// at rest is the store's concern, not the engine's.
type CredentialSource interface {
	Credential(key string) (string, error)
}

// StatsRecorder is the narrow metrics collaborator. Failures to record
// never fail an upload.
type StatsRecorder interface {
	RecordTransfer(host string, bytes int64, ok bool)
}

// Settings keys the engine consults. Hosts may override each through
// the settings store; the descriptor's tunables are the second tier.
const (
	SettingEnabled           = "enabled"
	SettingAutoRetry         = "auto_retry"
	SettingMaxRetries        = "max_retries"
	SettingInactivityTimeout = "inactivity_timeout"
	SettingTotalTimeout      = "total_timeout"
)
