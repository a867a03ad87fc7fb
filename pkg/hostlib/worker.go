package hostlib

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostup/hostup/pkg/logger"
)

// Worker states.
type WorkerState int32

const (
	StateSpinningUp WorkerState = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateSpinningUp:
		return "spinning-up"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

const (
	workerPollInterval  = 2 * time.Second
	slotWaitTimeout     = 30 * time.Second
	storageCacheTTL     = 30 * time.Minute
	progressFlushEvery  = 500 * time.Millisecond
	testUploadSizeBytes = 1 << 10
)

// HostWorker owns one host's session and runs its job queue
// sequentially. It is created by HostWorkerManager, validates
// credentials during spinup when the host requires auth, and then
// loops: drain ad-hoc connection tests, pull the next pending job,
// acquire a slot, upload, hand the client's session mutations back.
type HostWorker struct {
	host       string
	descriptor *Descriptor
	loader     *DescriptorLoader

	store    UploadStore
	archiver Archiver
	settings Settings
	creds    CredentialSource
	stats    StatsRecorder
	coord    *ConnectionCoordinator
	tokens   *TokenCache
	client   *http.Client
	l        logger.Logger
	handlers *Handlers

	session *SessionState
	counter *BandwidthCounter

	slotWait  time.Duration
	state     atomic.Int32
	stopFlag  atomic.Bool
	testCh    chan struct{}
	cancelled VMap[string, *atomic.Bool]

	storageMu sync.Mutex
	storage   *UserInfo
	storageAt time.Time

	wg sync.WaitGroup
}

// WorkerOpts carries the collaborators a worker needs; the manager
// fills it once and shares it across workers.
type WorkerOpts struct {
	Loader      *DescriptorLoader
	Store       UploadStore
	Archiver    Archiver
	Settings    Settings
	Credentials CredentialSource
	Stats       StatsRecorder
	Coordinator *ConnectionCoordinator
	Tokens      *TokenCache
	HTTPClient  *http.Client
	Logger      logger.Logger
	Handlers    *Handlers
}

func NewHostWorker(host string, opts *WorkerOpts) (*HostWorker, error) {
	if opts == nil || opts.Loader == nil || opts.Store == nil {
		return nil, fmt.Errorf("worker for %s: missing collaborators", host)
	}
	d, err := opts.Loader.Get(host, opts.Settings)
	if err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	handlers := opts.Handlers
	if handlers == nil {
		handlers = &Handlers{}
	}
	handlers.setDefault(l)
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient("")
	}
	coord := opts.Coordinator
	if coord == nil {
		coord = NewConnectionCoordinator(0, 0)
	}
	w := &HostWorker{
		host:       host,
		descriptor: d,
		loader:     opts.Loader,
		store:      opts.Store,
		archiver:   opts.Archiver,
		settings:   opts.Settings,
		creds:      opts.Credentials,
		stats:      opts.Stats,
		coord:      coord,
		tokens:     opts.Tokens,
		client:     client,
		l:          l.WithCategory(host),
		handlers:   handlers,
		session:    NewSessionState(),
		counter:    NewBandwidthCounter(),
		slotWait:   slotWaitTimeout,
		testCh:     make(chan struct{}, 4),
		cancelled:  NewVMap[string, *atomic.Bool](),
	}
	w.state.Store(int32(StateSpinningUp))
	return w, nil
}

func (w *HostWorker) Host() string           { return w.host }
func (w *HostWorker) State() WorkerState     { return WorkerState(w.state.Load()) }
func (w *HostWorker) setState(s WorkerState) { w.state.Store(int32(s)) }

// Start runs spinup and, on success, the job loop in a goroutine. The
// spinup outcome always reaches the SpinupCompleteHandler, including
// on panic.
func (w *HostWorker) Start() {
	safeGo(w.l, &w.wg, "worker "+w.host, func(r interface{}) {
		w.setState(StateStopped)
		w.handlers.SpinupCompleteHandler(w.host, fmt.Errorf("spinup panic: %v", r))
	}, func() {
		if err := w.spinup(); err != nil {
			w.setState(StateStopped)
			w.handlers.SpinupCompleteHandler(w.host, err)
			return
		}
		w.setState(StateRunning)
		w.handlers.SpinupCompleteHandler(w.host, nil)
		w.run()
	})
}

// spinup validates credentials once before the worker may run. Hosts
// without auth pass trivially.
func (w *HostWorker) spinup() error {
	if !w.descriptor.Auth.Required {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.descriptor.TotalTimeoutOr(2*time.Minute))
	defer cancel()
	client, err := w.newClient()
	if err != nil {
		return err
	}
	check := client.TestCredentials(ctx)
	if !check.OK {
		return opErr(w.host, "spinup", KindAuthentication, errors.New(check.Message))
	}
	w.session.Merge(client.SessionSnapshot())
	if check.UserInfo != nil {
		w.cacheStorage(check.UserInfo)
	}
	return nil
}

func (w *HostWorker) newClient() (*HostClient, error) {
	return NewHostClient(w.client, w.descriptor, &HostClientOpts{
		Session:     w.session,
		Logger:      w.l,
		Credentials: w.creds,
		Tokens:      w.tokens,
		Bandwidth:   w.counter,
	})
}

// Stop requests a cooperative stop; the loop converges within the
// current operation's timeout, not instantly.
func (w *HostWorker) Stop() {
	w.stopFlag.Store(true)
}

// Join blocks until the worker goroutine exits.
func (w *HostWorker) Join() {
	w.wg.Wait()
}

func (w *HostWorker) Pause() {
	if w.State() == StateRunning {
		w.setState(StatePaused)
	}
}

func (w *HostWorker) Resume() {
	if w.State() == StatePaused {
		w.setState(StateRunning)
	}
}

// CancelJob flags a job so the next progress callback aborts it.
func (w *HostWorker) CancelJob(jobID string) {
	flag, ok := w.cancelled.Get(jobID)
	if !ok {
		flag = &atomic.Bool{}
		w.cancelled.Set(jobID, flag)
	}
	flag.Store(true)
}

func (w *HostWorker) jobCancelled(jobID string) bool {
	flag, ok := w.cancelled.Get(jobID)
	return ok && flag.Load()
}

// RequestTest queues an ad-hoc connection test. Tests run inline in
// the job loop so they exercise the exact session uploads would use.
func (w *HostWorker) RequestTest() error {
	if w.State() == StateStopped {
		return ErrWorkerNotRunning
	}
	select {
	case w.testCh <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("test already queued for %s", w.host)
	}
}

func (w *HostWorker) run() {
	defer w.setState(StateStopped)
	for !w.stopFlag.Load() {
		if w.State() == StatePaused {
			time.Sleep(workerPollInterval)
			continue
		}
		select {
		case <-w.testCh:
			w.runConnectionTest()
			continue
		default:
		}
		job := w.nextJob()
		if job == nil {
			time.Sleep(workerPollInterval)
			continue
		}
		w.processJob(job)
	}
}

func (w *HostWorker) nextJob() *UploadJob {
	jobs, err := w.store.GetPendingUploads(w.host)
	if err != nil {
		w.l.Error("fetching pending uploads: %s", err.Error())
		time.Sleep(workerPollInterval)
		return nil
	}
	if len(jobs) == 0 {
		return nil
	}
	return jobs[0]
}

func (w *HostWorker) processJob(job *UploadJob) {
	if w.stopFlag.Load() {
		job.Status = StatusFailed
		job.ErrorMessage = "host disabled"
		w.updateJob(job)
		return
	}
	if w.jobCancelled(job.ID) {
		w.cancelled.Delete(job.ID)
		job.Status = StatusFailed
		job.ErrorMessage = "cancelled before start"
		w.updateJob(job)
		return
	}

	slot, err := w.coord.AcquireSlot(job.ID, w.host, w.slotWait)
	if err != nil {
		if errors.Is(err, ErrSlotTimeout) {
			w.l.Info("no upload slot for job %s, retrying later", job.ID)
			return
		}
		w.failJob(job, err)
		return
	}
	defer slot.Release()

	archivePath, err := w.archiver.GetOrCreateArchive(job.ID, job.SourceDir, job.DisplayName)
	if err != nil {
		w.failJob(job, opErr(w.host, "archive", KindConfiguration, err))
		return
	}
	defer w.archiver.Release(job.ID)

	info, err := os.Stat(archivePath)
	if err != nil {
		w.failJob(job, opErr(w.host, "archive", KindConfiguration, err))
		return
	}
	job.TotalBytes = info.Size()
	job.Status = StatusUploading
	job.UploadedBytes = 0
	w.updateJob(job)
	w.handlers.UploadStartedHandler(job.ID, w.host, job.TotalBytes)

	client, err := w.newClient()
	if err != nil {
		w.failJob(job, err)
		return
	}

	lastFlush := time.Now()
	onProgress := func(total int64) {
		job.UploadedBytes = total
		w.handlers.UploadProgressHandler(job.ID, total)
		w.handlers.BandwidthHandler(w.counter.Rate())
		if time.Since(lastFlush) >= progressFlushEvery {
			lastFlush = time.Now()
			w.updateJob(job)
		}
	}
	shouldStop := func() bool {
		return w.stopFlag.Load() || w.jobCancelled(job.ID)
	}

	result, err := client.UploadFile(context.Background(), archivePath, onProgress, shouldStop)
	w.session.Merge(client.SessionSnapshot())
	if err != nil {
		w.handleUploadFailure(job, err)
		return
	}

	job.Status = StatusCompleted
	job.DownloadURL = result.URL
	job.FileID = result.FileID
	job.UploadedBytes = result.Size
	job.ErrorMessage = ""
	w.updateJob(job)
	w.cancelled.Delete(job.ID)
	if w.stats != nil {
		w.stats.RecordTransfer(w.host, result.Size, true)
	}
	w.handlers.UploadCompleteHandler(job.ID, w.host, result.URL)
}

// handleUploadFailure decides retry versus terminal failure. A
// cancellation never burns retry budget and is reported as an
// interruption, not an error.
func (w *HostWorker) handleUploadFailure(job *UploadJob, err error) {
	if w.stats != nil {
		w.stats.RecordTransfer(w.host, job.UploadedBytes, false)
	}
	kind := ErrKindOf(err)
	if kind == KindCancelled {
		w.cancelled.Delete(job.ID)
		job.Status = StatusFailed
		job.ErrorMessage = "cancelled"
		w.updateJob(job)
		w.handlers.UploadFailedHandler(job.ID, w.host, err)
		return
	}
	retryable := kind == KindTransient || kind == KindStaleToken
	if retryable && w.descriptor.Tunables.AutoRetry && job.RetryCount < w.descriptor.MaxRetries() {
		job.RetryCount++
		job.Status = StatusPending
		job.ErrorMessage = err.Error()
		w.updateJob(job)
		w.l.Warning("upload %s failed, retry %d/%d: %s",
			job.ID, job.RetryCount, w.descriptor.MaxRetries(), err.Error())
		return
	}
	w.failJob(job, err)
}

func (w *HostWorker) failJob(job *UploadJob, err error) {
	job.Status = StatusFailed
	job.ErrorMessage = err.Error()
	w.updateJob(job)
	w.cancelled.Delete(job.ID)
	w.handlers.UploadFailedHandler(job.ID, w.host, err)
}

func (w *HostWorker) updateJob(job *UploadJob) {
	if err := w.store.UpdateUpload(job); err != nil {
		w.l.Error("persisting job %s: %s", job.ID, err.Error())
	}
}

// CheckStorage reports the host's storage quota, served from a 30
// minute cache. On a miss it prefers figures captured during login
// over a dedicated call. Invalid figures (zero total, left beyond
// total) never replace cached data and never emit an update.
func (w *HostWorker) CheckStorage(ctx context.Context) (*UserInfo, error) {
	w.storageMu.Lock()
	if w.storage != nil && time.Since(w.storageAt) < storageCacheTTL {
		cached := *w.storage
		w.storageMu.Unlock()
		return &cached, nil
	}
	w.storageMu.Unlock()

	if w.session.StorageTotal > 0 && validStorage(w.session.StorageTotal, w.session.StorageLeft) {
		info := &UserInfo{
			StorageTotal: w.session.StorageTotal,
			StorageLeft:  w.session.StorageLeft,
			StorageUsed:  w.session.StorageTotal - w.session.StorageLeft,
		}
		w.cacheStorage(info)
		return info, nil
	}

	client, err := w.newClient()
	if err != nil {
		return nil, err
	}
	info, err := client.GetUserInfo(ctx)
	w.session.Merge(client.SessionSnapshot())
	if err != nil {
		return w.cachedStorageOr(err)
	}
	if !validStorage(info.StorageTotal, info.StorageLeft) {
		w.l.Warning("discarding invalid storage figures (total=%d left=%d)",
			info.StorageTotal, info.StorageLeft)
		return w.cachedStorageOr(opErr(w.host, "storage", KindProtocol,
			fmt.Errorf("invalid storage figures")))
	}
	w.cacheStorage(info)
	return info, nil
}

func validStorage(total, left int64) bool {
	return total > 0 && left >= 0 && left <= total
}

func (w *HostWorker) cacheStorage(info *UserInfo) {
	w.storageMu.Lock()
	w.storage = info
	w.storageAt = time.Now()
	w.storageMu.Unlock()
	w.handlers.StorageUpdatedHandler(w.host, info.StorageTotal, info.StorageLeft)
}

func (w *HostWorker) cachedStorageOr(err error) (*UserInfo, error) {
	w.storageMu.Lock()
	defer w.storageMu.Unlock()
	if w.storage != nil {
		cached := *w.storage
		return &cached, nil
	}
	return nil, err
}

// runConnectionTest exercises credentials, user info, a small upload
// and its deletion in order. Credential or upload failure fails the
// test; a delete failure is recorded but tolerated since not every
// host supports delete.
func (w *HostWorker) runConnectionTest() {
	result := TestResult{}
	defer func() { w.handlers.TestCompleteHandler(w.host, result) }()

	ctx, cancel := context.WithTimeout(context.Background(), w.descriptor.TotalTimeoutOr(5*time.Minute))
	defer cancel()

	client, err := w.newClient()
	if err != nil {
		result.Message = err.Error()
		return
	}
	check := client.TestCredentials(ctx)
	w.session.Merge(client.SessionSnapshot())
	if !check.OK {
		result.Message = check.Message
		return
	}
	result.CredentialsOK = true
	result.UserInfo = check.UserInfo
	result.UserInfoOK = check.UserInfo != nil

	path, cleanup, err := makeTestFile()
	if err != nil {
		result.Message = fmt.Sprintf("creating test file: %s", err.Error())
		return
	}
	defer cleanup()

	upload, err := client.UploadFile(ctx, path, func(int64) {}, func() bool { return w.stopFlag.Load() })
	w.session.Merge(client.SessionSnapshot())
	if err != nil {
		result.Message = fmt.Sprintf("test upload failed: %s", err.Error())
		return
	}
	result.UploadOK = true
	result.Passed = true
	result.Message = "connection test passed"

	if w.descriptor.Delete != nil && upload.FileID != "" {
		if derr := client.DeleteFile(ctx, upload.FileID); derr != nil {
			result.Message = fmt.Sprintf("test passed, cleanup delete failed: %s", derr.Error())
		} else {
			result.DeleteOK = true
		}
		w.session.Merge(client.SessionSnapshot())
	}
}

func makeTestFile() (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "hostup-test-*.bin")
	if err != nil {
		return "", nil, err
	}
	buf := make([]byte, testUploadSizeBytes)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	if _, err = f.Write(buf); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, err
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
