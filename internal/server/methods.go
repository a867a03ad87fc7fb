package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/hostup/hostup/common"
	"github.com/hostup/hostup/internal/scheduler"
	"github.com/hostup/hostup/internal/store"
	"github.com/hostup/hostup/pkg/hostlib"
)

// JSON-RPC error codes for daemon operations.
const (
	codeNotFound      = jrpc2.Code(-32001)
	codeNotActive     = jrpc2.Code(-32002)
	codeInvalidParams = jrpc2.Code(-32602)
)

func rpcError(code jrpc2.Code, format string, args ...any) error {
	return &jrpc2.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (s *Server) methodMap() handler.Map {
	return handler.Map{
		common.MethodVersion: handler.New(s.systemVersion),

		common.MethodUploadAdd:    handler.New(s.uploadAdd),
		common.MethodUploadList:   handler.New(s.uploadList),
		common.MethodUploadStatus: handler.New(s.uploadStatus),
		common.MethodUploadCancel: handler.New(s.uploadCancel),
		common.MethodUploadRemove: handler.New(s.uploadRemove),

		common.MethodHostList:    handler.New(s.hostList),
		common.MethodHostEnable:  handler.New(s.hostEnable),
		common.MethodHostDisable: handler.New(s.hostDisable),
		common.MethodHostPause:   handler.New(s.hostPause),
		common.MethodHostResume:  handler.New(s.hostResume),
		common.MethodHostTest:    handler.New(s.hostTest),
		common.MethodHostStorage: handler.New(s.hostStorage),

		common.MethodStats: handler.New(s.statsGet),

		common.MethodCredentialSet:    handler.New(s.credentialSet),
		common.MethodCredentialDelete: handler.New(s.credentialDelete),
		common.MethodCredentialList:   handler.New(s.credentialList),
	}
}

func (s *Server) systemVersion(_ context.Context) (*common.VersionResult, error) {
	return &common.VersionResult{
		Version:   s.cfg.Version,
		Commit:    s.cfg.Commit,
		BuildType: s.cfg.BuildType,
	}, nil
}

// newJobID returns a random 16-hex-char job identifier.
func newJobID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// uploadAdd enqueues a new upload job, immediately or at a scheduled
// time. The spinup and transfer outcomes arrive as notifications.
func (s *Server) uploadAdd(_ context.Context, p *common.UploadAddParams) (*common.UploadAddResult, error) {
	if p.Host == "" {
		return nil, rpcError(codeInvalidParams, "missing required param: host")
	}
	if !s.deps.Loader.Has(p.Host) {
		return nil, rpcError(codeNotFound, "unknown host: %s", p.Host)
	}
	if p.SourceDir == "" {
		return nil, rpcError(codeInvalidParams, "missing required param: source_dir")
	}
	info, err := os.Stat(p.SourceDir)
	if err != nil {
		return nil, rpcError(codeInvalidParams, "source_dir: %s", err.Error())
	}
	if !info.IsDir() {
		return nil, rpcError(codeInvalidParams, "source_dir is not a directory")
	}
	if p.Cron != "" && !scheduler.ValidCron(p.Cron) {
		return nil, rpcError(codeInvalidParams, "invalid cron expression: %s", p.Cron)
	}

	displayName := p.DisplayName
	if displayName == "" {
		displayName = filepath.Base(p.SourceDir)
	}
	job := &hostlib.UploadJob{
		ID:          newJobID(),
		Host:        p.Host,
		SourceDir:   p.SourceDir,
		DisplayName: displayName,
		Status:      hostlib.StatusPending,
	}

	at := p.ScheduleAt
	if at.IsZero() && p.Cron != "" {
		// first occurrence of the recurrence
		next, err := gronxNext(p.Cron)
		if err != nil {
			return nil, rpcError(codeInvalidParams, "invalid cron expression: %s", p.Cron)
		}
		at = next
	}

	if at.IsZero() {
		if err := s.deps.Store.EnqueueUpload(job); err != nil {
			return nil, rpcError(codeInvalidParams, "%s", err.Error())
		}
	} else {
		if err := s.deps.Store.EnqueueScheduled(job, at, p.Cron); err != nil {
			return nil, rpcError(codeInvalidParams, "%s", err.Error())
		}
		if s.deps.Scheduler != nil {
			s.deps.Scheduler.Add(scheduler.ScheduleEvent{
				JobID:     job.ID,
				TriggerAt: at,
				CronExpr:  p.Cron,
			})
		}
	}
	s.l.Info("enqueued %s for %s", job.ID, job.Host)
	return &common.UploadAddResult{ID: job.ID}, nil
}

func (s *Server) uploadList(_ context.Context, p *common.UploadListParams) (*common.UploadListResult, error) {
	jobs, err := s.deps.Store.ListUploads(p.Host, hostlib.JobStatus(p.Status))
	if err != nil {
		return nil, rpcError(codeInvalidParams, "%s", err.Error())
	}
	return &common.UploadListResult{Uploads: jobs}, nil
}

func (s *Server) uploadStatus(_ context.Context, p *common.UploadIDParams) (*hostlib.UploadJob, error) {
	job, err := s.deps.Store.GetUpload(p.ID)
	if err != nil {
		if errors.Is(err, store.ErrUploadNotFound) {
			return nil, rpcError(codeNotFound, "upload not found")
		}
		return nil, rpcError(codeInvalidParams, "%s", err.Error())
	}
	return job, nil
}

// uploadCancel flags a running job's transfer for cancellation, or
// fails a still-pending job outright.
func (s *Server) uploadCancel(_ context.Context, p *common.UploadIDParams) (*common.EmptyResult, error) {
	job, err := s.deps.Store.GetUpload(p.ID)
	if err != nil {
		if errors.Is(err, store.ErrUploadNotFound) {
			return nil, rpcError(codeNotFound, "upload not found")
		}
		return nil, rpcError(codeInvalidParams, "%s", err.Error())
	}
	switch job.Status {
	case hostlib.StatusCompleted, hostlib.StatusFailed:
		return nil, rpcError(codeNotActive, "upload already %s", job.Status)
	}
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Remove(p.ID)
	}
	// a running worker drains the flag; without one the job is failed
	// here so it never starts
	if err := s.deps.Manager.CancelJob(job.Host, p.ID); err != nil {
		job.Status = hostlib.StatusFailed
		job.ErrorMessage = "cancelled"
		if uerr := s.deps.Store.UpdateUpload(job); uerr != nil {
			return nil, rpcError(codeInvalidParams, "%s", uerr.Error())
		}
	}
	return &common.EmptyResult{}, nil
}

func (s *Server) uploadRemove(_ context.Context, p *common.UploadIDParams) (*common.EmptyResult, error) {
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Remove(p.ID)
	}
	if err := s.deps.Store.DeleteUpload(p.ID); err != nil {
		if errors.Is(err, store.ErrUploadNotFound) {
			return nil, rpcError(codeNotFound, "upload not found")
		}
		return nil, rpcError(codeInvalidParams, "%s", err.Error())
	}
	return &common.EmptyResult{}, nil
}

func (s *Server) hostList(_ context.Context) (*common.HostListResult, error) {
	var hosts []common.HostInfo
	for _, name := range s.deps.Loader.Names() {
		info := common.HostInfo{
			Name:    name,
			Enabled: s.deps.Store.Bool(name, hostlib.SettingEnabled, false),
		}
		if worker, err := s.deps.Manager.Worker(name); err == nil {
			info.Running = true
			info.State = worker.State().String()
		}
		hosts = append(hosts, info)
	}
	return &common.HostListResult{Hosts: hosts}, nil
}

// hostEnable starts the host's worker. The result only acknowledges
// the attempt; the spinup outcome arrives as a notification.
func (s *Server) hostEnable(_ context.Context, p *common.HostParams) (*common.EmptyResult, error) {
	err := s.deps.Manager.EnableHost(p.Host)
	switch {
	case err == nil:
		return &common.EmptyResult{}, nil
	case errors.Is(err, hostlib.ErrHostNotFound):
		return nil, rpcError(codeNotFound, "unknown host: %s", p.Host)
	case errors.Is(err, hostlib.ErrWorkerAlreadyUp):
		return nil, rpcError(codeNotActive, "host already enabled: %s", p.Host)
	default:
		return nil, rpcError(codeInvalidParams, "%s", err.Error())
	}
}

func (s *Server) hostDisable(_ context.Context, p *common.HostParams) (*common.EmptyResult, error) {
	if err := s.deps.Manager.DisableHost(p.Host); err != nil {
		return nil, workerError(err, p.Host)
	}
	return &common.EmptyResult{}, nil
}

func (s *Server) hostPause(_ context.Context, p *common.HostParams) (*common.EmptyResult, error) {
	if err := s.deps.Manager.PauseHost(p.Host); err != nil {
		return nil, workerError(err, p.Host)
	}
	return &common.EmptyResult{}, nil
}

func (s *Server) hostResume(_ context.Context, p *common.HostParams) (*common.EmptyResult, error) {
	if err := s.deps.Manager.ResumeHost(p.Host); err != nil {
		return nil, workerError(err, p.Host)
	}
	return &common.EmptyResult{}, nil
}

// hostTest queues a connection test; the result arrives as a
// notification once the worker reaches it.
func (s *Server) hostTest(_ context.Context, p *common.HostParams) (*common.EmptyResult, error) {
	if err := s.deps.Manager.RequestTest(p.Host); err != nil {
		return nil, workerError(err, p.Host)
	}
	return &common.EmptyResult{}, nil
}

func (s *Server) hostStorage(ctx context.Context, p *common.HostParams) (*common.StorageResult, error) {
	info, err := s.deps.Manager.CheckStorage(ctx, p.Host)
	if err != nil {
		if errors.Is(err, hostlib.ErrWorkerNotRunning) {
			return nil, rpcError(codeNotActive, "host not running: %s", p.Host)
		}
		return nil, rpcError(codeInvalidParams, "%s", err.Error())
	}
	return &common.StorageResult{Host: p.Host, Info: *info}, nil
}

func (s *Server) statsGet(_ context.Context, p *common.StatsParams) (*common.StatsResult, error) {
	var hosts []*common.HostStats
	if p.Host != "" {
		st, err := s.deps.Store.Stats(p.Host)
		if err != nil {
			return nil, rpcError(codeInvalidParams, "%s", err.Error())
		}
		hosts = append(hosts, &common.HostStats{
			Host: st.Host, Uploads: st.Uploads, Failures: st.Failures, Bytes: st.Bytes,
		})
	} else {
		all, err := s.deps.Store.AllStats()
		if err != nil {
			return nil, rpcError(codeInvalidParams, "%s", err.Error())
		}
		for _, st := range all {
			hosts = append(hosts, &common.HostStats{
				Host: st.Host, Uploads: st.Uploads, Failures: st.Failures, Bytes: st.Bytes,
			})
		}
	}

	var active []common.ActiveUpload
	if s.deps.Coordinator != nil {
		for _, au := range s.deps.Coordinator.ActiveUploads() {
			if p.Host != "" && au.Host != p.Host {
				continue
			}
			active = append(active, common.ActiveUpload{
				JobID: au.JobID, Host: au.Host, Since: au.Since,
			})
		}
	}
	return &common.StatsResult{Hosts: hosts, Active: active}, nil
}

func (s *Server) credentialSet(_ context.Context, p *common.CredentialSetParams) (*common.EmptyResult, error) {
	if s.deps.Credentials == nil {
		return nil, rpcError(codeInvalidParams, "credential store unavailable")
	}
	if p.Host == "" || p.Field == "" {
		return nil, rpcError(codeInvalidParams, "host and field are required")
	}
	if err := s.deps.Credentials.Set(p.Host, p.Field, p.Value); err != nil {
		return nil, rpcError(codeInvalidParams, "%s", err.Error())
	}
	return &common.EmptyResult{}, nil
}

func (s *Server) credentialDelete(_ context.Context, p *common.CredentialDeleteParams) (*common.EmptyResult, error) {
	if s.deps.Credentials == nil {
		return nil, rpcError(codeInvalidParams, "credential store unavailable")
	}
	if err := s.deps.Credentials.Delete(p.Host, p.Field); err != nil {
		return nil, rpcError(codeNotFound, "%s", err.Error())
	}
	return &common.EmptyResult{}, nil
}

func (s *Server) credentialList(_ context.Context, p *common.HostParams) (*common.CredentialListResult, error) {
	if s.deps.Credentials == nil {
		return nil, rpcError(codeInvalidParams, "credential store unavailable")
	}
	return &common.CredentialListResult{
		Host:   p.Host,
		Fields: s.deps.Credentials.Fields(p.Host),
	}, nil
}

func workerError(err error, host string) error {
	if errors.Is(err, hostlib.ErrWorkerNotRunning) {
		return rpcError(codeNotActive, "host not running: %s", host)
	}
	return rpcError(codeInvalidParams, "%s", err.Error())
}

// gronxNext returns the next occurrence of a cron expression after
// now.
func gronxNext(expr string) (time.Time, error) {
	return scheduler.NextOccurrence(expr, time.Now())
}
