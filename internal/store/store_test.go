package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hostup/hostup/pkg/hostlib"
)

var (
	_ hostlib.UploadStore   = (*Store)(nil)
	_ hostlib.Settings      = (*Store)(nil)
	_ hostlib.StatsRecorder = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "daemon.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(id, host string) *hostlib.UploadJob {
	return &hostlib.UploadJob{
		ID:          id,
		Host:        host,
		SourceDir:   "/data/" + id,
		DisplayName: id + ".zip",
	}
}

func TestEnqueueAndGetPending(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.EnqueueUpload(newJob(id, "sharebox")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.EnqueueUpload(newJob("other-host-job", "other")); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.GetPendingUploads("sharebox")
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Fatalf("pending = %d, want 3", len(jobs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if jobs[i].ID != want {
			t.Errorf("jobs[%d].ID = %q, want %q", i, jobs[i].ID, want)
		}
	}
}

func TestEnqueueRejectsMissingID(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueUpload(&hostlib.UploadJob{Host: "sharebox"}); err == nil {
		t.Error("job without id accepted")
	}
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueUpload(newJob("a", "sharebox")); err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueUpload(newJob("a", "sharebox")); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestUpdateUpload(t *testing.T) {
	s := openTestStore(t)
	job := newJob("a", "sharebox")
	if err := s.EnqueueUpload(job); err != nil {
		t.Fatal(err)
	}

	job.Status = hostlib.StatusCompleted
	job.UploadedBytes = 1024
	job.TotalBytes = 1024
	job.DownloadURL = "http://sharebox/f/1"
	job.FileID = "f1"
	if err := s.UpdateUpload(job); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUpload("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != hostlib.StatusCompleted || got.DownloadURL != "http://sharebox/f/1" || got.UploadedBytes != 1024 {
		t.Errorf("got %+v", got)
	}

	// completed jobs leave the pending view
	pending, err := s.GetPendingUploads("sharebox")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}

	if err := s.UpdateUpload(newJob("nope", "sharebox")); err != ErrUploadNotFound {
		t.Errorf("err = %v, want ErrUploadNotFound", err)
	}
}

func TestGetUploadMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetUpload("nope"); err != ErrUploadNotFound {
		t.Errorf("err = %v, want ErrUploadNotFound", err)
	}
}

func TestScheduledUploadHeldUntilDue(t *testing.T) {
	s := openTestStore(t)

	future := time.Now().Add(time.Hour)
	if err := s.EnqueueScheduled(newJob("later", "sharebox"), future, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueScheduled(newJob("past", "sharebox"), time.Now().Add(-time.Minute), ""); err != nil {
		t.Fatal(err)
	}

	pending, err := s.GetPendingUploads("sharebox")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "past" {
		t.Fatalf("pending = %+v, want only the due job", pending)
	}

	scheduled, err := s.ListScheduled()
	if err != nil {
		t.Fatal(err)
	}
	if len(scheduled) != 1 || scheduled[0].Job.ID != "later" {
		t.Fatalf("scheduled = %+v", scheduled)
	}
	if scheduled[0].At.UnixNano() != future.UnixNano() {
		t.Errorf("at = %v, want %v", scheduled[0].At, future)
	}
}

func TestRescheduleRecurringJob(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueScheduled(newJob("daily", "sharebox"), time.Now().Add(-time.Minute), "0 3 * * *"); err != nil {
		t.Fatal(err)
	}

	// recurring jobs stay visible to the scheduler even when due
	scheduled, err := s.ListScheduled()
	if err != nil {
		t.Fatal(err)
	}
	if len(scheduled) != 1 || scheduled[0].Recurrence != "0 3 * * *" {
		t.Fatalf("scheduled = %+v", scheduled)
	}

	job, _ := s.GetUpload("daily")
	job.Status = hostlib.StatusCompleted
	if err := s.UpdateUpload(job); err != nil {
		t.Fatal(err)
	}

	next := time.Now().Add(24 * time.Hour)
	if err := s.Reschedule("daily", next); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUpload("daily")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != hostlib.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	pending, _ := s.GetPendingUploads("sharebox")
	if len(pending) != 0 {
		t.Error("rescheduled job visible before its release time")
	}
}

func TestListUploadsFilters(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueUpload(newJob("a", "sharebox")); err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueUpload(newJob("b", "other")); err != nil {
		t.Fatal(err)
	}
	job, _ := s.GetUpload("a")
	job.Status = hostlib.StatusFailed
	if err := s.UpdateUpload(job); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListUploads("", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}

	failed, err := s.ListUploads("sharebox", hostlib.StatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ID != "a" {
		t.Errorf("failed = %+v", failed)
	}
}

func TestDeleteUpload(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueUpload(newJob("a", "sharebox")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUpload("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUpload("a"); err != ErrUploadNotFound {
		t.Errorf("err = %v, want ErrUploadNotFound", err)
	}
}

func TestSettingsFallbackAndCoercion(t *testing.T) {
	s := openTestStore(t)

	if got := s.String("sharebox", "x", "def"); got != "def" {
		t.Errorf("missing string = %q", got)
	}
	if got := s.Int("sharebox", "x", 7); got != 7 {
		t.Errorf("missing int = %d", got)
	}
	if got := s.Bool("sharebox", "x", true); got != true {
		t.Errorf("missing bool = %v", got)
	}

	if err := s.SetString("sharebox", "name", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetInt("sharebox", "max_retries", 5); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBool("sharebox", "enabled", true); err != nil {
		t.Fatal(err)
	}

	if got := s.String("sharebox", "name", ""); got != "v" {
		t.Errorf("name = %q", got)
	}
	if got := s.Int("sharebox", "max_retries", 0); got != 5 {
		t.Errorf("max_retries = %d", got)
	}
	if !s.Bool("sharebox", "enabled", false) {
		t.Error("enabled = false")
	}

	// unparsable value falls back to the default
	if err := s.SetString("sharebox", "max_retries", "banana"); err != nil {
		t.Fatal(err)
	}
	if got := s.Int("sharebox", "max_retries", 3); got != 3 {
		t.Errorf("unparsable int = %d, want default 3", got)
	}

	// settings are host scoped
	if s.Bool("other", "enabled", false) {
		t.Error("enabled leaked across hosts")
	}

	if err := s.DeleteSetting("sharebox", "name"); err != nil {
		t.Fatal(err)
	}
	if got := s.String("sharebox", "name", "def"); got != "def" {
		t.Errorf("deleted setting = %q", got)
	}
}

func TestStatsAggregation(t *testing.T) {
	s := openTestStore(t)

	s.RecordTransfer("sharebox", 100, true)
	s.RecordTransfer("sharebox", 200, true)
	s.RecordTransfer("sharebox", 50, false)
	s.RecordTransfer("other", 10, true)

	st, err := s.Stats("sharebox")
	if err != nil {
		t.Fatal(err)
	}
	if st.Uploads != 2 || st.Failures != 1 || st.Bytes != 350 {
		t.Errorf("stats = %+v", st)
	}

	all, err := s.AllStats()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Host != "other" || all[1].Host != "sharebox" {
		t.Errorf("all = %+v", all)
	}

	empty, err := s.Stats("unknown")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Uploads != 0 || empty.Bytes != 0 {
		t.Errorf("empty = %+v", empty)
	}
}
