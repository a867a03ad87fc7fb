package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/jrpc2/jhttp"
	"github.com/spf13/afero"

	"github.com/hostup/hostup/common"
	"github.com/hostup/hostup/internal/store"
	"github.com/hostup/hostup/pkg/credman"
	"github.com/hostup/hostup/pkg/hostlib"
)

const testDescriptorYAML = `
name: sharebox
auth:
  required: true
  type: token_login
  login_url: https://api.sharebox.example/login
  user_field: login
  pass_field: password
  token_path: [data, token]
  status_path: [status]
  token_ttl: 3600
upload:
  method: POST
  url: https://api.sharebox.example/upload
  file_field: file
response:
  type: json
  url_path: [data, url]
`

type testEnv struct {
	srv     *Server
	store   *store.Store
	handler http.Handler
	secret  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/hosts/sharebox.yaml", []byte(testDescriptorYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	loader := hostlib.NewDescriptorLoader(fs, "/hosts", "", nil)
	if err := loader.Load(); err != nil {
		t.Fatalf("load descriptors: %v", err)
	}

	manager, err := hostlib.NewHostWorkerManager(&hostlib.WorkerOpts{
		Loader:   loader,
		Store:    st,
		Settings: st,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	key := bytes.Repeat([]byte{0x17}, 32)
	creds, err := credman.NewManager(filepath.Join(dir, "credentials.dat"), key)
	if err != nil {
		t.Fatalf("new credman: %v", err)
	}

	secret := "test-rpc-secret"
	srv, err := New(&Config{
		Secret:     secret,
		Version:    "1.0.0",
		Commit:     "abc123",
		BuildType:  "release",
		SocketPath: filepath.Join(dir, "test.sock"),
	}, &Deps{
		Store:       st,
		Manager:     manager,
		Loader:      loader,
		Credentials: creds,
		Coordinator: hostlib.NewConnectionCoordinator(0, 0),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	bridge := jhttp.NewBridge(srv.methods, nil)
	t.Cleanup(func() { bridge.Close() })
	return &testEnv{
		srv:     srv,
		store:   st,
		handler: requireToken(secret, bridge),
		secret:  secret,
	}
}

// rpcCall sends a JSON-RPC request through the handler and returns the
// HTTP status and parsed response.
func rpcCall(t *testing.T, handler http.Handler, method string, params any, authToken string) (int, map[string]any) {
	t.Helper()
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      1,
	}
	if params != nil {
		reqBody["params"] = params
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	resp := rr.Result()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var result map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(body))
		}
	}
	return rr.Code, result
}

func rpcResult(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %v", resp)
	}
	return result
}

func rpcErrCode(t *testing.T, resp map[string]any) float64 {
	t.Helper()
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", resp)
	}
	return errObj["code"].(float64)
}

func TestSystemVersion(t *testing.T) {
	env := newTestEnv(t)

	code, resp := rpcCall(t, env.handler, common.MethodVersion, nil, env.secret)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	result := rpcResult(t, resp)
	if result["version"] != "1.0.0" || result["commit"] != "abc123" {
		t.Fatalf("unexpected version result: %v", result)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	code, resp := rpcCall(t, env.handler, common.MethodVersion, nil, "")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if errObj, ok := resp["error"].(map[string]any); !ok || errObj["message"] != "Unauthorized" {
		t.Fatalf("expected Unauthorized error, got %v", resp)
	}

	code, _ = rpcCall(t, env.handler, common.MethodVersion, nil, "wrong-token")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", code)
	}
}

func TestValidToken(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"valid", "s3cret", "Bearer s3cret", true},
		{"wrong token", "s3cret", "Bearer nope", false},
		{"no bearer prefix", "s3cret", "s3cret", false},
		{"empty header", "s3cret", "", false},
		{"empty secret rejects all", "", "Bearer anything", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := validToken(tc.secret, tc.header); got != tc.want {
				t.Fatalf("validToken(%q, %q) = %v, want %v", tc.secret, tc.header, got, tc.want)
			}
		})
	}
}

func sourceDirWithFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "payload.bin"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestUploadAddAndStatus(t *testing.T) {
	env := newTestEnv(t)
	src := sourceDirWithFile(t)

	_, resp := rpcCall(t, env.handler, common.MethodUploadAdd, common.UploadAddParams{
		Host:      "sharebox",
		SourceDir: src,
	}, env.secret)
	id, _ := rpcResult(t, resp)["id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty job id, got %v", resp)
	}

	_, resp = rpcCall(t, env.handler, common.MethodUploadStatus, common.UploadIDParams{ID: id}, env.secret)
	result := rpcResult(t, resp)
	if result["status"] != "pending" {
		t.Fatalf("expected pending, got %v", result["status"])
	}
	if result["display_name"] != filepath.Base(src) {
		t.Fatalf("expected display name %q, got %v", filepath.Base(src), result["display_name"])
	}

	// the new job is visible to workers
	jobs, err := env.store.GetPendingUploads("sharebox")
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Fatalf("expected pending job %s, got %v", id, jobs)
	}
}

func TestUploadAddValidation(t *testing.T) {
	env := newTestEnv(t)
	src := sourceDirWithFile(t)

	tests := []struct {
		name   string
		params common.UploadAddParams
		code   float64
	}{
		{"missing host", common.UploadAddParams{SourceDir: src}, -32602},
		{"unknown host", common.UploadAddParams{Host: "nope", SourceDir: src}, -32001},
		{"missing source dir", common.UploadAddParams{Host: "sharebox"}, -32602},
		{"source dir not found", common.UploadAddParams{Host: "sharebox", SourceDir: filepath.Join(src, "missing")}, -32602},
		{"source is a file", common.UploadAddParams{Host: "sharebox", SourceDir: filepath.Join(src, "payload.bin")}, -32602},
		{"bad cron", common.UploadAddParams{Host: "sharebox", SourceDir: src, Cron: "not a cron"}, -32602},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, resp := rpcCall(t, env.handler, common.MethodUploadAdd, tc.params, env.secret)
			if got := rpcErrCode(t, resp); got != tc.code {
				t.Fatalf("expected code %v, got %v", tc.code, got)
			}
		})
	}
}

func TestUploadAddScheduled(t *testing.T) {
	env := newTestEnv(t)
	src := sourceDirWithFile(t)

	_, resp := rpcCall(t, env.handler, common.MethodUploadAdd, common.UploadAddParams{
		Host:       "sharebox",
		SourceDir:  src,
		ScheduleAt: time.Now().Add(time.Hour),
	}, env.secret)
	id, _ := rpcResult(t, resp)["id"].(string)
	if id == "" {
		t.Fatalf("expected job id, got %v", resp)
	}

	// not yet due, so workers must not see it
	jobs, err := env.store.GetPendingUploads("sharebox")
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("scheduled job leaked into pending view: %v", jobs)
	}

	scheduled, err := env.store.ListScheduled()
	if err != nil {
		t.Fatal(err)
	}
	if len(scheduled) != 1 || scheduled[0].Job.ID != id {
		t.Fatalf("expected scheduled job %s, got %v", id, scheduled)
	}
}

func TestUploadAddCronDerivesFirstRun(t *testing.T) {
	env := newTestEnv(t)
	src := sourceDirWithFile(t)

	_, resp := rpcCall(t, env.handler, common.MethodUploadAdd, common.UploadAddParams{
		Host:      "sharebox",
		SourceDir: src,
		Cron:      "0 3 * * *",
	}, env.secret)
	id, _ := rpcResult(t, resp)["id"].(string)
	if id == "" {
		t.Fatalf("expected job id, got %v", resp)
	}

	scheduled, err := env.store.ListScheduled()
	if err != nil {
		t.Fatal(err)
	}
	if len(scheduled) != 1 {
		t.Fatalf("expected one scheduled job, got %d", len(scheduled))
	}
	if scheduled[0].Recurrence != "0 3 * * *" {
		t.Fatalf("expected recurrence preserved, got %q", scheduled[0].Recurrence)
	}
	if !scheduled[0].At.After(time.Now()) {
		t.Fatalf("expected first occurrence in the future, got %v", scheduled[0].At)
	}
}

func TestUploadCancelPending(t *testing.T) {
	env := newTestEnv(t)
	src := sourceDirWithFile(t)

	_, resp := rpcCall(t, env.handler, common.MethodUploadAdd, common.UploadAddParams{
		Host:      "sharebox",
		SourceDir: src,
	}, env.secret)
	id := rpcResult(t, resp)["id"].(string)

	// no worker is running, so cancel fails the job outright
	_, resp = rpcCall(t, env.handler, common.MethodUploadCancel, common.UploadIDParams{ID: id}, env.secret)
	if _, ok := resp["result"]; !ok {
		t.Fatalf("expected success, got %v", resp)
	}

	job, err := env.store.GetUpload(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != hostlib.StatusFailed || job.ErrorMessage != "cancelled" {
		t.Fatalf("expected failed/cancelled, got %s/%s", job.Status, job.ErrorMessage)
	}

	// a finished job cannot be cancelled again
	_, resp = rpcCall(t, env.handler, common.MethodUploadCancel, common.UploadIDParams{ID: id}, env.secret)
	if got := rpcErrCode(t, resp); got != -32002 {
		t.Fatalf("expected code -32002, got %v", got)
	}
}

func TestUploadRemove(t *testing.T) {
	env := newTestEnv(t)
	src := sourceDirWithFile(t)

	_, resp := rpcCall(t, env.handler, common.MethodUploadAdd, common.UploadAddParams{
		Host:      "sharebox",
		SourceDir: src,
	}, env.secret)
	id := rpcResult(t, resp)["id"].(string)

	_, resp = rpcCall(t, env.handler, common.MethodUploadRemove, common.UploadIDParams{ID: id}, env.secret)
	if _, ok := resp["result"]; !ok {
		t.Fatalf("expected success, got %v", resp)
	}

	_, resp = rpcCall(t, env.handler, common.MethodUploadStatus, common.UploadIDParams{ID: id}, env.secret)
	if got := rpcErrCode(t, resp); got != -32001 {
		t.Fatalf("expected code -32001 after remove, got %v", got)
	}
}

func TestUploadList(t *testing.T) {
	env := newTestEnv(t)
	src := sourceDirWithFile(t)

	for i := 0; i < 3; i++ {
		_, resp := rpcCall(t, env.handler, common.MethodUploadAdd, common.UploadAddParams{
			Host:      "sharebox",
			SourceDir: src,
		}, env.secret)
		rpcResult(t, resp)
	}

	_, resp := rpcCall(t, env.handler, common.MethodUploadList, common.UploadListParams{Host: "sharebox"}, env.secret)
	uploads, ok := rpcResult(t, resp)["uploads"].([]any)
	if !ok || len(uploads) != 3 {
		t.Fatalf("expected 3 uploads, got %v", resp)
	}

	_, resp = rpcCall(t, env.handler, common.MethodUploadList, common.UploadListParams{Host: "other"}, env.secret)
	if uploads, _ := rpcResult(t, resp)["uploads"].([]any); len(uploads) != 0 {
		t.Fatalf("expected no uploads for other host, got %v", uploads)
	}
}

func TestHostList(t *testing.T) {
	env := newTestEnv(t)

	_, resp := rpcCall(t, env.handler, common.MethodHostList, nil, env.secret)
	hosts, ok := rpcResult(t, resp)["hosts"].([]any)
	if !ok || len(hosts) != 1 {
		t.Fatalf("expected one host, got %v", resp)
	}
	h := hosts[0].(map[string]any)
	if h["name"] != "sharebox" || h["enabled"] != false || h["running"] != false {
		t.Fatalf("unexpected host entry: %v", h)
	}

	if err := env.store.SetBool("sharebox", hostlib.SettingEnabled, true); err != nil {
		t.Fatal(err)
	}
	_, resp = rpcCall(t, env.handler, common.MethodHostList, nil, env.secret)
	h = rpcResult(t, resp)["hosts"].([]any)[0].(map[string]any)
	if h["enabled"] != true {
		t.Fatalf("expected enabled after SetBool, got %v", h)
	}
}

func TestHostOpsRequireRunningWorker(t *testing.T) {
	env := newTestEnv(t)

	for _, method := range []string{
		common.MethodHostDisable,
		common.MethodHostPause,
		common.MethodHostResume,
		common.MethodHostTest,
		common.MethodHostStorage,
	} {
		t.Run(method, func(t *testing.T) {
			_, resp := rpcCall(t, env.handler, method, common.HostParams{Host: "sharebox"}, env.secret)
			if got := rpcErrCode(t, resp); got != -32002 {
				t.Fatalf("expected code -32002, got %v", got)
			}
		})
	}
}

func TestHostEnableUnknown(t *testing.T) {
	env := newTestEnv(t)

	_, resp := rpcCall(t, env.handler, common.MethodHostEnable, common.HostParams{Host: "nope"}, env.secret)
	if got := rpcErrCode(t, resp); got != -32001 {
		t.Fatalf("expected code -32001, got %v", got)
	}
}

func TestStatsGet(t *testing.T) {
	env := newTestEnv(t)

	env.store.RecordTransfer("sharebox", 100, true)
	env.store.RecordTransfer("sharebox", 50, false)
	env.store.RecordTransfer("otherbox", 25, true)

	_, resp := rpcCall(t, env.handler, common.MethodStats, common.StatsParams{}, env.secret)
	hosts, ok := rpcResult(t, resp)["hosts"].([]any)
	if !ok || len(hosts) != 2 {
		t.Fatalf("expected two host entries, got %v", resp)
	}

	_, resp = rpcCall(t, env.handler, common.MethodStats, common.StatsParams{Host: "sharebox"}, env.secret)
	hosts = rpcResult(t, resp)["hosts"].([]any)
	if len(hosts) != 1 {
		t.Fatalf("expected one host entry, got %v", hosts)
	}
	h := hosts[0].(map[string]any)
	if h["uploads"].(float64) != 1 || h["failures"].(float64) != 1 || h["bytes"].(float64) != 100 {
		t.Fatalf("unexpected stats: %v", h)
	}
}

func TestCredentialMethods(t *testing.T) {
	env := newTestEnv(t)

	_, resp := rpcCall(t, env.handler, common.MethodCredentialSet, common.CredentialSetParams{
		Host: "sharebox", Field: "username", Value: "alice",
	}, env.secret)
	if _, ok := resp["result"]; !ok {
		t.Fatalf("expected success, got %v", resp)
	}
	_, resp = rpcCall(t, env.handler, common.MethodCredentialSet, common.CredentialSetParams{
		Host: "sharebox", Field: "password", Value: "hunter2",
	}, env.secret)
	rpcResult(t, resp)

	_, resp = rpcCall(t, env.handler, common.MethodCredentialList, common.HostParams{Host: "sharebox"}, env.secret)
	fields, ok := rpcResult(t, resp)["fields"].([]any)
	if !ok || len(fields) != 2 {
		t.Fatalf("expected two fields, got %v", resp)
	}
	if fields[0] != "password" || fields[1] != "username" {
		t.Fatalf("expected sorted fields, got %v", fields)
	}

	_, resp = rpcCall(t, env.handler, common.MethodCredentialDelete, common.CredentialDeleteParams{
		Host: "sharebox", Field: "password",
	}, env.secret)
	if _, ok := resp["result"]; !ok {
		t.Fatalf("expected success, got %v", resp)
	}

	_, resp = rpcCall(t, env.handler, common.MethodCredentialSet, common.CredentialSetParams{
		Host: "", Field: "username", Value: "x",
	}, env.secret)
	if got := rpcErrCode(t, resp); got != -32602 {
		t.Fatalf("expected code -32602, got %v", got)
	}
}
