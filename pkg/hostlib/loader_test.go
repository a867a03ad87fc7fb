package hostlib

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

const sampleDescriptorYAML = `
name: sharebox
icon: sharebox.png
referral_url: https://sharebox.example/ref
auth:
  required: true
  type: token_login
  login_url: https://api.sharebox.example/login
  user_field: login
  pass_field: password
  token_path: [data, token]
  status_path: [status]
  token_ttl: 3600
  stale_patterns:
    - "invalid token"
upload:
  method: POST
  url: "{server}"
  server_url: https://api.sharebox.example/server
  server_path: [server]
  file_field: file
  inactivity_timeout: 120
response:
  type: json
  url_path: [data, url]
  file_id_path: [data, id]
delete:
  url: https://api.sharebox.example/delete/{id}
  method: GET
user_info:
  url: https://api.sharebox.example/me
  storage_total_path: [data, total]
  storage_left_path: [data, left]
tunables:
  auto_retry: true
  max_retries: 2
`

func memFsWith(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func TestLoaderParsesYAML(t *testing.T) {
	fs := memFsWith(t, map[string]string{
		"/builtin/sharebox.yaml": sampleDescriptorYAML,
	})
	dl := NewDescriptorLoader(fs, "/builtin", "/custom", nil)
	if err := dl.Load(); err != nil {
		t.Fatal(err)
	}

	d, err := dl.Get("sharebox", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Auth.Type != AuthTokenLogin {
		t.Errorf("auth type = %q", d.Auth.Type)
	}
	if len(d.Auth.TokenPath) != 2 || d.Auth.TokenPath[1] != "token" {
		t.Errorf("token path = %v", d.Auth.TokenPath)
	}
	if d.Upload.ServerURL == "" || d.Upload.FileField != "file" {
		t.Errorf("upload spec = %+v", d.Upload)
	}
	if d.Delete == nil || d.Delete.URL == "" {
		t.Error("delete spec missing")
	}
	if !d.Tunables.AutoRetry || d.Tunables.MaxRetries != 2 {
		t.Errorf("tunables = %+v", d.Tunables)
	}
}

func TestLoaderCustomOverridesBuiltinWholesale(t *testing.T) {
	custom := `
name: sharebox
auth:
  required: false
  type: none
upload:
  method: PUT
  url: https://alt.example/up/{filename}
response:
  type: text
`
	fs := memFsWith(t, map[string]string{
		"/builtin/sharebox.yaml": sampleDescriptorYAML,
		"/custom/sharebox.yaml":  custom,
	})
	dl := NewDescriptorLoader(fs, "/builtin", "/custom", nil)
	if err := dl.Load(); err != nil {
		t.Fatal(err)
	}

	d, err := dl.Get("sharebox", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Auth.Required {
		t.Error("builtin auth leaked through wholesale override")
	}
	if d.Upload.Method != "PUT" {
		t.Errorf("method = %q", d.Upload.Method)
	}
	// no field-level merge: builtin-only sections must be gone
	if d.Delete != nil {
		t.Error("builtin delete spec survived the override")
	}
}

func TestLoaderSkipsInvalidFile(t *testing.T) {
	fs := memFsWith(t, map[string]string{
		"/builtin/good.yaml": sampleDescriptorYAML,
		"/builtin/bad.yaml":  "name: broken\nauth: {type: bogus}\nupload: {url: x}\nresponse: {type: json, url_path: [u]}",
	})
	dl := NewDescriptorLoader(fs, "/builtin", "", nil)
	if err := dl.Load(); err != nil {
		t.Fatal(err)
	}
	if !dl.Has("sharebox") {
		t.Error("valid descriptor not loaded")
	}
	if dl.Has("broken") {
		t.Error("invalid descriptor loaded")
	}
}

func TestLoaderUnknownHost(t *testing.T) {
	fs := memFsWith(t, map[string]string{"/builtin/s.yaml": sampleDescriptorYAML})
	dl := NewDescriptorLoader(fs, "/builtin", "", nil)
	if err := dl.Load(); err != nil {
		t.Fatal(err)
	}
	if _, err := dl.Get("nope", nil); !errors.Is(err, ErrHostNotFound) {
		t.Errorf("err = %v, want ErrHostNotFound", err)
	}
}

func TestLoaderAppliesTunableOverrides(t *testing.T) {
	fs := memFsWith(t, map[string]string{"/builtin/s.yaml": sampleDescriptorYAML})
	dl := NewDescriptorLoader(fs, "/builtin", "", nil)
	if err := dl.Load(); err != nil {
		t.Fatal(err)
	}

	settings := newFakeSettings()
	settings.SetInt("sharebox", SettingMaxRetries, 7)
	settings.SetBool("sharebox", SettingAutoRetry, false)

	d, err := dl.Get("sharebox", settings)
	if err != nil {
		t.Fatal(err)
	}
	if d.Tunables.MaxRetries != 7 {
		t.Errorf("max retries = %d, want persisted override 7", d.Tunables.MaxRetries)
	}
	if d.Tunables.AutoRetry {
		t.Error("auto retry override not applied")
	}

	// the shared descriptor keeps its own defaults
	pristine, _ := dl.Get("sharebox", nil)
	if pristine.Tunables.MaxRetries != 2 {
		t.Errorf("shared descriptor mutated: %d", pristine.Tunables.MaxRetries)
	}
}

func TestDescriptorValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Descriptor)
		ok     bool
	}{
		{"valid", func(d *Descriptor) {}, true},
		{"no name", func(d *Descriptor) { d.Name = "" }, false},
		{"bad auth type", func(d *Descriptor) { d.Auth.Type = "oauth9" }, false},
		{"required none", func(d *Descriptor) { d.Auth.Required = true; d.Auth.Type = AuthNone }, false},
		{"token login no path", func(d *Descriptor) {
			d.Auth.Type = AuthTokenLogin
			d.Auth.TokenPath = nil
		}, false},
		{"no upload url", func(d *Descriptor) { d.Upload.URL = "" }, false},
		{"bad method", func(d *Descriptor) { d.Upload.Method = "PATCH" }, false},
		{"json without path", func(d *Descriptor) { d.Response.URLPath = nil }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := standardDescriptor("http://h/up")
			tc.mutate(d)
			err := d.Validate()
			if (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestDescriptorCloneIsDeep(t *testing.T) {
	d := standardDescriptor("http://h/up")
	d.Upload.ExtraFields = map[string]string{"a": "1"}
	d.Auth.StalePatterns = []string{"expired"}
	d.MultiStep = &MultiStepSpec{InitURL: "http://h/init", BodyStyle: InitBodyQuery,
		InitFields: map[string]string{"k": "v"}}
	d.Delete = &DeleteSpec{URL: "http://h/del", Params: map[string]string{"p": "1"}}

	clone := d.Clone()
	clone.Upload.ExtraFields["a"] = "2"
	clone.Auth.StalePatterns[0] = "other"
	clone.MultiStep.InitFields["k"] = "w"
	clone.Delete.Params["p"] = "2"

	if d.Upload.ExtraFields["a"] != "1" || d.Auth.StalePatterns[0] != "expired" {
		t.Error("clone shares auth/upload storage with original")
	}
	if d.MultiStep.InitFields["k"] != "v" || d.Delete.Params["p"] != "1" {
		t.Error("clone shares nested spec storage with original")
	}
}
