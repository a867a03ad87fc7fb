package hostlib

import (
	"fmt"
	"time"
)

// AuthType enumerates the authentication schemes a host may use.
type AuthType string

const (
	AuthNone       AuthType = "none"
	AuthAPIKey     AuthType = "api_key"
	AuthBearer     AuthType = "bearer"
	AuthBasic      AuthType = "basic"
	AuthSession    AuthType = "session"
	AuthTokenLogin AuthType = "token_login"
	AuthMixed      AuthType = "mixed"
)

func (a AuthType) valid() bool {
	switch a {
	case AuthNone, AuthAPIKey, AuthBearer, AuthBasic, AuthSession, AuthTokenLogin, AuthMixed:
		return true
	}
	return false
}

// ResponseType enumerates how the final upload response is parsed.
type ResponseType string

const (
	ResponseJSON     ResponseType = "json"
	ResponseText     ResponseType = "text"
	ResponseRegex    ResponseType = "regex"
	ResponseRedirect ResponseType = "redirect"
)

func (r ResponseType) valid() bool {
	switch r {
	case ResponseJSON, ResponseText, ResponseRegex, ResponseRedirect:
		return true
	}
	return false
}

// InitBodyStyle enumerates how a multi-step init request carries its
// parameters.
type InitBodyStyle string

const (
	// InitBodyQuery substitutes the template placeholders into the init
	// URL and issues a GET.
	InitBodyQuery InitBodyStyle = "query"
	// InitBodyJSON posts the init fields as a JSON object.
	InitBodyJSON InitBodyStyle = "json"
)

// CaptchaTransform enumerates the post-assembly transforms applied to a
// solved digit captcha.
type CaptchaTransform string

const (
	CaptchaPlain        CaptchaTransform = ""
	CaptchaReverse      CaptchaTransform = "reverse"
	CaptchaThirdToFront CaptchaTransform = "third_to_front"
)

// AuthSpec describes how to authenticate against a host.
type AuthSpec struct {
	Required bool     `yaml:"required"`
	Type     AuthType `yaml:"type"`

	// LoginURL is where session or token_login credentials are posted.
	LoginURL string `yaml:"login_url"`
	// UserField and PassField are the form/JSON field names carrying
	// the credentials.
	UserField string `yaml:"user_field"`
	PassField string `yaml:"pass_field"`
	// ExtraFields are static fields merged into every login request.
	ExtraFields map[string]string `yaml:"extra_fields"`

	// APIKeyHeader is the header carrying the key for api_key auth.
	// Empty means the key is sent as the "key" form field instead.
	APIKeyHeader string `yaml:"api_key_header"`

	// SessionCookie is the cookie the host issues on login.
	SessionCookie string `yaml:"session_cookie"`
	// SessionRegex extracts a session id from the login response HTML
	// when the host does not use a cookie.
	SessionRegex string `yaml:"session_regex"`

	// TokenPath locates the token inside a token_login JSON response.
	TokenPath []string `yaml:"token_path"`
	// StatusPath locates the numeric status inside a token_login
	// response; a value other than 200 is a login failure.
	StatusPath []string `yaml:"status_path"`

	// TokenTTLSeconds bounds the proactive token lifetime. Zero means
	// the token never goes stale proactively.
	TokenTTLSeconds int `yaml:"token_ttl"`

	// StalePatterns are substrings of a response body that mark the
	// current token as rejected even under a 2xx status.
	StalePatterns []string `yaml:"stale_patterns"`

	Captcha *CaptchaSpec `yaml:"captcha"`
}

// CaptchaSpec describes the digit-position captcha some session hosts
// put on their login form. Digits are absolutely positioned via a CSS
// left offset; solving means reading them in left-to-right order and
// applying the transform.
type CaptchaSpec struct {
	// DigitRegex captures (left-offset, digit) pairs from the login page.
	DigitRegex string           `yaml:"digit_regex"`
	FieldName  string           `yaml:"field_name"`
	Transform  CaptchaTransform `yaml:"transform"`
}

// UploadSpec describes the standard (single request) upload path.
type UploadSpec struct {
	// Method is POST (multipart) or PUT (raw body).
	Method string `yaml:"method"`
	// URL may contain {server} and {filename} placeholders.
	URL string `yaml:"url"`

	// ServerURL, when set, is called first to resolve the {server}
	// placeholder ("get server" indirection).
	ServerURL string `yaml:"server_url"`
	// ServerPath locates the server inside the ServerURL JSON response.
	ServerPath []string `yaml:"server_path"`
	// SessionIDPath optionally extracts a single-use session id from the
	// same response, sent along as the SessionIDField form field.
	SessionIDPath  []string `yaml:"session_id_path"`
	SessionIDField string   `yaml:"session_id_field"`

	// FileField is the multipart field carrying the file on POST uploads.
	FileField string `yaml:"file_field"`
	// ExtraFields are static multipart fields sent with the file.
	ExtraFields map[string]string `yaml:"extra_fields"`

	// InactivityTimeoutSeconds aborts the transfer when no bytes move
	// for this long. Zero uses DefaultInactivityTimeout.
	InactivityTimeoutSeconds int `yaml:"inactivity_timeout"`
	// TotalTimeoutSeconds bounds the whole transfer. Zero means none.
	TotalTimeoutSeconds int `yaml:"total_timeout"`
}

// MultiStepSpec describes the init -> upload -> poll protocol variant.
type MultiStepSpec struct {
	InitURL    string        `yaml:"init_url"`
	InitMethod string        `yaml:"init_method"`
	BodyStyle  InitBodyStyle `yaml:"body_style"`
	// InitFields go into the JSON body (json style) or are substituted
	// into InitURL along with {filename}, {size}, {token} and {hash}
	// (query style).
	InitFields map[string]string `yaml:"init_fields"`

	// RequiresHash makes the client compute the file digest before init.
	RequiresHash bool   `yaml:"requires_hash"`
	HashAlgo     string `yaml:"hash_algo"`

	// UploadURLPath locates the allocated upload URL in the init response.
	UploadURLPath []string `yaml:"upload_url_path"`
	// UploadIDPath locates the id used for polling and deletion.
	UploadIDPath []string `yaml:"upload_id_path"`
	// FileFieldPath optionally overrides UploadSpec.FileField per upload.
	FileFieldPath []string `yaml:"file_field_path"`
	// FormDataPath locates a map of dynamic fields the host wants echoed
	// back in the upload request.
	FormDataPath []string `yaml:"form_data_path"`

	// StatePath and DedupState detect server-side deduplication: when the
	// state at StatePath equals DedupState the file already exists and
	// DedupURLPath holds its URL.
	StatePath    []string `yaml:"state_path"`
	DedupState   int      `yaml:"dedup_state"`
	DedupURLPath []string `yaml:"dedup_url_path"`

	// Poll settings; PollURL may contain {id}.
	PollURL          string   `yaml:"poll_url"`
	PollDelaySeconds float64  `yaml:"poll_delay"`
	PollRetries      int      `yaml:"poll_retries"`
	PollURLPath      []string `yaml:"poll_url_path"`
	PollStatePath    []string `yaml:"poll_state_path"`
	PollDoneValue    string   `yaml:"poll_done_value"`
}

// ResponseSpec describes how the terminal upload response yields the
// download link and internal file id.
type ResponseSpec struct {
	Type ResponseType `yaml:"type"`

	URLPath    []string `yaml:"url_path"`
	FileIDPath []string `yaml:"file_id_path"`

	URLRegex    string `yaml:"url_regex"`
	FileIDRegex string `yaml:"file_id_regex"`

	LinkPrefix string `yaml:"link_prefix"`
	LinkSuffix string `yaml:"link_suffix"`
}

// DeleteSpec describes the optional file deletion call. URL may contain
// {id} and {token}.
type DeleteSpec struct {
	URL    string `yaml:"url"`
	Method string `yaml:"method"`
	// Params are sent as a form body (form style), JSON body (json
	// style) or query parameters (query style); values may contain the
	// {id} and {token} placeholders.
	Params    map[string]string `yaml:"params"`
	BodyStyle string            `yaml:"body_style"`
	// CheckBody runs the stale-token patterns against 2xx bodies too.
	CheckBody bool `yaml:"check_body"`
}

// UserInfoSpec describes the optional account/storage probe.
type UserInfoSpec struct {
	URL    string `yaml:"url"`
	Method string `yaml:"method"`

	StorageTotalPath []string `yaml:"storage_total_path"`
	StorageLeftPath  []string `yaml:"storage_left_path"`
	StorageUsedPath  []string `yaml:"storage_used_path"`
	PremiumPath      []string `yaml:"premium_path"`

	// HTMLRegex captures (used, total) in GB from an HTML account page
	// for hosts without a JSON endpoint.
	HTMLRegex string `yaml:"html_regex"`
}

// Tunables are the operator-adjustable knobs overlaid from the settings
// store into a private descriptor copy. Everything else in a Descriptor
// is immutable once loaded.
type Tunables struct {
	AutoRetry                bool `yaml:"auto_retry"`
	MaxRetries               int  `yaml:"max_retries"`
	InactivityTimeoutSeconds int  `yaml:"inactivity_timeout"`
	TotalTimeoutSeconds      int  `yaml:"total_timeout"`
}

// Descriptor is the declarative protocol definition for one host. It is
// a pure data value: clients never mutate it, and runtime overrides are
// applied with Clone before use.
type Descriptor struct {
	Name        string `yaml:"name"`
	Icon        string `yaml:"icon"`
	ReferralURL string `yaml:"referral_url"`

	Auth      AuthSpec       `yaml:"auth"`
	Upload    UploadSpec     `yaml:"upload"`
	MultiStep *MultiStepSpec `yaml:"multi_step"`
	Response  ResponseSpec   `yaml:"response"`
	Delete    *DeleteSpec    `yaml:"delete"`
	UserInfo  *UserInfoSpec  `yaml:"user_info"`

	Tunables Tunables `yaml:"tunables"`
}

// Default timeouts applied when a descriptor leaves them unset.
const (
	DefaultInactivityTimeout = 60 * time.Second
	DefaultPollDelay         = 3 * time.Second
	DefaultPollRetries       = 20
	DefaultMaxRetries        = 3
)

// Validate checks the invariants a descriptor must satisfy before any
// client is built from it.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor has no name")
	}
	if !d.Auth.Type.valid() {
		return fmt.Errorf("%s: unknown auth type %q", d.Name, d.Auth.Type)
	}
	if d.Auth.Required && d.Auth.Type == AuthNone {
		return fmt.Errorf("%s: auth required but auth type is none", d.Name)
	}
	if d.Auth.Type == AuthTokenLogin && len(d.Auth.TokenPath) == 0 {
		return fmt.Errorf("%s: token_login auth without token_path", d.Name)
	}
	if d.Auth.Type == AuthSession && d.Auth.LoginURL == "" {
		return fmt.Errorf("%s: session auth without login_url", d.Name)
	}
	if d.Upload.URL == "" && d.MultiStep == nil {
		return fmt.Errorf("%s: no upload url and no multi-step spec", d.Name)
	}
	switch d.Upload.Method {
	case "", "POST", "PUT":
	default:
		return fmt.Errorf("%s: unsupported upload method %q", d.Name, d.Upload.Method)
	}
	if !d.Response.Type.valid() {
		return fmt.Errorf("%s: unknown response type %q", d.Name, d.Response.Type)
	}
	if d.Response.Type == ResponseJSON && len(d.Response.URLPath) == 0 &&
		(d.MultiStep == nil || len(d.MultiStep.PollURLPath) == 0) {
		return fmt.Errorf("%s: json response without url_path", d.Name)
	}
	if d.Response.Type == ResponseRegex && d.Response.URLRegex == "" {
		return fmt.Errorf("%s: regex response without url_regex", d.Name)
	}
	if ms := d.MultiStep; ms != nil {
		if ms.InitURL == "" {
			return fmt.Errorf("%s: multi-step spec without init_url", d.Name)
		}
		switch ms.BodyStyle {
		case InitBodyQuery, InitBodyJSON:
		default:
			return fmt.Errorf("%s: unknown init body style %q", d.Name, ms.BodyStyle)
		}
	}
	return nil
}

// Clone returns a deep copy safe for per-client override application.
func (d *Descriptor) Clone() *Descriptor {
	cp := *d
	cp.Auth.ExtraFields = copyMap(d.Auth.ExtraFields)
	cp.Auth.TokenPath = copySlice(d.Auth.TokenPath)
	cp.Auth.StatusPath = copySlice(d.Auth.StatusPath)
	cp.Auth.StalePatterns = copySlice(d.Auth.StalePatterns)
	if d.Auth.Captcha != nil {
		c := *d.Auth.Captcha
		cp.Auth.Captcha = &c
	}
	cp.Upload.ServerPath = copySlice(d.Upload.ServerPath)
	cp.Upload.SessionIDPath = copySlice(d.Upload.SessionIDPath)
	cp.Upload.ExtraFields = copyMap(d.Upload.ExtraFields)
	if d.MultiStep != nil {
		ms := *d.MultiStep
		ms.InitFields = copyMap(d.MultiStep.InitFields)
		ms.UploadURLPath = copySlice(d.MultiStep.UploadURLPath)
		ms.UploadIDPath = copySlice(d.MultiStep.UploadIDPath)
		ms.FileFieldPath = copySlice(d.MultiStep.FileFieldPath)
		ms.FormDataPath = copySlice(d.MultiStep.FormDataPath)
		ms.StatePath = copySlice(d.MultiStep.StatePath)
		ms.DedupURLPath = copySlice(d.MultiStep.DedupURLPath)
		ms.PollURLPath = copySlice(d.MultiStep.PollURLPath)
		ms.PollStatePath = copySlice(d.MultiStep.PollStatePath)
		cp.MultiStep = &ms
	}
	cp.Response.URLPath = copySlice(d.Response.URLPath)
	cp.Response.FileIDPath = copySlice(d.Response.FileIDPath)
	if d.Delete != nil {
		del := *d.Delete
		del.Params = copyMap(d.Delete.Params)
		cp.Delete = &del
	}
	if d.UserInfo != nil {
		ui := *d.UserInfo
		ui.StorageTotalPath = copySlice(d.UserInfo.StorageTotalPath)
		ui.StorageLeftPath = copySlice(d.UserInfo.StorageLeftPath)
		ui.StorageUsedPath = copySlice(d.UserInfo.StorageUsedPath)
		ui.PremiumPath = copySlice(d.UserInfo.PremiumPath)
		cp.UserInfo = &ui
	}
	return &cp
}

// InactivityTimeout resolves the configured inactivity window.
func (d *Descriptor) InactivityTimeout() time.Duration {
	if d.Tunables.InactivityTimeoutSeconds > 0 {
		return time.Duration(d.Tunables.InactivityTimeoutSeconds) * time.Second
	}
	if d.Upload.InactivityTimeoutSeconds > 0 {
		return time.Duration(d.Upload.InactivityTimeoutSeconds) * time.Second
	}
	return DefaultInactivityTimeout
}

// TotalTimeout resolves the configured total transfer bound; zero means
// unbounded.
func (d *Descriptor) TotalTimeout() time.Duration {
	if d.Tunables.TotalTimeoutSeconds > 0 {
		return time.Duration(d.Tunables.TotalTimeoutSeconds) * time.Second
	}
	return time.Duration(d.Upload.TotalTimeoutSeconds) * time.Second
}

// TotalTimeoutOr resolves the total transfer bound, falling back to
// def when unbounded (for operations that must not hang forever).
func (d *Descriptor) TotalTimeoutOr(def time.Duration) time.Duration {
	if t := d.TotalTimeout(); t > 0 {
		return t
	}
	return def
}

// MaxRetries resolves the job-level retry budget.
func (d *Descriptor) MaxRetries() int {
	if !d.Tunables.AutoRetry {
		return 0
	}
	if d.Tunables.MaxRetries > 0 {
		return d.Tunables.MaxRetries
	}
	return DefaultMaxRetries
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	cp := make([]string, len(s))
	copy(cp, s)
	return cp
}
