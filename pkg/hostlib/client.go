package hostlib

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hostup/hostup/pkg/logger"
	"golang.org/x/net/proxy"
)

const maxResponseBody = 8 << 20

var (
	hiddenInputRegex = regexp.MustCompile(`(?is)<input[^>]*type=["']?hidden["']?[^>]*>`)
	inputNameRegex   = regexp.MustCompile(`(?i)name=["']?([^"'\s>]+)`)
	inputValueRegex  = regexp.MustCompile(`(?i)value=["']?([^"'>]*)["']?`)
)

// HostClient executes one host's protocol for a single logical
// operation. It works on a private descriptor copy and a private
// session copy; the owning worker takes mutations back through
// SessionSnapshot after the call returns.
type HostClient struct {
	descriptor *Descriptor
	session    *SessionState
	client     *http.Client
	l          logger.Logger
	creds      CredentialSource
	tokens     *TokenCache
	counter    *BandwidthCounter

	refreshMu sync.Mutex
}

type HostClientOpts struct {
	// Session is a snapshot owned by the caller; the client keeps its
	// own copy and never writes through.
	Session     *SessionState
	Logger      logger.Logger
	Credentials CredentialSource
	Tokens      *TokenCache
	Bandwidth   *BandwidthCounter
}

// NewHostClient builds a client for one descriptor. The http.Client is
// shared and must not follow redirects on its own for the operations
// that inspect Location headers; NewHTTPClient returns a suitable one.
func NewHostClient(client *http.Client, d *Descriptor, opts *HostClientOpts) (*HostClient, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &HostClientOpts{}
	}
	if client == nil {
		client = NewHTTPClient("")
	}
	session := opts.Session
	if session == nil {
		session = NewSessionState()
	} else {
		session = session.Snapshot()
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &HostClient{
		descriptor: d.Clone(),
		session:    session,
		client:     client,
		l:          l.WithCategory(d.Name),
		creds:      opts.Credentials,
		tokens:     opts.Tokens,
		counter:    opts.Bandwidth,
	}, nil
}

// NewHTTPClient builds the http.Client used by HostClients. Redirects
// are not followed automatically so redirect-style responses and the
// delete origin check can inspect Location themselves. A non-empty
// proxyAddr routes all traffic through a SOCKS5 proxy.
func NewHTTPClient(proxyAddr string) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	if proxyAddr != "" {
		if dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct); err == nil {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			}
		}
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// SessionSnapshot returns a deep copy of the client's current session
// for the worker to merge back.
func (c *HostClient) SessionSnapshot() *SessionState {
	return c.session.Snapshot()
}

func (c *HostClient) credential(key string) (string, error) {
	if c.creds == nil {
		return "", opErr(c.descriptor.Name, "credential", KindConfiguration,
			fmt.Errorf("no credential source configured"))
	}
	v, err := c.creds.Credential(c.descriptor.Name + "." + key)
	if err != nil || v == "" {
		return "", opErr(c.descriptor.Name, "credential", KindAuthentication,
			fmt.Errorf("missing credential %q: %v", key, err))
	}
	return v, nil
}

// request plumbing

func (c *HostClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, opErr(c.descriptor.Name, "request", KindConfiguration, err)
	}
	for name, value := range c.session.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	c.applyAuth(req)
	return req, nil
}

func (c *HostClient) applyAuth(req *http.Request) {
	auth := c.descriptor.Auth
	if !auth.Required {
		return
	}
	switch auth.Type {
	case AuthAPIKey:
		if key, err := c.credential("api_key"); err == nil {
			req.Header.Set(auth.APIKeyHeader, key)
		}
	case AuthBearer:
		if c.session.HasToken() {
			req.Header.Set("Authorization", "Bearer "+c.session.Token)
		}
	case AuthBasic:
		user, uerr := c.credential("username")
		pass, perr := c.credential("password")
		if uerr == nil && perr == nil {
			req.SetBasicAuth(user, pass)
		}
	}
}

// do executes the request, folds response cookies into the session and
// returns the bounded body. The caller owns status interpretation.
func (c *HostClient) do(op string, req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		kind := KindTransient
		if req.Context().Err() != nil {
			kind = KindCancelled
		} else if !IsTransientNetError(err) {
			kind = KindProtocol
		}
		return nil, nil, opErr(c.descriptor.Name, op, kind, err)
	}
	defer resp.Body.Close()
	for _, ck := range resp.Cookies() {
		c.session.Cookies[ck.Name] = ck.Value
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp, nil, opErr(c.descriptor.Name, op, KindTransient, err)
	}
	return resp, body, nil
}

// stale-token detection

func (c *HostClient) staleResponse(op string, resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return opErr(c.descriptor.Name, op, KindStaleToken,
			fmt.Errorf("http %d", resp.StatusCode))
	}
	for _, pattern := range c.descriptor.Auth.StalePatterns {
		if strings.Contains(string(body), pattern) {
			return opErr(c.descriptor.Name, op, KindStaleToken,
				fmt.Errorf("response matched stale pattern %q", pattern))
		}
	}
	return nil
}

// withTokenRetry wraps an authenticated operation with the two-layer
// token guard. Proactive: a token past its TTL is refreshed before the
// call; a transient failure there is logged and the old token is used
// anyway, while a credential or config failure aborts. Reactive: a
// stale-token failure from the call triggers exactly one refresh and
// one retry; a second stale failure is reported as an authentication
// error, anything else propagates unchanged.
func (c *HostClient) withTokenRetry(ctx context.Context, op string, fn func() error) (err error) {
	auth := c.descriptor.Auth
	if auth.Required && auth.TokenTTLSeconds > 0 && c.session.HasToken() {
		ttl := time.Duration(auth.TokenTTLSeconds) * time.Second
		if c.session.TokenAge() > ttl {
			if rerr := c.refreshToken(ctx); rerr != nil {
				if ErrKindOf(rerr) == KindTransient {
					c.l.Warning("proactive token refresh failed, keeping old token: %s", rerr.Error())
				} else {
					return rerr
				}
			}
		}
	}
	err = fn()
	if err == nil || ErrKindOf(err) != KindStaleToken {
		return err
	}
	c.l.Info("stale token detected during %s, refreshing", op)
	if rerr := c.refreshToken(ctx); rerr != nil {
		return rerr
	}
	err = fn()
	if err != nil && ErrKindOf(err) == KindStaleToken {
		return opErr(c.descriptor.Name, op, KindAuthentication,
			fmt.Errorf("token still rejected after refresh: %w", err))
	}
	return err
}

// refreshToken drops the cached token and logs in again. Serialized so
// concurrent calls on one client never race a double refresh.
func (c *HostClient) refreshToken(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.tokens != nil {
		c.tokens.Invalidate(c.descriptor.Name)
	}
	// the old token stays in place until login succeeds, so a failed
	// proactive refresh can still fall back to it
	return c.Login(ctx)
}

// EnsureAuth makes sure the session carries whatever the descriptor's
// auth type needs, logging in only when required. Token-login hosts
// reuse a fresh cached token when one exists.
func (c *HostClient) EnsureAuth(ctx context.Context) error {
	auth := c.descriptor.Auth
	if !auth.Required {
		return nil
	}
	switch auth.Type {
	case AuthAPIKey, AuthBasic:
		return nil
	}
	if c.session.HasToken() || len(c.session.Cookies) > 0 && auth.Type == AuthSession {
		return nil
	}
	if c.tokens != nil && auth.TokenTTLSeconds > 0 {
		ttl := time.Duration(auth.TokenTTLSeconds) * time.Second
		if token, acquired, err := c.tokens.Get(c.descriptor.Name); err == nil && time.Since(acquired) < ttl {
			c.session.Token = token
			c.session.TokenAcquired = acquired
			return nil
		}
	}
	return c.Login(ctx)
}

// Login performs the descriptor's login flow and updates the session.
func (c *HostClient) Login(ctx context.Context) error {
	auth := c.descriptor.Auth
	if !auth.Required || auth.Type == AuthNone {
		return nil
	}
	switch auth.Type {
	case AuthAPIKey, AuthBasic:
		// per-request auth, nothing to establish
		return nil
	case AuthSession, AuthMixed:
		if err := c.loginSession(ctx); err != nil {
			return err
		}
		if auth.Type == AuthMixed && len(auth.TokenPath) > 0 {
			return c.loginToken(ctx)
		}
		return nil
	case AuthBearer, AuthTokenLogin:
		return c.loginToken(ctx)
	}
	return opErr(c.descriptor.Name, "login", KindConfiguration,
		fmt.Errorf("unsupported auth type %q", auth.Type))
}

// loginSession runs the form-login flow: fetch the login page for
// cookies and hidden fields, optionally solve the positioned-digit
// captcha, then post credentials merged with the harvested fields.
func (c *HostClient) loginSession(ctx context.Context) error {
	auth := c.descriptor.Auth
	if auth.LoginURL == "" {
		return opErr(c.descriptor.Name, "login", KindConfiguration,
			fmt.Errorf("session auth without login url"))
	}
	user, err := c.credential("username")
	if err != nil {
		return err
	}
	pass, err := c.credential("password")
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodGet, auth.LoginURL, nil)
	if err != nil {
		return err
	}
	resp, page, err := c.do("login", req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return opErr(c.descriptor.Name, "login", KindAuthentication,
			fmt.Errorf("login page returned http %d", resp.StatusCode))
	}

	form := url.Values{}
	for name, value := range harvestHiddenFields(string(page)) {
		form.Set(name, value)
	}
	for name, value := range auth.ExtraFields {
		form.Set(name, value)
	}
	form.Set(auth.UserField, user)
	form.Set(auth.PassField, pass)
	if auth.Captcha != nil {
		code, cerr := solveCaptcha(string(page), auth.Captcha)
		if cerr != nil {
			return opErr(c.descriptor.Name, "login", KindProtocol, cerr)
		}
		form.Set(auth.Captcha.FieldName, code)
	}

	req, err = c.newRequest(ctx, http.MethodPost, auth.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, body, err := c.do("login", req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return opErr(c.descriptor.Name, "login", KindAuthentication,
			fmt.Errorf("login post returned http %d", resp.StatusCode))
	}

	if auth.SessionCookie != "" {
		if _, ok := c.session.Cookies[auth.SessionCookie]; !ok {
			return opErr(c.descriptor.Name, "login", KindAuthentication,
				fmt.Errorf("login response missing session cookie %q", auth.SessionCookie))
		}
	}
	if auth.SessionRegex != "" {
		re, rerr := regexp.Compile(auth.SessionRegex)
		if rerr != nil {
			return opErr(c.descriptor.Name, "login", KindConfiguration, rerr)
		}
		m := re.FindStringSubmatch(string(body))
		if len(m) < 2 {
			return opErr(c.descriptor.Name, "login", KindAuthentication,
				fmt.Errorf("session id not found in login response"))
		}
		c.session.Token = m[1]
		c.session.TokenAcquired = time.Now()
	}
	return nil
}

// loginToken posts credentials and extracts the token at the
// configured path. Storage fields present in the same body are kept so
// a later storage check can skip a round trip.
func (c *HostClient) loginToken(ctx context.Context) error {
	auth := c.descriptor.Auth
	if auth.LoginURL == "" {
		return opErr(c.descriptor.Name, "login", KindConfiguration,
			fmt.Errorf("token login without login url"))
	}
	if len(auth.TokenPath) == 0 {
		return opErr(c.descriptor.Name, "login", KindConfiguration,
			fmt.Errorf("token login without token path"))
	}
	user, err := c.credential("username")
	if err != nil {
		return err
	}
	pass, err := c.credential("password")
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set(auth.UserField, user)
	form.Set(auth.PassField, pass)
	for name, value := range auth.ExtraFields {
		form.Set(name, value)
	}
	req, err := c.newRequest(ctx, http.MethodPost, auth.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, body, err := c.do("login", req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return opErr(c.descriptor.Name, "login", KindAuthentication,
			fmt.Errorf("login returned http %d", resp.StatusCode))
	}

	var doc any
	if jerr := json.Unmarshal(body, &doc); jerr != nil {
		return opErr(c.descriptor.Name, "login", KindProtocol,
			fmt.Errorf("login response is not json: %w", jerr))
	}
	if len(auth.StatusPath) > 0 {
		status, ok := lookupInt(doc, auth.StatusPath)
		if !ok || (status != 200 && status != 1) {
			return opErr(c.descriptor.Name, "login", KindAuthentication,
				fmt.Errorf("login rejected (status %d)", status))
		}
	}
	token, ok := lookupString(doc, auth.TokenPath)
	if !ok || token == "" {
		return opErr(c.descriptor.Name, "login", KindAuthentication,
			fmt.Errorf("token missing at configured path"))
	}
	c.session.Token = token
	c.session.TokenAcquired = time.Now()
	if c.tokens != nil {
		c.tokens.Put(c.descriptor.Name, token, time.Duration(auth.TokenTTLSeconds)*time.Second)
	}

	if ui := c.descriptor.UserInfo; ui != nil {
		if total, ok := lookupInt(doc, ui.StorageTotalPath); ok {
			if left, ok := lookupInt(doc, ui.StorageLeftPath); ok {
				c.session.StorageTotal = total
				c.session.StorageLeft = left
			}
		}
	}
	return nil
}

// harvestHiddenFields collects name/value pairs from every hidden
// input tag of an HTML page.
func harvestHiddenFields(page string) map[string]string {
	fields := make(map[string]string)
	for _, tag := range hiddenInputRegex.FindAllString(page, -1) {
		name := inputNameRegex.FindStringSubmatch(tag)
		if len(name) < 2 || name[1] == "" {
			continue
		}
		value := ""
		if m := inputValueRegex.FindStringSubmatch(tag); len(m) >= 2 {
			value = m[1]
		}
		fields[name[1]] = value
	}
	return fields
}

// solveCaptcha reassembles a positioned-digit captcha: each match
// yields a CSS left offset and one digit, digits are ordered by
// offset, then the configured transform is applied.
func solveCaptcha(page string, spec *CaptchaSpec) (string, error) {
	re, err := regexp.Compile(spec.DigitRegex)
	if err != nil {
		return "", fmt.Errorf("bad captcha regex: %w", err)
	}
	matches := re.FindAllStringSubmatch(page, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("captcha digits not found")
	}
	type posDigit struct {
		pos   int
		digit string
	}
	digits := make([]posDigit, 0, len(matches))
	for _, m := range matches {
		if len(m) < 3 {
			return "", fmt.Errorf("captcha regex must capture position and digit")
		}
		pos, perr := strconv.Atoi(m[1])
		if perr != nil {
			return "", fmt.Errorf("bad captcha position %q", m[1])
		}
		digits = append(digits, posDigit{pos: pos, digit: m[2]})
	}
	sort.Slice(digits, func(i, j int) bool { return digits[i].pos < digits[j].pos })
	var sb strings.Builder
	for _, d := range digits {
		sb.WriteString(d.digit)
	}
	code := sb.String()

	switch spec.Transform {
	case CaptchaPlain:
	case CaptchaReverse:
		runes := []rune(code)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		code = string(runes)
	case CaptchaThirdToFront:
		if len(code) < 3 {
			return "", fmt.Errorf("captcha too short for transform")
		}
		code = string(code[2]) + code[:2] + code[3:]
	default:
		return "", fmt.Errorf("unknown captcha transform %q", spec.Transform)
	}
	return code, nil
}
