package hostlib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// UserInfo holds account quota and plan details for one host.
type UserInfo struct {
	StorageTotal int64 `json:"storage_total"`
	StorageLeft  int64 `json:"storage_left"`
	StorageUsed  int64 `json:"storage_used"`
	Premium      bool  `json:"premium"`
}

// CredentialCheck is the result of a lightweight credential probe.
type CredentialCheck struct {
	OK       bool
	Message  string
	UserInfo *UserInfo
}

// DeleteFile removes a previously uploaded file. Redirect responses
// are accepted as success only when they stay on the delete URL's
// origin; a cross-origin redirect is a protocol violation.
func (c *HostClient) DeleteFile(ctx context.Context, fileID string) error {
	del := c.descriptor.Delete
	if del == nil {
		return opErr(c.descriptor.Name, "delete", KindConfiguration,
			fmt.Errorf("host does not support delete"))
	}
	if err := c.EnsureAuth(ctx); err != nil {
		return err
	}
	return c.withTokenRetry(ctx, "delete", func() error {
		return c.deleteOnce(ctx, fileID)
	})
}

func (c *HostClient) deleteOnce(ctx context.Context, fileID string) error {
	del := c.descriptor.Delete
	target := expandTemplate(del.URL, map[string]string{
		"id":    url.PathEscape(fileID),
		"token": c.session.Token,
	})
	method := del.Method
	if method == "" {
		method = http.MethodGet
	}

	params := make(map[string]string, len(del.Params))
	for k, v := range del.Params {
		params[k] = expandTemplate(v, map[string]string{"id": fileID, "token": c.session.Token})
	}

	var req *http.Request
	var err error
	switch del.BodyStyle {
	case "json":
		buf, jerr := json.Marshal(params)
		if jerr != nil {
			return opErr(c.descriptor.Name, "delete", KindConfiguration, jerr)
		}
		req, err = c.newRequest(ctx, method, target, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
	case "form":
		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		req, err = c.newRequest(ctx, method, target, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		if len(params) > 0 {
			query := url.Values{}
			for k, v := range params {
				query.Set(k, v)
			}
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + query.Encode()
		}
		req, err = c.newRequest(ctx, method, target, nil)
		if err != nil {
			return err
		}
	}

	resp, body, err := c.do("delete", req)
	if err != nil {
		return err
	}
	if serr := c.staleResponse("delete", resp, body); serr != nil {
		return serr
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if err := sameOrigin(target, resp.Header.Get("Location")); err != nil {
			return opErr(c.descriptor.Name, "delete", KindProtocol, err)
		}
		return nil
	}
	if resp.StatusCode >= 400 {
		return opErr(c.descriptor.Name, "delete", KindProtocol,
			fmt.Errorf("delete returned http %d", resp.StatusCode))
	}
	if del.CheckBody {
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
			return opErr(c.descriptor.Name, "delete", KindProtocol,
				fmt.Errorf("delete reported failure: %s", firstLine(string(body))))
		}
	}
	return nil
}

// sameOrigin rejects a redirect whose scheme or host differs from the
// request URL's.
func sameOrigin(requestURL, location string) error {
	if location == "" {
		return fmt.Errorf("redirect without location")
	}
	base, err := url.Parse(requestURL)
	if err != nil {
		return err
	}
	target, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("bad redirect location %q: %w", location, err)
	}
	if !target.IsAbs() {
		return nil
	}
	if target.Scheme != base.Scheme || target.Host != base.Host {
		return fmt.Errorf("%w: %s://%s redirected to %s://%s",
			ErrCrossOriginRedirect, base.Scheme, base.Host, target.Scheme, target.Host)
	}
	return nil
}

// GetUserInfo fetches storage quota and premium status. JSON-path and
// HTML-regex extraction are both supported; a missing total is derived
// from left plus used when both are present.
func (c *HostClient) GetUserInfo(ctx context.Context) (info *UserInfo, err error) {
	ui := c.descriptor.UserInfo
	if ui == nil {
		return nil, opErr(c.descriptor.Name, "user_info", KindConfiguration,
			fmt.Errorf("host does not expose account info"))
	}
	if err = c.EnsureAuth(ctx); err != nil {
		return nil, err
	}
	err = c.withTokenRetry(ctx, "user_info", func() error {
		i, uerr := c.userInfoOnce(ctx)
		if uerr != nil {
			return uerr
		}
		info = i
		return nil
	})
	return info, err
}

func (c *HostClient) userInfoOnce(ctx context.Context) (*UserInfo, error) {
	ui := c.descriptor.UserInfo
	method := ui.Method
	if method == "" {
		method = http.MethodGet
	}
	target := expandTemplate(ui.URL, map[string]string{"token": c.session.Token})
	req, err := c.newRequest(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.do("user_info", req)
	if err != nil {
		return nil, err
	}
	if serr := c.staleResponse("user_info", resp, body); serr != nil {
		return nil, serr
	}
	if resp.StatusCode >= 400 {
		return nil, opErr(c.descriptor.Name, "user_info", KindProtocol,
			fmt.Errorf("user info returned http %d", resp.StatusCode))
	}

	if ui.HTMLRegex != "" {
		return c.parseUserInfoHTML(string(body))
	}
	return c.parseUserInfoJSON(body)
}

func (c *HostClient) parseUserInfoJSON(body []byte) (*UserInfo, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, opErr(c.descriptor.Name, "user_info", KindProtocol,
			fmt.Errorf("user info response is not json: %w", err))
	}
	ui := c.descriptor.UserInfo
	info := &UserInfo{}
	var haveTotal, haveLeft, haveUsed bool
	if v, ok := lookupInt(doc, ui.StorageTotalPath); ok {
		info.StorageTotal, haveTotal = v, true
	}
	if v, ok := lookupInt(doc, ui.StorageLeftPath); ok {
		info.StorageLeft, haveLeft = v, true
	}
	if v, ok := lookupInt(doc, ui.StorageUsedPath); ok {
		info.StorageUsed, haveUsed = v, true
	}
	if v, ok := lookupBool(doc, ui.PremiumPath); ok {
		info.Premium = v
	}
	if !haveTotal && haveLeft && haveUsed {
		info.StorageTotal = info.StorageLeft + info.StorageUsed
		haveTotal = true
	}
	if !haveTotal && !haveLeft && !haveUsed {
		return nil, opErr(c.descriptor.Name, "user_info", KindProtocol,
			fmt.Errorf("no storage fields found at configured paths"))
	}
	return info, nil
}

const gigabyte = 1 << 30

// parseUserInfoHTML extracts used/total gigabyte figures from an
// account page via the configured regex (group 1 used, group 2 total).
func (c *HostClient) parseUserInfoHTML(page string) (*UserInfo, error) {
	re, err := regexp.Compile(c.descriptor.UserInfo.HTMLRegex)
	if err != nil {
		return nil, opErr(c.descriptor.Name, "user_info", KindConfiguration, err)
	}
	m := re.FindStringSubmatch(page)
	if len(m) < 3 {
		return nil, opErr(c.descriptor.Name, "user_info", KindProtocol,
			fmt.Errorf("storage figures did not match account page"))
	}
	used, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil, opErr(c.descriptor.Name, "user_info", KindProtocol,
			fmt.Errorf("bad used value %q", m[1]))
	}
	total, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return nil, opErr(c.descriptor.Name, "user_info", KindProtocol,
			fmt.Errorf("bad total value %q", m[2]))
	}
	info := &UserInfo{
		StorageUsed:  int64(used * gigabyte),
		StorageTotal: int64(total * gigabyte),
	}
	info.StorageLeft = info.StorageTotal - info.StorageUsed
	return info, nil
}

// TestCredentials verifies login works and, when the host exposes
// account info, fetches it opportunistically. It never uploads or
// deletes anything.
func (c *HostClient) TestCredentials(ctx context.Context) *CredentialCheck {
	if !c.descriptor.Auth.Required {
		return &CredentialCheck{OK: true, Message: "host requires no authentication"}
	}
	if err := c.EnsureAuth(ctx); err != nil {
		return &CredentialCheck{OK: false, Message: err.Error()}
	}
	switch c.descriptor.Auth.Type {
	case AuthSession, AuthMixed, AuthTokenLogin, AuthBearer:
		if !c.session.HasToken() && len(c.session.Cookies) == 0 {
			return &CredentialCheck{OK: false, Message: "login produced no session"}
		}
	}
	check := &CredentialCheck{OK: true, Message: "credentials accepted"}
	if c.descriptor.UserInfo != nil {
		info, err := c.GetUserInfo(ctx)
		if err != nil {
			check.Message = fmt.Sprintf("credentials accepted, account info unavailable: %s", err.Error())
			return check
		}
		check.UserInfo = info
	}
	return check
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return strings.TrimSpace(s)
}
