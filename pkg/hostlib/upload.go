package hostlib

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// UploadResult is the outcome of one UploadFile call.
type UploadResult struct {
	URL          string
	FileID       string
	RawResponse  string
	Deduplicated bool
	Size         int64
}

// UploadFile transfers the file at path per the descriptor's protocol:
// the standard single-request path, or the multi-step init, upload,
// poll path when configured. onProgress receives cumulative bytes;
// shouldStop is sampled during streaming and aborts with a
// cancellation error when it returns true.
func (c *HostClient) UploadFile(ctx context.Context, path string, onProgress func(int64), shouldStop func() bool) (result *UploadResult, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, opErr(c.descriptor.Name, "upload", KindConfiguration, err)
	}
	if err = c.EnsureAuth(ctx); err != nil {
		return nil, err
	}
	err = c.withTokenRetry(ctx, "upload", func() error {
		r, uerr := c.uploadOnce(ctx, path, info.Size(), onProgress, shouldStop)
		if uerr != nil {
			return uerr
		}
		result = r
		return nil
	})
	return result, err
}

func (c *HostClient) uploadOnce(ctx context.Context, path string, size int64, onProgress func(int64), shouldStop func() bool) (*UploadResult, error) {
	if total := c.descriptor.TotalTimeout(); total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, total)
		defer cancel()
	}
	if c.descriptor.MultiStep != nil {
		return c.uploadMultiStep(ctx, path, size, onProgress, shouldStop)
	}
	return c.uploadStandard(ctx, path, size, onProgress, shouldStop)
}

// uploadStandard resolves the optional upload server, issues the PUT
// or multipart POST, and parses the response.
func (c *HostClient) uploadStandard(ctx context.Context, path string, size int64, onProgress func(int64), shouldStop func() bool) (*UploadResult, error) {
	up := c.descriptor.Upload
	filename := filepath.Base(path)

	server, sessionID, err := c.resolveServer(ctx)
	if err != nil {
		return nil, err
	}
	target := expandTemplate(up.URL, map[string]string{
		"server":   server,
		"filename": url.PathEscape(filename),
	})

	fields := copyMap(up.ExtraFields)
	if sessionID != "" && up.SessionIDField != "" {
		if fields == nil {
			fields = make(map[string]string)
		}
		fields[up.SessionIDField] = sessionID
	}

	resp, body, err := c.transferFile(ctx, up.Method, target, path, filename, size, up.FileField, fields, onProgress, shouldStop)
	if err != nil {
		return nil, err
	}
	if serr := c.staleResponse("upload", resp, body); serr != nil {
		return nil, serr
	}
	if resp.StatusCode >= 400 {
		return nil, opErr(c.descriptor.Name, "upload", KindProtocol,
			fmt.Errorf("upload returned http %d", resp.StatusCode))
	}
	result, err := c.parseUploadResponse(resp, body)
	if err != nil {
		return nil, err
	}
	result.Size = size
	return result, nil
}

// resolveServer performs the get-server indirection when configured,
// returning the server URL and any single-use session id the host
// handed out alongside it.
func (c *HostClient) resolveServer(ctx context.Context) (server, sessionID string, err error) {
	up := c.descriptor.Upload
	if up.ServerURL == "" {
		return "", "", nil
	}
	req, err := c.newRequest(ctx, http.MethodGet, up.ServerURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, body, err := c.do("get_server", req)
	if err != nil {
		return "", "", err
	}
	if serr := c.staleResponse("get_server", resp, body); serr != nil {
		return "", "", serr
	}
	if resp.StatusCode >= 400 {
		return "", "", opErr(c.descriptor.Name, "get_server", KindProtocol,
			fmt.Errorf("get server returned http %d", resp.StatusCode))
	}
	if len(up.ServerPath) == 0 {
		return strings.TrimSpace(string(body)), "", nil
	}
	var doc any
	if jerr := json.Unmarshal(body, &doc); jerr != nil {
		return "", "", opErr(c.descriptor.Name, "get_server", KindProtocol,
			fmt.Errorf("get server response is not json: %w", jerr))
	}
	server, ok := lookupString(doc, up.ServerPath)
	if !ok {
		return "", "", opErr(c.descriptor.Name, "get_server", KindProtocol,
			fmt.Errorf("server url missing at configured path"))
	}
	if len(up.SessionIDPath) > 0 {
		sessionID, _ = lookupString(doc, up.SessionIDPath)
	}
	return server, sessionID, nil
}

// uploadMultiStep runs init, detects dedup, uploads to the returned
// endpoint and polls until the host reports completion.
func (c *HostClient) uploadMultiStep(ctx context.Context, path string, size int64, onProgress func(int64), shouldStop func() bool) (*UploadResult, error) {
	ms := c.descriptor.MultiStep
	filename := filepath.Base(path)

	vars := map[string]string{
		"filename": url.QueryEscape(filename),
		"size":     strconv.FormatInt(size, 10),
		"token":    c.session.Token,
	}
	if ms.RequiresHash {
		sum, herr := hashFile(path, ms.HashAlgo)
		if herr != nil {
			return nil, opErr(c.descriptor.Name, "upload_init", KindConfiguration, herr)
		}
		vars["hash"] = sum
	}

	doc, raw, err := c.uploadInit(ctx, vars, filename, size)
	if err != nil {
		return nil, err
	}

	if len(ms.StatePath) > 0 {
		if state, ok := lookupInt(doc, ms.StatePath); ok && int(state) == ms.DedupState {
			dedupURL, ok := lookupString(doc, ms.DedupURLPath)
			if !ok || dedupURL == "" {
				return nil, opErr(c.descriptor.Name, "upload_init", KindProtocol, ErrDedupWithoutURL)
			}
			c.l.Info("host already has this file, skipping transfer")
			return &UploadResult{URL: dedupURL, RawResponse: raw, Deduplicated: true, Size: size}, nil
		}
	}

	uploadURL, ok := lookupString(doc, ms.UploadURLPath)
	if !ok || uploadURL == "" {
		return nil, opErr(c.descriptor.Name, "upload_init", KindProtocol,
			fmt.Errorf("upload url missing at configured path"))
	}
	uploadID, _ := lookupString(doc, ms.UploadIDPath)

	fileField := c.descriptor.Upload.FileField
	if len(ms.FileFieldPath) > 0 {
		if dyn, ok := lookupString(doc, ms.FileFieldPath); ok && dyn != "" {
			fileField = dyn
		}
	}
	fields := copyMap(c.descriptor.Upload.ExtraFields)
	if len(ms.FormDataPath) > 0 {
		if dyn, ok := lookupStringMap(doc, ms.FormDataPath); ok {
			if fields == nil {
				fields = make(map[string]string, len(dyn))
			}
			for k, v := range dyn {
				fields[k] = v
			}
		}
	}

	resp, body, err := c.transferFile(ctx, http.MethodPost, uploadURL, path, filename, size, fileField, fields, onProgress, shouldStop)
	if err != nil {
		return nil, err
	}
	if serr := c.staleResponse("upload", resp, body); serr != nil {
		return nil, serr
	}
	if resp.StatusCode >= 400 {
		return nil, opErr(c.descriptor.Name, "upload", KindProtocol,
			fmt.Errorf("upload returned http %d", resp.StatusCode))
	}

	if ms.PollURL == "" {
		result, perr := c.parseUploadResponse(resp, body)
		if perr != nil {
			return nil, perr
		}
		if result.FileID == "" {
			result.FileID = uploadID
		}
		result.Size = size
		return result, nil
	}
	return c.pollUpload(ctx, uploadID, size)
}

func (c *HostClient) uploadInit(ctx context.Context, vars map[string]string, filename string, size int64) (doc any, raw string, err error) {
	ms := c.descriptor.MultiStep
	method := ms.InitMethod
	if method == "" {
		method = http.MethodGet
	}
	var req *http.Request
	switch ms.BodyStyle {
	case InitBodyJSON:
		payload := make(map[string]any, len(ms.InitFields))
		for k, v := range ms.InitFields {
			payload[k] = expandTemplate(v, vars)
		}
		if _, ok := payload["size"]; !ok && vars["size"] != "" {
			payload["size"] = size
		}
		buf, jerr := json.Marshal(payload)
		if jerr != nil {
			return nil, "", opErr(c.descriptor.Name, "upload_init", KindConfiguration, jerr)
		}
		req, err = c.newRequest(ctx, method, expandTemplate(ms.InitURL, vars), bytes.NewReader(buf))
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Content-Type", "application/json")
	default:
		target := expandTemplate(ms.InitURL, vars)
		if len(ms.InitFields) > 0 {
			query := url.Values{}
			for k, v := range ms.InitFields {
				query.Set(k, expandTemplate(v, vars))
			}
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + query.Encode()
		}
		req, err = c.newRequest(ctx, method, target, nil)
		if err != nil {
			return nil, "", err
		}
	}

	resp, body, err := c.do("upload_init", req)
	if err != nil {
		return nil, "", err
	}
	if serr := c.staleResponse("upload_init", resp, body); serr != nil {
		return nil, "", serr
	}
	if resp.StatusCode >= 400 {
		return nil, "", opErr(c.descriptor.Name, "upload_init", KindProtocol,
			fmt.Errorf("init returned http %d", resp.StatusCode))
	}
	if jerr := json.Unmarshal(body, &doc); jerr != nil {
		return nil, "", opErr(c.descriptor.Name, "upload_init", KindProtocol,
			fmt.Errorf("init response is not json: %w", jerr))
	}
	return doc, string(body), nil
}

// pollUpload asks the host for the upload's state at a fixed interval
// until a terminal URL or the configured done value appears.
func (c *HostClient) pollUpload(ctx context.Context, uploadID string, size int64) (*UploadResult, error) {
	ms := c.descriptor.MultiStep
	target := expandTemplate(ms.PollURL, map[string]string{"id": uploadID, "token": c.session.Token})
	delay := time.Duration(ms.PollDelaySeconds * float64(time.Second))
	if delay <= 0 {
		delay = DefaultPollDelay
	}
	retries := ms.PollRetries
	if retries <= 0 {
		retries = DefaultPollRetries
	}

	for attempt := 0; attempt < retries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, opErr(c.descriptor.Name, "upload_poll", KindCancelled, ctx.Err())
		case <-time.After(delay):
		}

		req, err := c.newRequest(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		resp, body, err := c.do("upload_poll", req)
		if err != nil {
			if ErrKindOf(err) == KindTransient {
				continue
			}
			return nil, err
		}
		if resp.StatusCode >= 400 {
			continue
		}
		var doc any
		if jerr := json.Unmarshal(body, &doc); jerr != nil {
			continue
		}
		if len(ms.PollStatePath) > 0 && ms.PollDoneValue != "" {
			if state, ok := lookupString(doc, ms.PollStatePath); !ok || state != ms.PollDoneValue {
				continue
			}
		}
		if finalURL, ok := lookupString(doc, ms.PollURLPath); ok && finalURL != "" {
			return &UploadResult{
				URL:         finalURL,
				FileID:      uploadID,
				RawResponse: string(body),
				Size:        size,
			}, nil
		}
	}
	return nil, opErr(c.descriptor.Name, "upload_poll", KindTransient, ErrPollExhausted)
}

// transferFile streams the file body as a PUT or a multipart POST,
// feeding the progress reader so throughput, cancellation and the
// inactivity watchdog all observe the transfer.
func (c *HostClient) transferFile(ctx context.Context, method, target, path, filename string, size int64, fileField string, fields map[string]string, onProgress func(int64), shouldStop func() bool) (*http.Response, []byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, opErr(c.descriptor.Name, "upload", KindConfiguration, err)
	}
	defer file.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr := newProgressReader(file, c.counter, onProgress, shouldStop)
	stopWatchdog := c.startInactivityWatchdog(pr, cancel)
	defer stopWatchdog()

	var req *http.Request
	if strings.EqualFold(method, http.MethodPut) {
		req, err = c.newRequest(ctx, http.MethodPut, target, pr)
		if err != nil {
			return nil, nil, err
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/octet-stream")
	} else {
		pipeR, pipeW := io.Pipe()
		writer := multipart.NewWriter(pipeW)
		go func() {
			for name, value := range fields {
				if werr := writer.WriteField(name, value); werr != nil {
					pipeW.CloseWithError(werr)
					return
				}
			}
			part, werr := writer.CreateFormFile(fileField, filename)
			if werr != nil {
				pipeW.CloseWithError(werr)
				return
			}
			if _, werr = io.Copy(part, pr); werr != nil {
				pipeW.CloseWithError(werr)
				return
			}
			pipeW.CloseWithError(writer.Close())
		}()
		req, err = c.newRequest(ctx, http.MethodPost, target, pipeR)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
	}

	resp, body, err := c.do("upload", req)
	if err != nil {
		if pr.stopped() {
			return nil, nil, opErr(c.descriptor.Name, "upload", KindCancelled, ErrJobCancelled)
		}
		if ctx.Err() != nil && pr.idleFor() >= c.descriptor.InactivityTimeout() {
			return nil, nil, opErr(c.descriptor.Name, "upload", KindTransient,
				fmt.Errorf("transfer stalled for %s", c.descriptor.InactivityTimeout()))
		}
		return nil, nil, err
	}
	return resp, body, nil
}

// startInactivityWatchdog cancels the transfer context once no bytes
// have moved for the descriptor's inactivity timeout.
func (c *HostClient) startInactivityWatchdog(pr *progressReader, cancel context.CancelFunc) (stop func()) {
	limit := c.descriptor.InactivityTimeout()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if pr.idleFor() >= limit {
					c.l.Warning("no transfer activity for %s, aborting", limit)
					cancel()
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// parseUploadResponse extracts the download URL and file id per the
// descriptor's response type, applying the configured link affixes.
func (c *HostClient) parseUploadResponse(resp *http.Response, body []byte) (*UploadResult, error) {
	rs := c.descriptor.Response
	result := &UploadResult{RawResponse: string(body)}

	switch rs.Type {
	case ResponseJSON:
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, opErr(c.descriptor.Name, "upload", KindProtocol,
				fmt.Errorf("response is not json: %w", err))
		}
		link, ok := lookupString(doc, rs.URLPath)
		if !ok || link == "" {
			return nil, opErr(c.descriptor.Name, "upload", KindProtocol,
				fmt.Errorf("download url missing at configured path"))
		}
		result.URL = link
		if len(rs.FileIDPath) > 0 {
			result.FileID, _ = lookupString(doc, rs.FileIDPath)
		}
	case ResponseText:
		link := strings.TrimSpace(string(body))
		if link == "" {
			return nil, opErr(c.descriptor.Name, "upload", KindProtocol,
				fmt.Errorf("empty response body"))
		}
		result.URL = link
	case ResponseRegex:
		re, err := regexp.Compile(rs.URLRegex)
		if err != nil {
			return nil, opErr(c.descriptor.Name, "upload", KindConfiguration, err)
		}
		m := re.FindStringSubmatch(string(body))
		if len(m) < 2 {
			return nil, opErr(c.descriptor.Name, "upload", KindProtocol,
				fmt.Errorf("download url did not match response"))
		}
		result.URL = m[1]
		if rs.FileIDRegex != "" {
			idRe, rerr := regexp.Compile(rs.FileIDRegex)
			if rerr != nil {
				return nil, opErr(c.descriptor.Name, "upload", KindConfiguration, rerr)
			}
			if im := idRe.FindStringSubmatch(string(body)); len(im) >= 2 {
				result.FileID = im[1]
			}
		}
	case ResponseRedirect:
		location := resp.Header.Get("Location")
		if resp.StatusCode < 300 || resp.StatusCode >= 400 || location == "" {
			return nil, opErr(c.descriptor.Name, "upload", KindProtocol,
				fmt.Errorf("expected redirect, got http %d", resp.StatusCode))
		}
		result.URL = location
	default:
		return nil, opErr(c.descriptor.Name, "upload", KindConfiguration,
			fmt.Errorf("unknown response type %q", rs.Type))
	}

	result.URL = rs.LinkPrefix + result.URL + rs.LinkSuffix
	return result, nil
}

// expandTemplate substitutes {name} placeholders.
func expandTemplate(s string, vars map[string]string) string {
	for name, value := range vars {
		s = strings.ReplaceAll(s, "{"+name+"}", value)
	}
	return s
}

func hashFile(path, algo string) (string, error) {
	var h hash.Hash
	switch strings.ToLower(algo) {
	case "", "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", algo)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err = io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
