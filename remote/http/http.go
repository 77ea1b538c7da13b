// Package http implements remote.Session over plain GET+Range requests
// (scheme "web-transfer" in spec §6 / SPEC_FULL.md §3's HTTP supplement),
// adapted from the teacher's backend/http HEAD/GET metadata and status
// handling. There is no native FTP-style LIST, SIZE, MDTM, or DELE in
// HTTP, so this session requires the directory's listing to be served by
// a plain index page of href-style links, probes via a HEAD request's
// Content-Length/Last-Modified headers, and Delete always fails with
// remote.ErrNotSupported: a plain web origin is read-only fetch source.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/afdcore/afd/remote"
)

// Options configures one HTTP/HTTPS session (spec §6 URL grammar fields
// relevant to the web-transfer scheme).
type Options struct {
	BaseURL string
	Headers map[string]string
	NoHead  bool
}

// Session is one *http.Client bound to a base URL, used across an entire
// keep-alive window the same way an FTP control connection is.
type Session struct {
	opt    Options
	base   *url.URL
	client *http.Client
	caps   *remote.Capabilities
}

// Dial parses the base URL and constructs the client. There is no
// handshake to perform up front; the first List or Probe call is the
// first network round trip, matching the teacher's own lazy httpConnection
// pattern (backend/http/http.go's Fs.httpConnection is only invoked from
// NewFs to classify file-vs-directory, not to hold a live connection).
func Dial(ctx context.Context, opt Options) (*Session, error) {
	base, err := url.Parse(opt.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("http: parse base url %q: %w", opt.BaseURL, err)
	}
	return &Session{
		opt:    opt,
		base:   base,
		client: &http.Client{Timeout: 60 * time.Second},
		caps:   remote.NewCapabilities(),
	}, nil
}

// Capabilities returns the session's sticky DATE/SIZE support flags.
func (s *Session) Capabilities() *remote.Capabilities { return s.caps }

var hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*"([^"?#]+)"`)

// List fetches the base URL as an HTML index and extracts href targets
// that do not look like a parent-directory or sub-directory link,
// adapted from the teacher's own parse() function (backend/http/http.go)
// which scrapes anchor hrefs out of a directory listing page.
func (s *Session) List(ctx context.Context) ([]remote.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("http: list request: %w", err)
	}
	s.addHeaders(req)
	res, err := s.client.Do(req)
	if err := statusError(res, err); err != nil {
		return nil, fmt.Errorf("http: list: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("http: list: read body: %w", err)
	}

	var entries []remote.Entry
	for _, m := range hrefPattern.FindAllStringSubmatch(string(body), -1) {
		name := m[1]
		if name == "" || name == "." || name == ".." || strings.HasSuffix(name, "/") {
			continue
		}
		if strings.Contains(name, "://") {
			continue
		}
		entries = append(entries, remote.Entry{Name: strings.TrimPrefix(name, "./")})
	}
	return entries, nil
}

// Probe issues a HEAD request and reads Content-Length/Last-Modified.
// Unlike FTP's SIZE/MDTM, a missing header is not a protocol-level
// "not supported" signal (many servers simply omit Last-Modified on
// dynamic content), so Probe marks the corresponding capability
// unsupported only once, the first time the header is absent, rather than
// treating every absent header as a transient failure.
func (s *Session) Probe(ctx context.Context, name string) (remote.ProbeResult, error) {
	result := remote.ProbeResult{Size: -1}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.resolve(name), nil)
	if err != nil {
		return result, fmt.Errorf("http: probe request: %w", err)
	}
	s.addHeaders(req)
	res, err := s.client.Do(req)
	if err := statusError(res, err); err != nil {
		return result, fmt.Errorf("http: probe %s: %w", name, err)
	}
	defer res.Body.Close()

	if s.caps.SizeSupported() {
		if res.ContentLength >= 0 {
			result.Size = res.ContentLength
			result.SizeKnown = true
		} else {
			s.caps.MarkSizeUnsupported()
		}
	}

	if s.caps.DateSupported() {
		if header := res.Header.Get("Last-Modified"); header != "" {
			if t, err := http.ParseTime(header); err == nil {
				result.Mtime = t
				result.DateKnown = true
			} else {
				s.caps.MarkDateUnsupported()
			}
		} else {
			s.caps.MarkDateUnsupported()
		}
	}

	return result, nil
}

// Fetch issues a GET with a Range header when offset > 0, following the
// teacher's Object.Open pattern of returning the response body directly
// as the stream.
func (s *Session) Fetch(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.resolve(name), nil)
	if err != nil {
		return nil, fmt.Errorf("http: fetch request: %w", err)
	}
	s.addHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	res, err := s.client.Do(req)
	if err := statusError(res, err); err != nil {
		return nil, fmt.Errorf("http: fetch %s: %w", name, err)
	}
	if offset > 0 && res.StatusCode != http.StatusPartialContent {
		_ = res.Body.Close()
		return nil, fmt.Errorf("http: fetch %s: server ignored range request", name)
	}
	return res.Body, nil
}

// Delete always fails: a plain web origin has no delete operation.
func (s *Session) Delete(ctx context.Context, name string) error {
	return fmt.Errorf("http: delete %s: %w", name, remote.ErrNotSupported)
}

// Close is a no-op: http.Client holds no session state worth releasing
// explicitly beyond what idle-connection reaping already handles.
func (s *Session) Close() error { return nil }

func (s *Session) resolve(name string) string {
	ref := &url.URL{Path: name}
	return s.base.ResolveReference(ref).String()
}

func (s *Session) addHeaders(req *http.Request) {
	for k, v := range s.opt.Headers {
		req.Header.Set(k, v)
	}
}

// statusError follows the teacher's own statusError (backend/http/http.go):
// any 2xx (206 Partial Content included) is success.
func statusError(res *http.Response, err error) error {
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		_ = res.Body.Close()
		return fmt.Errorf("http error: %s", res.Status)
	}
	return nil
}
