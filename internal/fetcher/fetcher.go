package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"url-analyzer/internal/extract"
	"url-analyzer/internal/retry"
	"url-analyzer/internal/urlgate"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 5 * 1024 * 1024
	defaultUserAgent    = "url-analyzer/1.0"
	maxRedirects        = 5
)

// ErrEmptyContent is returned when a page produced no readable text.
var ErrEmptyContent = errors.New("no readable content")

// Content is the cleaned result of a fetch.
type Content struct {
	URL         string
	Title       string
	Description string
	Text        string
	WordCount   int
	ContentType string
}

// Fetcher retrieves cleaned textual content for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Content, error)
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
}

func (e *StatusError) StatusCode() int { return e.Status }

// Options controls HTTP fetching behaviour. RatePerHost limits requests per
// second to a single host (zero disables it). AllowPrivate skips the address
// gate and is only set by tests.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	RatePerHost  float64
	Transport    http.RoundTripper
	AllowPrivate bool
}

// HTTPFetcher implements Fetcher with net/http.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	ratePerHost  float64
	allowPrivate bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher constructs an HTTP fetcher using the provided options.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	transport := opts.Transport
	if transport == nil {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		if !opts.AllowPrivate {
			dialer.Control = controlDial
		}
		transport = &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	f := &HTTPFetcher{
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		ratePerHost:  opts.RatePerHost,
		allowPrivate: opts.AllowPrivate,
		limiters:     make(map[string]*rate.Limiter),
	}
	f.client = &http.Client{
		Timeout:       opts.Timeout,
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// controlDial checks the resolved address of every outbound connection, so a
// public hostname that resolves to an internal address is still refused.
func controlDial(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return &urlgate.SecurityError{Rule: urlgate.RuleMalformed, Reason: "unparseable dial address " + address}
	}
	return urlgate.CheckAddr(ap.Addr())
}

// Fetch downloads rawURL and extracts its text.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Content, error) {
	if !f.allowPrivate {
		if err := urlgate.Validate(rawURL); err != nil {
			return Content{}, retry.Terminal(err)
		}
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return Content{}, retry.Terminal(fmt.Errorf("parse url: %w", err))
	}
	if err := f.wait(ctx, target.Hostname()); err != nil {
		return Content{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Content{}, retry.Terminal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		if urlgate.IsSecurityError(err) {
			return Content{}, retry.Terminal(err)
		}
		return Content{}, fmt.Errorf("http fetch failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_ = resp.Body.Close()
		return Content{}, &StatusError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := f.readBody(resp)
	if err != nil {
		return Content{}, err
	}

	contentType := resp.Header.Get("Content-Type")
	doc, err := extract.FromBytes(ctx, body, contentType, target.Path)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) {
			return Content{}, retry.Terminal(fmt.Errorf("fetch %s: %w", rawURL, err))
		}
		return Content{}, fmt.Errorf("fetch %s: extract: %w", rawURL, err)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return Content{}, retry.Terminal(fmt.Errorf("fetch %s: %w", rawURL, ErrEmptyContent))
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return Content{
		URL:         finalURL,
		Title:       doc.Title,
		Description: doc.Description,
		Text:        doc.Text,
		WordCount:   extract.WordCount(doc.Text),
		ContentType: contentType,
	}, nil
}

func (f *HTTPFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if f.allowPrivate {
		return nil
	}
	return urlgate.Validate(req.URL.String())
}

func (f *HTTPFetcher) wait(ctx context.Context, host string) error {
	if f.ratePerHost <= 0 || host == "" {
		return nil
	}
	host = strings.ToLower(host)
	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.ratePerHost), 1)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()
	return limiter.Wait(ctx)
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, retry.Terminal(fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes))
	}
	return body, nil
}
