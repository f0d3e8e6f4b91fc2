// Package httpkit builds the outbound HTTP clients used by the research
// tools and model providers. Every client shares one transport shape:
// explicit dial and TLS timeouts, bounded idle pools, a User-Agent on
// every request, and an optional retry policy for failures that are
// safe to repeat.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/scholar/internal/buildinfo"
)

// Transport defaults.
const (
	DefaultTimeout             = 30 * time.Second
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 30 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5

	// maxRetryWait caps how long a Retry-After header can stall a
	// retry. Longer waits surface as errors instead.
	maxRetryWait = 5 * time.Second
)

// ClientOption configures a Client built by NewClient.
type ClientOption func(*options)

type options struct {
	timeout   time.Duration
	userAgent string
	retries   int
	delay     time.Duration
	gateway   bool
	logger    *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(o *options) { o.userAgent = ua }
}

// WithRetry retries dial failures (host or network unreachable,
// connection refused) up to count times, waiting delay between tries.
// Requests with a body are only retried when GetBody can rewind it.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(o *options) {
		o.retries = count
		o.delay = delay
	}
}

// WithGatewayRetry extends the WithRetry policy to 502, 503 and 504
// responses for GET and HEAD requests. A Retry-After longer than a few
// seconds is not waited out.
func WithGatewayRetry() ClientOption {
	return func(o *options) { o.gateway = true }
}

// WithLogger sets a logger for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *options) { o.logger = l }
}

// NewTransport creates an http.Transport with explicit timeouts and
// bounded idle pools.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client on a fresh transport.
func NewClient(opts ...ClientOption) *http.Client {
	o := &options{
		timeout:   DefaultTimeout,
		userAgent: buildinfo.UserAgent(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &http.Client{
		Timeout: o.timeout,
		Transport: &transport{
			base:    NewTransport(),
			ua:      o.userAgent,
			retries: o.retries,
			delay:   o.delay,
			gateway: o.gateway,
			logger:  o.logger,
		},
	}
}

// transport adds the User-Agent and applies the retry policy.
type transport struct {
	base    http.RoundTripper
	ua      string
	retries int
	delay   time.Duration
	gateway bool
	logger  *slog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ua != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}

	resp, err := t.base.RoundTrip(req)
	for attempt := 1; attempt <= t.retries; attempt++ {
		wait, ok := t.retryAfter(req, resp, err)
		if !ok {
			break
		}
		if t.logger != nil {
			t.logger.Debug("retrying request",
				"method", req.Method,
				"url", req.URL.Redacted(),
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}
		if resp != nil {
			DrainAndClose(resp.Body, 4096)
		}

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		next := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			next.Body = body
		}
		resp, err = t.base.RoundTrip(next)
	}
	return resp, err
}

// retryAfter decides whether the outcome of one attempt is worth
// repeating and how long to wait first.
func (t *transport) retryAfter(req *http.Request, resp *http.Response, err error) (time.Duration, bool) {
	if err != nil {
		if !isRetryableError(err) {
			return 0, false
		}
		if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			return 0, false
		}
		return t.delay, true
	}

	if !t.gateway || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return 0, false
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
	default:
		return 0, false
	}
	wait := t.delay
	if ra := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ra > 0 {
		if ra > maxRetryWait {
			return 0, false
		}
		wait = ra
	}
	return wait, true
}

// isRetryableError reports dial-level failures. ECONNRESET is excluded
// because the server may already have acted on the request.
func isRetryableError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
		return true
	}
	return false
}

// DrainAndClose reads up to limit bytes from rc and closes it so the
// connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes from rc for error messages,
// then drains and closes the rest.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
