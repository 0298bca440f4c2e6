package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPOptions configures the HTTP source.
type HTTPOptions struct {
	// DialTimeout bounds connection establishment.
	// Default: 30s
	DialTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers. The body
	// itself has no deadline: large artifacts may take hours.
	// Default: 60s
	ResponseHeaderTimeout time.Duration

	UserAgent string
}

// HTTPSource fetches artifacts over HTTP(S).
type HTTPSource struct {
	client    *http.Client
	userAgent string
}

// NewHTTPSource creates an HTTP source whose transport is instrumented with
// OpenTelemetry.
func NewHTTPSource(opts HTTPOptions) *HTTPSource {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 30 * time.Second
	}

	if opts.ResponseHeaderTimeout == 0 {
		opts.ResponseHeaderTimeout = 60 * time.Second
	}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   opts.DialTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   2,
	}

	return NewHTTPSourceWithClient(&http.Client{Transport: otelhttp.NewTransport(base)}, opts.UserAgent)
}

// NewHTTPSourceWithClient uses the given client as is.
func NewHTTPSourceWithClient(client *http.Client, userAgent string) *HTTPSource {
	return &HTTPSource{client: client, userAgent: userAgent}
}

// Probe performs a HEAD request and returns the declared content length.
func (s *HTTPSource) Probe(ctx context.Context, uri string) (int64, error) {
	resp, err := s.do(ctx, http.MethodHead, uri)
	if err != nil {
		return -1, &NetworkError{Operation: "probe", APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus("probe", resp); err != nil {
		return -1, err
	}

	return resp.ContentLength, nil
}

// Open performs a GET request and hands back the response body.
func (s *HTTPSource) Open(ctx context.Context, uri string) (*Stream, error) {
	resp, err := s.do(ctx, http.MethodGet, uri)
	if err != nil {
		return nil, &NetworkError{Operation: "open", APIMessage: err.Error(), Err: err}
	}

	if err := checkStatus("open", resp); err != nil {
		resp.Body.Close()

		return nil, err
	}

	return &Stream{Body: resp.Body, Size: resp.ContentLength}, nil
}

func (s *HTTPSource) do(ctx context.Context, method, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	return s.client.Do(req)
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := resp.Status
	if op == "open" {
		// A short excerpt of the body helps diagnose HTML error pages.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(b) > 0 {
			msg = fmt.Sprintf("%s: %s", resp.Status, b)
		}
	}

	return &NetworkError{Operation: op, StatusCode: resp.StatusCode, APIMessage: msg}
}
