// Package transport wraps the HTTP exchange with the Data Commons API
// behind the Requester boundary. Everything above it (retry, batching,
// normalization) works against Requester, so any conforming adapter can
// replace the HTTP implementation.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/diwise/datacommons-client/pkg/datacommons/auth"
	"github.com/diwise/datacommons-client/pkg/datacommons/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Requester performs one HTTP exchange against the API. A Response comes
// back for every completed exchange whatever its status code; an error
// means no response was received (network failure, cancellation, or a
// request that could not be built).
type Requester interface {
	Send(ctx context.Context, method, path string, body any, headers map[string][]string) (*Response, error)
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context, method, path string, body any, headers map[string][]string) (*Response, error)

func (f RequesterFunc) Send(ctx context.Context, method, path string, body any, headers map[string][]string) (*Response, error) {
	return f(ctx, method, path, body, headers)
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

const defaultUserAgent string = "diwise/datacommons-client"

// Option configures the Requester returned by New.
type Option func(*httpRequester)

func Credentials(credentials auth.Credentials) Option {
	return func(r *httpRequester) {
		r.credentials = credentials
	}
}

// RequestsPerSecond caps the sustained request rate of this requester.
// All calls through it share the limiter, which waits (context aware)
// before each request. Zero or negative disables the cap.
func RequestsPerSecond(limit float64) Option {
	return func(r *httpRequester) {
		if limit > 0 {
			burst := int(limit)
			if burst < 1 {
				burst = 1
			}
			r.limiter = rate.NewLimiter(rate.Limit(limit), burst)
		}
	}
}

func Timeout(d time.Duration) Option {
	return func(r *httpRequester) {
		r.httpClient.Timeout = d
	}
}

func UserAgent(ua string) Option {
	return func(r *httpRequester) {
		r.userAgent = ua
	}
}

func Debug(enabled string) Option {
	return func(r *httpRequester) {
		r.debug = (enabled == "true")
	}
}

// New creates the HTTP backed Requester used by default. The underlying
// transport is instrumented with otelhttp so outgoing calls join the
// active trace.
func New(apiURL string, options ...Option) Requester {
	r := &httpRequester{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: defaultUserAgent,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

type httpRequester struct {
	apiURL      string
	httpClient  http.Client
	credentials auth.Credentials
	limiter     *rate.Limiter
	userAgent   string
	debug       bool
}

func (c *httpRequester) Send(ctx context.Context, method, path string, body any, headers map[string][]string) (*Response, error) {
	endpoint := c.apiURL + path

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var requestBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		requestBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.credentials != nil {
		if err := c.credentials.Apply(ctx, req.Header); err != nil {
			return nil, fmt.Errorf("failed to apply credentials: %w", err)
		}
	}

	for header, values := range headers {
		for _, value := range values {
			req.Header.Add(header, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransportError(method, endpoint, err)
	}

	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransportError(method, endpoint, err)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Error("request failed", "request", string(reqbytes), "response", string(respbytes))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       responseBody,
	}, nil
}
