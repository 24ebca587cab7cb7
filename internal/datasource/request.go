package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"reportgen/internal/table"
	"reportgen/internal/validate"
)

// Request defaults.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultProbeTimeout   = 10 * time.Second
	DefaultRetryMax       = 2 // three attempts in total
	DefaultRetryWaitMin   = time.Second
	DefaultRetryWaitMax   = 10 * time.Second
)

// retryStatuses are the transient statuses worth another attempt.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RequestConfig configures a RequestSource. Zero values take the defaults
// above. RetryMax counts retries after the first attempt; a negative value
// disables retries.
type RequestConfig struct {
	URL       string
	Method    string // GET (default) or POST
	AuthToken string // sent as "Authorization: Bearer <token>"
	Headers   map[string]string
	Params    map[string]string // query string, GET only
	Body      map[string]any    // JSON body, POST only

	Timeout      time.Duration
	ProbeTimeout time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// RequestSource fetches JSON from an HTTP endpoint.
type RequestSource struct {
	name   string
	cfg    RequestConfig
	method string
	client *retryablehttp.Client
	probe  *retryablehttp.Client
}

// NewRequestSource validates the URL and method and prepares the retrying
// client.
func NewRequestSource(name string, cfg RequestConfig) (*RequestSource, error) {
	log := sourceLogger(name, KindRequest)
	if err := validate.URL(cfg.URL); err != nil {
		return nil, fail(log, KindRequest, name, "invalid url", err)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fail(log, KindRequest, name, fmt.Sprintf("unsupported HTTP method %q", cfg.Method), nil)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	switch {
	case cfg.RetryMax == 0:
		cfg.RetryMax = DefaultRetryMax
	case cfg.RetryMax < 0:
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = DefaultRetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = DefaultRetryWaitMax
	}

	client := newClient(log, cfg.Timeout)
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.CheckRetry = retryPolicy(method)

	probe := newClient(log, cfg.ProbeTimeout)
	probe.RetryMax = 0

	return &RequestSource{name: name, cfg: cfg, method: method, client: client, probe: probe}, nil
}

func newClient(log *zap.Logger, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = timeout
	c.Logger = leveledLogger{log.Sugar()}
	c.Backoff = retryablehttp.DefaultBackoff
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.CheckRetry = retryPolicy("")
	return c
}

// retryPolicy retries recoverable transport errors and transient statuses,
// and only for GET and POST. Bad schemes, invalid headers, redirect loops
// and certificate failures are permanent.
func retryPolicy(method string) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if method != http.MethodGet && method != http.MethodPost {
			return false, err
		}
		if err != nil {
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		return retryStatuses[resp.StatusCode], nil
	}
}

func (s *RequestSource) Name() string { return s.name }
func (s *RequestSource) Kind() Kind   { return KindRequest }

// Target returns the URL with any credentials removed.
func (s *RequestSource) Target() string { return redact(s.cfg.URL) }

// Method returns the upper-cased HTTP method.
func (s *RequestSource) Method() string { return s.method }

// Fetch issues the request and converts the JSON body. Arrays become one
// row per element; an object holding a "data" or "results" array yields
// that array; any other object is a single row.
func (s *RequestSource) Fetch(ctx context.Context) (*table.Table, error) {
	log := sourceLogger(s.name, KindRequest)
	log.Info("fetching data", zap.String("url", s.Target()), zap.String("method", s.method))
	defer s.client.HTTPClient.CloseIdleConnections()

	req, err := s.newRequest(ctx)
	if err != nil {
		return nil, fail(log, KindRequest, s.name, "failed to build request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fail(log, KindRequest, s.name, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(log, KindRequest, s.name, "failed to read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail(log, KindRequest, s.name,
			fmt.Sprintf("unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil)
	}

	decoded, err := table.DecodeJSON(body)
	if err != nil {
		return nil, fail(log, KindRequest, s.name, "malformed response body", err)
	}
	rows, err := responseRows(decoded)
	if err != nil {
		return nil, fail(log, KindRequest, s.name, "malformed response body", err)
	}
	t, err := table.FromJSONValues(rows)
	if err != nil {
		return nil, fail(log, KindRequest, s.name, "failed to convert response", err)
	}
	logFetched(log, s.Target(), t, zap.Int("status_code", resp.StatusCode))
	return t, nil
}

func (s *RequestSource) newRequest(ctx context.Context) (*retryablehttp.Request, error) {
	target := s.cfg.URL
	var body any
	switch s.method {
	case http.MethodGet:
		if len(s.cfg.Params) > 0 {
			u, err := url.Parse(target)
			if err != nil {
				return nil, err
			}
			q := u.Query()
			for k, v := range s.cfg.Params {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
			target = u.String()
		}
	case http.MethodPost:
		payload := s.cfg.Body
		if payload == nil {
			payload = map[string]any{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, s.method, target, body)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req.Header)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (s *RequestSource) setHeaders(h http.Header) {
	h.Set("Accept", "application/json")
	for k, v := range s.cfg.Headers {
		h.Set(k, v)
	}
	if s.cfg.AuthToken != "" {
		h.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}
}

// TestConnection sends HEAD, falling back to GET when HEAD fails at the
// transport level or is not allowed. Any 2xx answer passes.
func (s *RequestSource) TestConnection(ctx context.Context) (bool, error) {
	log := sourceLogger(s.name, KindRequest)
	defer s.probe.HTTPClient.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	status, err := s.probeOnce(ctx, http.MethodHead)
	if err != nil || status == http.StatusMethodNotAllowed {
		status, err = s.probeOnce(ctx, http.MethodGet)
	}
	if err != nil {
		return false, fail(log, KindRequest, s.name, "connection test failed", err)
	}
	if status < 200 || status > 299 {
		return false, fail(log, KindRequest, s.name,
			fmt.Sprintf("connection test failed: status %d", status), nil)
	}
	log.Info("connection test passed", zap.Int("status_code", status))
	return true, nil
}

func (s *RequestSource) probeOnce(ctx context.Context, method string) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, s.cfg.URL, nil)
	if err != nil {
		return 0, err
	}
	s.setHeaders(req.Header)
	resp, err := s.probe.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func responseRows(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case table.Object:
		for _, key := range []string{"data", "results"} {
			inner, ok := x.Get(key)
			if !ok {
				continue
			}
			switch y := inner.(type) {
			case []any:
				return y, nil
			case table.Object:
				return []any{y}, nil
			default:
				return nil, fmt.Errorf("%q holds %s, want an array or object", key, jsonKind(inner))
			}
		}
		return []any{x}, nil
	default:
		return nil, fmt.Errorf("unexpected response type %s", jsonKind(v))
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case []any:
		return "array"
	case table.Object:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// leveledLogger routes retryablehttp's logging into zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
