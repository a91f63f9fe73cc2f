// Package upstream is the HTTP+JSON transport for every call the core makes to
// the video service: request building, error-envelope detection and the typed
// error taxonomy shared by session, indexer and playback.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/snapetech/cmore/internal/httpclient"
	xlog "github.com/snapetech/cmore/internal/log"
	"github.com/snapetech/cmore/internal/metrics"
)

const (
	defaultRateLimit      = 5
	defaultRateLimitBurst = 10
	maxBodyBytes          = 32 << 20
	tracerName            = "github.com/snapetech/cmore/internal/upstream"
)

// Options configures a Client. Zero values get defaults.
type Options struct {
	HTTPClient     *http.Client
	UserAgent      string
	RateLimit      rate.Limit
	RateLimitBurst int
}

// Client performs one request per call. It never retries: a failed request
// surfaces immediately as a typed error.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    zerolog.Logger
}

// New returns a Client.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.Default()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "cmore/1.0"
	}
	return &Client{
		http:      opts.HTTPClient,
		limiter:   rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
		userAgent: opts.UserAgent,
		logger:    xlog.WithComponent("upstream"),
	}
}

// Request describes one upstream call.
type Request struct {
	Endpoint string // logical name used in logs, metrics and errors
	Method   string // defaults to GET
	URL      string
	Query    url.Values
	Header   http.Header
	Body     interface{} // JSON-encoded when non-nil
}

// Do performs req and returns the raw body. Error envelopes in JSON bodies
// and non-2xx statuses become *AuthError / *ProviderError; connectivity
// failures become *TransportError.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	reqID := uuid.NewString()
	logger := c.logger.With().
		Str(xlog.FieldRequestID, reqID).
		Str(xlog.FieldEndpoint, req.Endpoint).
		Str(xlog.FieldMethod, method).
		Logger()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "upstream."+req.Endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("cmore.endpoint", req.Endpoint),
		attribute.String("cmore.request_id", reqID),
	)

	start := time.Now()
	body, status, err := c.roundTrip(ctx, method, target, req)
	outcome := "ok"
	if err == nil {
		err = checkResponse(req.Endpoint, status, body)
	}
	if err != nil {
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ObserveUpstream(req.Endpoint, outcome, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", status))

	logger.Debug().
		Str(xlog.FieldURL, redact(target)).
		Int(xlog.FieldStatus, status).
		Dur("took", time.Since(start)).
		Str("outcome", outcome).
		Msg("upstream request")
	if err != nil {
		return nil, err
	}
	return body, nil
}

// DoJSON performs req and decodes the body into v.
func (c *Client) DoJSON(ctx context.Context, req Request, v interface{}) error {
	body, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		metrics.ObserveUpstream(req.Endpoint, "decode_error", 0)
		return fmt.Errorf("%s: decode response: %w", req.Endpoint, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, target string, req Request) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, &TransportError{Endpoint: req.Endpoint, URL: redact(target), Err: err}
	}
	var payload io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: encode body: %w", req.Endpoint, err)
		}
		payload = bytes.NewReader(b)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build request: %w", req.Endpoint, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", c.userAgent)
	}
	if payload != nil && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		// *url.Error repeats the full URL, query secrets included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, 0, &TransportError{Endpoint: req.Endpoint, URL: redact(target), Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Endpoint: req.Endpoint, URL: redact(target), Err: err}
	}
	return body, resp.StatusCode, nil
}

// checkResponse inspects any body for an error envelope, then the status.
// Some backends answer 200 with an envelope; others answer 4xx with none.
func checkResponse(endpoint string, status int, body []byte) error {
	env, hasEnv := ParseEnvelope(body)
	if hasEnv {
		return classify(endpoint, status, env, true)
	}
	if status < 200 || status > 299 {
		return classify(endpoint, status, Envelope{Message: http.StatusText(status)}, false)
	}
	return nil
}

func outcomeOf(err error) string {
	switch err.(type) {
	case *AuthError:
		return "auth_error"
	case *ProviderError:
		return "provider_error"
	case *TransportError:
		return "transport_error"
	}
	return "error"
}

// redact drops credentials and tokens from URLs before they reach logs or errors.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	q := u.Query()
	changed := false
	for _, k := range []string{"password", "token", "jwt"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
