package httpcall

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengreffe/guichet/pkg/auth"
	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
	"github.com/opengreffe/guichet/pkg/resilience"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultPDFTimeout  = 300 * time.Second
	defaultRetryAfter  = 60 * time.Second
	maxJSONBody        = 8 << 20
	maxDownloadBody    = 64 << 20
	defaultClientScope = "default"
)

// ProviderProfile declares how calls to one upstream are shaped:
// its credential service, rate budget, timeouts, and retry policy.
// Document downloads may carry their own budget and timeout.
type ProviderProfile struct {
	Name        string
	AuthService string
	Limit       cache.Limit
	PDFLimit    cache.Limit
	Timeout     time.Duration
	PDFTimeout  time.Duration
	Retry       resilience.RetryConfig
}

// Request describes one upstream call.
type Request struct {
	Provider string
	Method   string
	URL      string
	Query    url.Values
	Headers  map[string]string
	Body     []byte
	Accept   string
	// Download switches to the provider's document profile: longer
	// timeout, separate rate budget, larger body cap.
	Download bool
}

// Response is the raw upstream answer after status mapping.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type providerClient struct {
	profile ProviderProfile
	client  *http.Client
}

// Caller is the single entry point for provider requests. Every call
// composes, outermost first: rate limit, circuit breaker, retry,
// transport. One pooled HTTP client per provider.
type Caller struct {
	providers map[string]*providerClient
	limiter   *cache.RateLimiter
	breakers  *resilience.BreakerSet
	store     *auth.Store
	logger    zerolog.Logger
	userAgent string
}

// New creates a caller over the declared provider profiles.
func New(profiles []ProviderProfile, limiter *cache.RateLimiter, breakers *resilience.BreakerSet, store *auth.Store, version string) *Caller {
	providers := make(map[string]*providerClient, len(profiles))
	for _, p := range profiles {
		if p.Timeout <= 0 {
			p.Timeout = defaultTimeout
		}
		if p.PDFTimeout <= 0 {
			p.PDFTimeout = defaultPDFTimeout
		}
		providers[p.Name] = &providerClient{
			profile: p,
			client: &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 10,
					IdleConnTimeout:     90 * time.Second,
				},
			},
		}
	}
	if version == "" {
		version = "dev"
	}
	return &Caller{
		providers: providers,
		limiter:   limiter,
		breakers:  breakers,
		store:     store,
		logger:    log.WithComponent("httpcall"),
		userAgent: "guichet/" + version,
	}
}

// Do performs one upstream call. A 401 invalidates the provider's
// credential and the call is re-issued once with fresh headers; a
// second 401 means the credential service itself is broken.
func (c *Caller) Do(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.once(ctx, req)
	if guicherr.KindOf(err) == guicherr.KindAuthExpired {
		resp, err = c.once(ctx, req)
		if guicherr.KindOf(err) == guicherr.KindAuthExpired {
			err = guicherr.Wrap(guicherr.KindAuthUnavailable, req.Provider, err)
		}
	}
	if err != nil {
		metrics.ProviderFailuresTotal.WithLabelValues(req.Provider, string(guicherr.KindOf(err))).Inc()
	}
	return resp, err
}

func (c *Caller) once(ctx context.Context, req Request) (*Response, error) {
	pc, ok := c.providers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("no profile declared for provider %q", req.Provider)
	}

	limit := pc.profile.Limit
	timeout := pc.profile.Timeout
	bucket := req.Provider
	if req.Download {
		timeout = pc.profile.PDFTimeout
		if pc.profile.PDFLimit.Requests > 0 {
			limit = pc.profile.PDFLimit
			bucket = req.Provider + ":pdf"
		}
	}

	if limit.Requests > 0 {
		admitted, retryAfter, err := c.limiter.Admit(ctx, bucket, defaultClientScope, limit)
		if err != nil {
			c.logger.Warn().Err(err).Str("provider", req.Provider).Msg("Rate limiter degraded, admitting call")
		}
		if !admitted {
			return nil, guicherr.RateLimited(req.Provider, retryAfter)
		}
	}

	result, err := c.breakers.For(req.Provider).Execute(func() (interface{}, error) {
		var resp *Response
		retryErr := resilience.Retry(ctx, req.Provider, pc.profile.Retry, func() error {
			r, err := c.roundTrip(ctx, pc, req, timeout)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if retryErr != nil {
			return nil, retryErr
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (c *Caller) roundTrip(ctx context.Context, pc *providerClient, req Request, timeout time.Duration) (*Response, error) {
	provider := pc.profile.Name

	headers, err := c.store.HeadersFor(ctx, pc.profile.AuthService)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(callCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", provider, err)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := pc.client.Do(httpReq)
	metrics.ProviderRequestDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(provider, "error").Inc()
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			// Per-call timeout, not the caller's deadline: retryable.
			return nil, guicherr.New(guicherr.KindUpstream, provider,
				fmt.Sprintf("request timed out after %s", timeout))
		}
		return nil, guicherr.Wrap(guicherr.KindUpstream, provider, err)
	}
	defer httpResp.Body.Close()

	bodyCap := int64(maxJSONBody)
	if req.Download {
		bodyCap = maxDownloadBody
	}
	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, bodyCap))
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(provider, "error").Inc()
		return nil, guicherr.Wrap(guicherr.KindUpstream, provider, err)
	}

	metrics.ProviderRequestsTotal.WithLabelValues(provider, strconv.Itoa(httpResp.StatusCode)).Inc()

	return c.mapStatus(pc, httpResp, payload)
}

// mapStatus turns upstream status codes into the gateway's error
// kinds. 2xx passes through; everything else becomes a typed error.
func (c *Caller) mapStatus(pc *providerClient, httpResp *http.Response, payload []byte) (*Response, error) {
	provider := pc.profile.Name
	status := httpResp.StatusCode

	switch {
	case status < 300:
		return &Response{
			StatusCode: status,
			Header:     httpResp.Header,
			Body:       payload,
		}, nil

	case status == http.StatusUnauthorized:
		c.store.Invalidate(pc.profile.AuthService)
		return nil, guicherr.New(guicherr.KindAuthExpired, provider, "credential rejected")

	case status == http.StatusNotFound:
		return nil, guicherr.NotFound(provider, "resource not found")

	case status == http.StatusTooManyRequests:
		return nil, guicherr.RateLimited(provider, parseRetryAfter(httpResp.Header.Get("Retry-After")))

	default:
		return nil, guicherr.Upstream(provider, status, bodySnippet(payload))
	}
}

// parseRetryAfter reads a Retry-After header in either seconds or
// HTTP-date form, defaulting to 60s when absent or malformed.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func bodySnippet(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
