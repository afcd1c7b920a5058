package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/tracing"
)

var (
	ErrPrivateAddress = errors.New("upstream address is private or loopback")
	ErrBodyTooLarge   = errors.New("upstream body exceeds limit")

	errServerStatus = errors.New("upstream server error")
)

// Config configures the client
type Config struct {
	Timeout      time.Duration
	Retries      int
	MaxBody      int64
	RateLimit    float64 // requests per second, 0 for unlimited
	UserAgent    string
	AllowPrivate bool
}

// DefaultConfig returns the relay defaults
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		Retries:   1,
		MaxBody:   5 << 20,
		UserAgent: "scriptkit-relay/1.0",
	}
}

// Client wraps resty with per-host breakers and a rate limiter
type Client struct {
	Resty    *resty.Client
	Breakers *resilience.Group

	limiter *rate.Limiter
	maxBody int64
	tracer  *tracing.Tracer
	mu      sync.RWMutex
}

// Option configures a Client
type Option func(*Client)

// WithTracer records a span per upstream request
func WithTracer(t *tracing.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithBreakerSettings replaces the per-host breaker settings
func WithBreakerSettings(s resilience.Settings) Option {
	return func(c *Client) { c.Breakers = resilience.NewGroup("upstream", s) }
}

// Response is a fully read upstream response
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Redirect reports whether the upstream answered with a 3xx
func (r *Response) Redirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// ContentType returns the upstream Content-Type header
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// New creates a client
func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultConfig().MaxBody
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	transport, ok := retryClient.HTTPClient.Transport.(*http.Transport)
	if !ok {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if !cfg.AllowPrivate {
		dialer.Control = refusePrivate
	}
	transport.DialContext = dialer.DialContext

	restyClient := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return err != nil && !errors.Is(err, ErrPrivateAddress) && !errors.Is(err, context.Canceled)
		})
	if cfg.UserAgent != "" {
		restyClient.SetHeader("User-Agent", cfg.UserAgent)
	}

	c := &Client{
		Resty:   restyClient,
		limiter: rate.NewLimiter(rate.Inf, 0),
		maxBody: cfg.MaxBody,
		Breakers: resilience.NewGroup("upstream", resilience.Settings{
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsFailure: countsAgainstHost,
		}),
	}
	c.SetRateLimit(cfg.RateLimit)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetRateLimit configures the request rate (requests per second)
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// MaxBody returns the body limit in bytes
func (c *Client) MaxBody() int64 { return c.maxBody }

// Get fetches rawURL without following redirects
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, header, nil)
}

// Post sends body to rawURL
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	return c.Do(ctx, http.MethodPost, rawURL, header, body)
}

// Do performs a request through the host's breaker. A 5xx is returned as a
// response, not an error, but counts as a host failure.
func (c *Client) Do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	if c.tracer != nil {
		var span *tracing.Span
		span, ctx = c.tracer.StartSpan(ctx, "upstream "+method)
		span.SetTag("upstream.host", u.Host)
		defer c.tracer.End(span)
		defer func() {
			if err != nil {
				span.SetError(err)
			}
		}()
	}

	var resp *Response
	err = c.Breakers.Execute(u.Hostname(), func() error {
		r, err := c.do(ctx, method, rawURL, header, body)
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= 500 {
			return errServerStatus
		}
		return nil
	})
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Response, error) {
	req := c.Resty.R().SetContext(ctx).SetDoNotParseResponse(true)
	for name := range header {
		req.SetHeader(name, header.Get(name))
	}
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	res, err := req.Execute(method, rawURL)
	if err != nil {
		return nil, err
	}
	raw := res.RawBody()
	defer raw.Close()

	data, err := LimitedReadAll(raw, c.maxBody)
	if err != nil {
		return nil, err
	}
	return &Response{
		URL:        rawURL,
		StatusCode: res.StatusCode(),
		Header:     res.Header().Clone(),
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

// LimitedReadAll reads at most maxBytes from r
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, maxBytes)
	}
	return data, nil
}

// IsTimeout reports whether err is an upstream timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func countsAgainstHost(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrBodyTooLarge) &&
		!errors.Is(err, ErrPrivateAddress) &&
		!errors.Is(err, context.Canceled)
}

func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || IsPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

// IsPrivateIP reports loopback, private, link-local and unspecified addresses
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
