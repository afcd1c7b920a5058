package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/resilience"
)

// Upstream fetches third-party URLs without following redirects
type Upstream interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*httpclient.Response, error)
}

// Asset is a fetched upstream body that passed policy
type Asset struct {
	URL         string
	ContentType string
	Body        []byte
}

// Options configures a Service
type Options struct {
	// Prefix is the mount point of the relay routes
	Prefix   string
	Policies map[Endpoint]Policy
	// Routes maps local paths to upstream patterns for the service worker
	Routes  map[string]string
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Service fetches and checks relayed assets
type Service struct {
	upstream  Upstream
	prefix    string
	policies  map[Endpoint]Policy
	rules     []InterceptRule
	worker    []byte
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	flights   singleflight.Group
}

// NewService creates a relay service
func NewService(upstream Upstream, opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Prefix == "" {
		opts.Prefix = "/relay"
	}
	if opts.Policies == nil {
		opts.Policies = DefaultPolicies(nil)
	}

	rules, err := BuildRules(opts.Routes)
	if err != nil {
		return nil, err
	}
	worker, err := Worker(rules)
	if err != nil {
		return nil, err
	}

	return &Service{
		upstream:  upstream,
		prefix:    strings.TrimRight(opts.Prefix, "/"),
		policies:  opts.Policies,
		rules:     rules,
		worker:    worker,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    opts.Logger.Named("relay"),
		metrics:   opts.Metrics,
	}, nil
}

// Prefix returns the mount point of the relay routes
func (s *Service) Prefix() string { return s.prefix }

// Rules returns the service-worker intercept rules
func (s *Service) Rules() []InterceptRule { return s.rules }

// Policy returns the policy of endpoint
func (s *Service) Policy(endpoint Endpoint) Policy { return s.policies[endpoint] }

// FetchAsset fetches a script body for inlining
func (s *Service) FetchAsset(ctx context.Context, src string) ([]byte, error) {
	asset, err := s.Fetch(ctx, EndpointInline, src)
	if err != nil {
		return nil, err
	}
	return asset.Body, nil
}

// Fetch checks rawURL against the endpoint policy, fetches it and checks the
// response. Identical concurrent fetches share one upstream request, and a
// caller giving up does not cancel it for the others.
func (s *Service) Fetch(ctx context.Context, endpoint Endpoint, rawURL string) (*Asset, error) {
	policy, ok := s.policies[endpoint]
	if !ok {
		return nil, &script.SecurityPolicyViolation{URL: rawURL, Reason: script.ErrDomainNotAllowed}
	}
	u, err := policy.CheckURL(rawURL)
	if err != nil {
		return nil, err
	}
	target := u.String()

	// The shared fetch outlives any single caller; the upstream timeout bounds it.
	ch := s.flights.DoChan(string(endpoint)+" "+target, func() (interface{}, error) {
		return s.fetch(context.WithoutCancel(ctx), endpoint, policy, target)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Asset), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) fetch(ctx context.Context, endpoint Endpoint, policy Policy, target string) (asset *Asset, err error) {
	timer := monitoring.NewTimer(s.metrics, string(endpoint))
	defer func() { timer.Stop(outcome(err)) }()

	resp, err := s.upstream.Get(ctx, target, acceptHeader(endpoint))
	if err != nil {
		if errors.Is(err, httpclient.ErrPrivateAddress) {
			return nil, &script.SecurityPolicyViolation{URL: target, Reason: script.ErrDomainNotAllowed}
		}
		return nil, &script.RelayFetchError{URL: target, Err: err}
	}
	if resp.Redirect() {
		return nil, &script.SecurityPolicyViolation{URL: target, Reason: script.ErrRedirectNotAllowed}
	}
	if resp.StatusCode >= 400 {
		return nil, &script.RelayFetchError{URL: target, Status: resp.StatusCode}
	}

	contentType, err := policy.ContentType(resp.ContentType(), resp.Body, target)
	if err != nil {
		return nil, err
	}
	return &Asset{URL: target, ContentType: contentType, Body: resp.Body}, nil
}

func acceptHeader(endpoint Endpoint) http.Header {
	h := http.Header{}
	switch endpoint {
	case EndpointEmbed:
		h.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	case EndpointEmbedImage:
		h.Set("Accept", "image/avif,image/webp,image/*;q=0.8")
	default:
		h.Set("Accept", "*/*")
	}
	return h
}

func outcome(err error) string {
	var violation *script.SecurityPolicyViolation
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &violation):
		return "rejected"
	case httpclient.IsTimeout(err):
		return "timeout"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	}
	return "error"
}

// statusFor maps a relay error to its HTTP status
func statusFor(err error) int {
	var violation *script.SecurityPolicyViolation
	switch {
	case errors.Is(err, script.ErrMissingURL), errors.Is(err, script.ErrMalformedURL):
		return http.StatusBadRequest
	case errors.As(err, &violation):
		return http.StatusForbidden
	case httpclient.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// publicMessage is the client-facing text for a relay error
func publicMessage(err error) string {
	var violation *script.SecurityPolicyViolation
	switch {
	case errors.Is(err, script.ErrMissingURL):
		return "Missing url parameter"
	case errors.Is(err, script.ErrMalformedURL):
		return "Malformed url"
	case errors.As(err, &violation):
		reason := violation.Reason.Error()
		return strings.ToUpper(reason[:1]) + reason[1:]
	case httpclient.IsTimeout(err):
		return "Upstream timed out"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "Upstream unavailable"
	}
	return "Upstream fetch failed"
}

// violationReason is the metrics label of a policy violation
func violationReason(err error) string {
	for _, reason := range []error{
		script.ErrDomainNotAllowed,
		script.ErrRedirectNotAllowed,
		script.ErrContentTypeNotAllowed,
		script.ErrIntegrityMismatch,
		script.ErrRefererMismatch,
	} {
		if errors.Is(err, reason) {
			return strings.ReplaceAll(reason.Error(), " ", "_")
		}
	}
	return "other"
}
