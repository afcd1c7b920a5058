// Package httpclient is the upstream HTTP client used by the asset relay
// and the event dispatcher.
//
// Built on go-resty/resty with the pooled transport of
// hashicorp/go-retryablehttp:
//   - Redirects are never followed; a 3xx is returned to the caller as-is
//   - Dials to private, loopback and link-local addresses are refused
//     unless AllowPrivate is set (checked on the connected address, so DNS
//     rebinding cannot bypass it)
//   - Bodies are read up to MaxBody
//   - One circuit breaker per upstream host
//   - Optional global rate limit
//
// Example Usage:
//
//	client := httpclient.New(httpclient.DefaultConfig())
//	resp, err := client.Get(ctx, "https://cdn.example.com/a.js", nil)
package httpclient
