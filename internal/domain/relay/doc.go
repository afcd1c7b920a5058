// Package relay implements the server-side asset relay: endpoints that
// fetch third-party scripts, embeds and images under this application's
// origin.
//
// Every endpoint applies the same policy before touching the network:
//   - a missing or malformed url is a 400
//   - the host must match the endpoint's allow-list (doublestar patterns)
//   - upstream redirects are never followed; a 3xx is a 403
//   - the content type must belong to the endpoint's families
//
// The service-worker variant turns a route table into intercept rules and
// serves a generated worker that rewrites matching third-party requests to
// local paths.
package relay
