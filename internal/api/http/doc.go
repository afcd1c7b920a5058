// Package http implements the gin handlers of the public and development
// routes: health, status introspection, the server render shell, the
// collect sink and bundle size lookups.
package http
