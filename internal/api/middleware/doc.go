// Package middleware holds the gin middleware shared by every route: CORS,
// per-IP rate limiting and the development-only guard.
package middleware
