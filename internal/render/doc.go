// Package render is the server-side script host. A Context collects the
// head tags and response headers produced while rendering one request and
// writes them into the HTML shell. Nothing executes on the server, so
// injections never complete and client-only triggers stay pending.
package render
