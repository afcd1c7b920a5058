// Package ws streams script instance transitions to development tooling
// over a WebSocket.
package ws
