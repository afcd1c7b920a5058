// Package cache provides a persisted TTL key-value store backed by badger.
//
// Entries are stored as {expires, data} envelopes under blake2b-hashed keys.
// GetOrCompute recomputes missing or expired entries; concurrent recomputes
// of one key share a single call.
package cache
