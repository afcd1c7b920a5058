package script

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"
)

// Integrity computes an SRI value ("sha384-...") for body
func Integrity(algo string, body []byte) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	h.Write(body)
	return algo + "-" + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// VerifyIntegrity checks body against a space separated SRI list. Any
// matching entry with a supported algorithm passes.
func VerifyIntegrity(integrity string, body []byte) error {
	var checked bool
	for _, entry := range strings.Fields(integrity) {
		algo, _, ok := strings.Cut(entry, "-")
		if !ok {
			continue
		}
		if opt := strings.IndexByte(entry, '?'); opt >= 0 {
			entry = entry[:opt]
		}
		want, err := Integrity(algo, body)
		if err != nil {
			continue
		}
		checked = true
		if subtle.ConstantTimeCompare([]byte(want), []byte(entry)) == 1 {
			return nil
		}
	}
	if !checked {
		return fmt.Errorf("%w: no supported hash in %q", ErrIntegrityMismatch, integrity)
	}
	return ErrIntegrityMismatch
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("unsupported integrity algorithm %q", algo)
}
