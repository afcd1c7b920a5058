package relay

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	encodingZstd     = "zstd"
	encodingGzip     = "gzip"
	encodingIdentity = ""
)

// negotiateEncoding picks zstd, then gzip, from an Accept-Encoding value
func negotiateEncoding(accept string) string {
	accepted := map[string]bool{}
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || rejected(params) {
			continue
		}
		accepted[name] = true
	}
	switch {
	case accepted[encodingZstd]:
		return encodingZstd
	case accepted[encodingGzip], accepted["*"]:
		return encodingGzip
	}
	return encodingIdentity
}

func rejected(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(k) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil && q == 0
	}
	return false
}

// encodeBody compresses body with encoding
func encodeBody(encoding string, body []byte) ([]byte, error) {
	switch encoding {
	case encodingZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
	case encodingGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return body, nil
}
