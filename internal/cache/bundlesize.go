package cache

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
)

// Fetcher retrieves a script body
type Fetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*httpclient.Response, error)
}

// BundleSize describes the weight of a third-party script
type BundleSize struct {
	URL      string `json:"url"`
	Raw      int    `json:"raw"`
	Transfer int    `json:"transfer"`
	Gzip     int    `json:"gzip"`
	Zstd     int    `json:"zstd"`
	// Encoding is the Content-Encoding the upstream would have used
	Encoding string `json:"encoding,omitempty"`
	// Unknown is set when the size could not be measured
	Unknown bool `json:"unknown,omitempty"`
}

// BundleSizer measures and memoizes bundle sizes
type BundleSizer struct {
	store   *Store
	fetcher Fetcher
	ttl     time.Duration
	// Parallel bounds concurrent upstream fetches in Sizes
	Parallel int
}

// NewBundleSizer creates a sizer caching results in store for ttl
func NewBundleSizer(store *Store, fetcher Fetcher, ttl time.Duration) *BundleSizer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BundleSizer{store: store, fetcher: fetcher, ttl: ttl, Parallel: 4}
}

// Size returns the size of the script at rawURL. A failed measurement is
// reported as Unknown rather than an error and is not cached.
func (b *BundleSizer) Size(ctx context.Context, rawURL string) (BundleSize, error) {
	data, err := b.store.GetOrCompute(ctx, "bundle-size:"+rawURL, b.ttl,
		func(ctx context.Context) ([]byte, error) {
			size, err := b.measure(ctx, rawURL)
			if err != nil {
				return nil, err
			}
			return sonic.Marshal(size)
		},
		func(err error) ([]byte, error) {
			b.store.logger.Debug("Bundle size unavailable", zap.String("url", rawURL), zap.Error(err))
			return sonic.Marshal(BundleSize{URL: rawURL, Unknown: true})
		})
	if err != nil {
		return BundleSize{}, err
	}

	var size BundleSize
	if err := sonic.Unmarshal(data, &size); err != nil {
		return BundleSize{}, fmt.Errorf("decode bundle size: %w", err)
	}
	return size, nil
}

// Sizes measures several scripts concurrently, preserving order
func (b *BundleSizer) Sizes(ctx context.Context, urls []string) ([]BundleSize, error) {
	out := make([]BundleSize, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	if b.Parallel > 0 {
		g.SetLimit(b.Parallel)
	}
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			size, err := b.Size(ctx, u)
			if err != nil {
				return err
			}
			out[i] = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BundleSizer) measure(ctx context.Context, rawURL string) (BundleSize, error) {
	h := http.Header{}
	h.Set("Accept-Encoding", "identity")
	resp, err := b.fetcher.Get(ctx, rawURL, h)
	if err != nil {
		return BundleSize{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return BundleSize{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	gz, err := gzipSize(resp.Body)
	if err != nil {
		return BundleSize{}, err
	}
	zs, err := zstdSize(resp.Body)
	if err != nil {
		return BundleSize{}, err
	}

	size := BundleSize{URL: rawURL, Raw: len(resp.Body), Gzip: gz, Zstd: zs, Transfer: gz}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		size.Encoding = enc
		size.Transfer = len(resp.Body)
	}
	return size, nil
}

func gzipSize(body []byte) (int, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(body); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

func zstdSize(body []byte) (int, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return 0, err
	}
	defer enc.Close()
	return len(enc.EncodeAll(body, nil)), nil
}
