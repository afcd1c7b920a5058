package buffer

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
)

// Poster sends a request body upstream
type Poster interface {
	Post(ctx context.Context, rawURL, contentType string, body []byte) (*httpclient.Response, error)
}

// HTTPDispatcher POSTs batches as JSON to an endpoint
type HTTPDispatcher struct {
	Endpoint string
	Client   Poster
}

// NewHTTPDispatcher creates a dispatcher for endpoint
func NewHTTPDispatcher(endpoint string, client Poster) *HTTPDispatcher {
	return &HTTPDispatcher{Endpoint: endpoint, Client: client}
}

// Dispatch encodes batch and posts it
func (d *HTTPDispatcher) Dispatch(ctx context.Context, batch Batch) error {
	body, err := sonic.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	resp, err := d.Client.Post(ctx, d.Endpoint, "application/json", body)
	if err != nil {
		return fmt.Errorf("post batch %s: %w", batch.ID, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post batch %s: endpoint returned %d", batch.ID, resp.StatusCode)
	}
	return nil
}
