package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// Context is the mutable draft passed through the presets
type Context struct {
	Script  *script.Descriptor
	Mode    script.Mode
	Status  *script.StatusRef
	Request *http.Request
	Host    trigger.Host
	// Ready gates injection; presets may replace or extend it
	Ready *async.Future[bool]
	// Headers receives response headers emitted by presets
	Headers http.Header
	// ClientOnly keeps the script out of server rendering
	ClientOnly bool
}

// Preset is a named descriptor transform
type Preset interface {
	Name() string
	Transform(ctx context.Context, tc *Context) error
}

// Apply runs presets in declaration order. The first failure marks the
// status as Error and stops the pipeline.
func Apply(ctx context.Context, presets []Preset, tc *Context) error {
	if tc.Ready == nil {
		tc.Ready = async.Resolved(true)
	}
	if tc.Headers == nil {
		tc.Headers = make(http.Header)
	}
	for _, p := range presets {
		if err := p.Transform(ctx, tc); err != nil {
			if tc.Status != nil {
				tc.Status.Set(script.StatusError)
			}
			return fmt.Errorf("preset %s: %w", p.Name(), err)
		}
	}
	return nil
}

// Names lists preset names in order
func Names(presets []Preset) []string {
	out := make([]string, len(presets))
	for i, p := range presets {
		out[i] = p.Name()
	}
	return out
}
