package registry

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// ErrClosed is returned by Request after Close
var ErrClosed = errors.New("registry closed")

// Host is the environment scripts are injected into
type Host interface {
	trigger.Host
	// Inject enters the script into the page without blocking. The future
	// settles once the script has executed, and never on hosts that do not
	// execute.
	Inject(ctx context.Context, d *script.Descriptor) *async.Future[struct{}]
	Eject(key string)
}

// UseFunc extracts the runtime API once the script executed
type UseFunc func() (interface{}, error)

// Request describes one caller's interest in a script
type Request struct {
	Descriptor *script.Descriptor
	Trigger    trigger.Spec
	Presets    []pipeline.Preset
	Use        UseFunc
	// BeforeInit runs once, when the instance is created
	BeforeInit func() error
}

// Transition is a status change of one instance
type Transition struct {
	Key  string
	From script.Status
	To   script.Status
	Err  error
	At   time.Time
	// Removed marks the final transition of an evicted instance
	Removed bool
}

// Info is a snapshot of one instance
type Info struct {
	Key         string        `json:"key"`
	Status      script.Status `json:"status"`
	Subscribers int           `json:"subscribers"`
	Trigger     string        `json:"trigger"`
	Presets     []string      `json:"presets,omitempty"`
	Src         string        `json:"src,omitempty"`
	Error       string        `json:"error,omitempty"`
}
