package page

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// ScriptTarget is the event target of an injected script element
func ScriptTarget(key string) string {
	return "script:" + key
}

// Inject inserts a script element into the head, fetches its source and
// executes it. The returned future settles when execution completes.
func (d *Document) Inject(ctx context.Context, desc *script.Descriptor) *async.Future[struct{}] {
	done := async.NewFuture[struct{}]()
	if err := ctx.Err(); err != nil {
		done.Reject(err)
		return done
	}

	el := NewElement("script", desc.Attributes)
	if desc.Src != "" {
		el.SetAttribute("src", desc.Src)
	}
	if desc.Integrity != "" {
		el.SetAttribute("integrity", desc.Integrity)
	}
	el.SetAttribute("data-script-key", desc.Key)
	el.TextContent = desc.Body

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		done.Reject(ErrClosed)
		return done
	}
	previous := d.scripts[desc.Key]
	d.scripts[desc.Key] = el
	d.mu.Unlock()

	if previous != nil {
		d.dom.Detach(previous)
	}
	d.dom.Append(d.dom.Head(), el)

	go func() {
		if err := d.load(ctx, desc, el); err != nil {
			d.logger.Debug("script failed", zap.String("key", desc.Key), zap.Error(err))
			d.DispatchEvent(ScriptTarget(desc.Key), "error")
			done.Reject(err)
			return
		}
		d.DispatchEvent(ScriptTarget(desc.Key), "load")
		done.Resolve(struct{}{})
	}()
	return done
}

func (d *Document) load(ctx context.Context, desc *script.Descriptor, el *Element) error {
	body := []byte(desc.Body)
	if desc.Src != "" {
		if d.fetcher == nil {
			return &script.ScriptExecutionError{Key: desc.Key, Phase: "fetch", Err: fmt.Errorf("no fetcher for %s", desc.Src)}
		}
		b, err := d.fetcher.Fetch(ctx, desc.Src)
		if err != nil {
			return &script.ScriptExecutionError{Key: desc.Key, Phase: "fetch", Err: err}
		}
		if desc.Integrity != "" {
			if err := script.VerifyIntegrity(desc.Integrity, b); err != nil {
				return &script.ScriptExecutionError{Key: desc.Key, Phase: "integrity", Err: err}
			}
		}
		body = b
	}

	if !d.dom.Attached(el) {
		return script.ErrScriptRemoved
	}
	if _, err := d.Run(ctx, desc.Key, string(body)); err != nil {
		return &script.ScriptExecutionError{Key: desc.Key, Phase: "execute", Err: fmt.Errorf("%s", describe(err))}
	}
	return nil
}

// Eject detaches the script element injected for key
func (d *Document) Eject(key string) {
	d.mu.Lock()
	el := d.scripts[key]
	delete(d.scripts, key)
	d.mu.Unlock()

	if el != nil {
		d.dom.Detach(el)
	}
}

// Scripts returns the keys of injected script elements
func (d *Document) Scripts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.scripts))
	for k := range d.scripts {
		keys = append(keys, k)
	}
	return keys
}
