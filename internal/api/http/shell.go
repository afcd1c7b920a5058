package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/adapter"
	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/domain/registry"
	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/render"
)

const shellPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>scriptkit</title></head><body></body></html>`

// Shell runs a server render pass for the providers named in the
// "providers" query and returns the page with their head tags. Options are
// passed as "<provider>.<option>=value"; "<provider>.presets" names extra
// presets.
func (h *Handlers) Shell(c *gin.Context) {
	keys := splitList(c.Query("providers"))

	rc := render.New(c.Request)
	reg := registry.New(c.Request.Context(), rc, registry.WithLogger(h.logger))
	defer reg.Close()
	if h.hub != nil {
		untrack := h.hub.Track(reg)
		defer untrack()
	}

	env := adapter.Env{Registry: reg, Dev: h.opts.Dev, Logger: h.logger}
	for _, key := range keys {
		entry, err := h.catalog.Get(key)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "provider": key})
			return
		}

		opts, overrides, err := h.providerOptions(c.Request.URL.Query(), key)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "provider": key})
			return
		}

		if _, err := entry.Factory.UseAny(nil, env, opts, overrides...); err != nil {
			resp := gin.H{"error": err.Error(), "provider": key}
			var verr *script.ValidationError
			if errors.As(err, &verr) {
				resp["fields"] = verr.Fields
			}
			c.JSON(http.StatusBadRequest, resp)
			return
		}
	}

	for _, info := range reg.Snapshot() {
		if info.Status == script.StatusError {
			h.logger.Warn("script failed during render",
				zap.String("key", info.Key),
				zap.String("error", info.Error))
		}
	}

	out, err := rc.Render(shellPage)
	if err != nil {
		h.logger.Error("render failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}

	rc.ApplyHeaders(c.Writer)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
}

func (h *Handlers) providerOptions(query url.Values, key string) (adapter.Options, []adapter.Override, error) {
	opts := adapter.Options{}
	var overrides []adapter.Override
	prefix := key + "."
	for name, values := range query {
		if !strings.HasPrefix(name, prefix) || len(values) == 0 {
			continue
		}
		opt := strings.TrimPrefix(name, prefix)
		if opt != "presets" {
			opts[opt] = values[0]
			continue
		}
		presets := make([]pipeline.Preset, 0, len(values))
		for _, p := range splitList(values[0]) {
			preset, err := pipeline.ByName(p, h.opts.Deps)
			if err != nil {
				return nil, nil, err
			}
			presets = append(presets, preset)
		}
		overrides = append(overrides, adapter.WithPresets(presets...))
	}
	return opts, overrides, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
