package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/api/ws"
	"github.com/GriffinCanCode/scriptkit/internal/cache"
	"github.com/GriffinCanCode/scriptkit/internal/domain/buffer"
	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptkit/internal/providers"
)

const (
	serviceName = "scriptkit"
	version     = "0.3.0"
)

// Options configures the handler set
type Options struct {
	Dev            bool
	ScriptsEnabled bool
	CollectPrefix  string
	Routes         map[string]string
	// Deps resolves presets named in shell queries
	Deps pipeline.Deps
}

// Handlers contains all HTTP handlers
type Handlers struct {
	opts    Options
	catalog *providers.Catalog
	hub     *ws.Hub
	sink    *buffer.Buffer
	sizer   *cache.BundleSizer
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandlers creates a new handler set. sink and sizer may be nil.
func NewHandlers(
	opts Options,
	catalog *providers.Catalog,
	hub *ws.Hub,
	sink *buffer.Buffer,
	sizer *cache.BundleSizer,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Routes == nil {
		opts.Routes = map[string]string{}
	}
	return &Handlers{
		opts:    opts,
		catalog: catalog,
		hub:     hub,
		sink:    sink,
		sizer:   sizer,
		metrics: metrics,
		logger:  logger.Named("api"),
	}
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": serviceName,
		"version": version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"providers": h.catalog.Stats(),
		"metrics":   h.metrics.Snapshot(),
	}
	if h.sink != nil {
		resp["buffered_events"] = h.sink.Len()
	}
	if h.hub != nil {
		resp["status_streams"] = h.hub.Clients()
	}
	c.JSON(http.StatusOK, resp)
}

// Status reports the script configuration. Development only.
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"enabled":       h.opts.ScriptsEnabled,
		"scripts":       h.catalog.Keys(),
		"routes":        h.opts.Routes,
		"collectPrefix": h.opts.CollectPrefix,
	})
}

// Providers lists the catalogue, filtered by category or a search query
func (h *Handlers) Providers(c *gin.Context) {
	var list []providers.Registration
	if q := c.Query("q"); q != "" {
		list = h.catalog.Search(q, 20)
	} else {
		list = h.catalog.List(c.Query("category"))
	}
	if list == nil {
		list = []providers.Registration{}
	}
	c.JSON(http.StatusOK, gin.H{
		"providers": list,
		"stats":     h.catalog.Stats(),
	})
}

// Size reports the bundle size of a script URL
func (h *Handlers) Size(c *gin.Context) {
	if h.sizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bundle sizes unavailable"})
		return
	}
	raw := c.Query("url")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	size, err := h.sizer.Size(c.Request.Context(), raw)
	if err != nil {
		h.logger.Debug("bundle size failed", zap.String("url", raw), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, size)
}
