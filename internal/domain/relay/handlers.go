package relay

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
)

// Register mounts the relay endpoints under the service prefix
func (s *Service) Register(r gin.IRouter) {
	g := r.Group(s.prefix)
	g.GET("/proxy", s.handleProxy)
	g.GET("/inline", s.handleInline)
	g.GET("/embed", s.handleEmbed)
	g.GET("/embed-image", s.handleEmbedImage)
	r.GET("/sw.js", s.handleWorker)
}

// handleProxy streams an allow-listed asset with its content type
func (s *Service) handleProxy(c *gin.Context) {
	asset, err := s.Fetch(c.Request.Context(), EndpointProxy, c.Query("url"))
	if err == nil {
		err = verify(c.Query("integrity"), asset)
	}
	if err != nil {
		s.fail(c, EndpointProxy, err)
		return
	}
	c.Header("Cache-Control", s.policies[EndpointProxy].CacheControl())
	c.Data(http.StatusOK, asset.ContentType, asset.Body)
}

// handleInline returns a raw script or style body, compressed per
// Accept-Encoding
func (s *Service) handleInline(c *gin.Context) {
	asset, err := s.Fetch(c.Request.Context(), EndpointInline, c.Query("src"))
	if err == nil {
		err = verify(c.Query("integrity"), asset)
	}
	if err != nil {
		s.fail(c, EndpointInline, err)
		return
	}

	body := asset.Body
	encoding := negotiateEncoding(c.GetHeader("Accept-Encoding"))
	if encoding != encodingIdentity {
		encoded, err := encodeBody(encoding, body)
		if err != nil {
			s.logger.Warn("Failed to encode inline body", zap.String("encoding", encoding), zap.Error(err))
			encoding = encodingIdentity
		} else {
			body = encoded
		}
	}

	c.Header("Cache-Control", s.policies[EndpointInline].CacheControl())
	c.Header("Vary", "Accept-Encoding")
	if encoding != encodingIdentity {
		c.Header("Content-Encoding", encoding)
	}
	c.Header("Content-Length", strconv.Itoa(len(body)))
	c.Data(http.StatusOK, asset.ContentType, body)
}

// handleEmbed returns the sanitized summary of an embed page
func (s *Service) handleEmbed(c *gin.Context) {
	if err := s.policies[EndpointEmbed].CheckReferer(c.GetHeader("Referer"), c.Request.Host); err != nil {
		s.fail(c, EndpointEmbed, err)
		return
	}
	embed, err := s.FetchEmbed(c.Request.Context(), c.Query("url"))
	if err != nil {
		s.fail(c, EndpointEmbed, err)
		return
	}
	c.Header("Cache-Control", s.policies[EndpointEmbed].CacheControl())
	c.JSON(http.StatusOK, embed)
}

// handleEmbedImage relays an image from an embed CDN
func (s *Service) handleEmbedImage(c *gin.Context) {
	if err := s.policies[EndpointEmbedImage].CheckReferer(c.GetHeader("Referer"), c.Request.Host); err != nil {
		s.fail(c, EndpointEmbedImage, err)
		return
	}
	asset, err := s.Fetch(c.Request.Context(), EndpointEmbedImage, c.Query("url"))
	if err != nil {
		s.fail(c, EndpointEmbedImage, err)
		return
	}
	c.Header("Cache-Control", s.policies[EndpointEmbedImage].CacheControl())
	c.Data(http.StatusOK, asset.ContentType, asset.Body)
}

// handleWorker serves the generated service worker
func (s *Service) handleWorker(c *gin.Context) {
	c.Header("Service-Worker-Allowed", "/")
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", s.worker)
}

// WorkerScript returns the generated service worker
func (s *Service) WorkerScript() []byte { return s.worker }

func verify(integrity string, asset *Asset) error {
	if integrity == "" {
		return nil
	}
	if err := script.VerifyIntegrity(integrity, asset.Body); err != nil {
		return &script.SecurityPolicyViolation{URL: asset.URL, Reason: script.ErrIntegrityMismatch}
	}
	return nil
}

func (s *Service) fail(c *gin.Context, endpoint Endpoint, err error) {
	status := statusFor(err)

	var violation *script.SecurityPolicyViolation
	switch {
	case errors.As(err, &violation):
		reason := violationReason(err)
		s.metrics.RecordPolicyViolation(string(endpoint), reason)
		s.logger.Warn("Relay request rejected",
			zap.String("endpoint", string(endpoint)),
			zap.String("url", violation.URL),
			zap.String("reason", reason),
			zap.String("client_ip", c.ClientIP()))
	case status >= http.StatusInternalServerError:
		s.logger.Error("Relay upstream failed",
			zap.String("endpoint", string(endpoint)),
			zap.Int("status", status),
			zap.Error(err))
	default:
		s.logger.Debug("Relay request invalid",
			zap.String("endpoint", string(endpoint)),
			zap.Error(err))
	}

	c.JSON(status, gin.H{"error": publicMessage(err)})
}
