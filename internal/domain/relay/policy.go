package relay

import (
	"fmt"
	"mime"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
)

// Endpoint names a relay endpoint
type Endpoint string

const (
	EndpointProxy      Endpoint = "proxy"
	EndpointInline     Endpoint = "inline"
	EndpointEmbed      Endpoint = "embed"
	EndpointEmbedImage Endpoint = "embed-image"
)

var (
	scriptTypes = []string{"application/javascript", "text/javascript", "application/x-javascript", "application/ecmascript", "text/css"}
	assetTypes  = append(append([]string{}, scriptTypes...), "image/", "font/", "application/json")
	htmlTypes   = []string{"text/html", "application/xhtml+xml"}
	imageTypes  = []string{"image/"}
)

// EmbedHosts are the origins embed pages are fetched from
var EmbedHosts = []string{
	"twitter.com", "x.com", "publish.twitter.com",
	"www.instagram.com", "instagram.com",
	"www.youtube.com", "youtube.com",
}

// EmbedImageHosts are the CDN families embed images are served from
var EmbedImageHosts = []string{
	"*.cdninstagram.com", "*.fbcdn.net",
	"pbs.twimg.com", "abs.twimg.com",
	"i.ytimg.com",
}

// Policy is the security policy of one endpoint
type Policy struct {
	// Hosts are doublestar patterns matched against the lowercased hostname
	Hosts []string
	// ContentTypes are media types or family prefixes ending in "/"
	ContentTypes []string
	// MaxAge is the response cache lifetime
	MaxAge time.Duration
	// SameOrigin rejects requests whose Referer names another host
	SameOrigin bool
}

// DefaultPolicies returns the policy of every endpoint. scriptHosts feeds
// the proxy and inline allow-lists.
func DefaultPolicies(scriptHosts []string) map[Endpoint]Policy {
	return map[Endpoint]Policy{
		EndpointProxy: {
			Hosts:        scriptHosts,
			ContentTypes: assetTypes,
			MaxAge:       24 * time.Hour,
		},
		EndpointInline: {
			Hosts:        scriptHosts,
			ContentTypes: scriptTypes,
			MaxAge:       24 * time.Hour,
		},
		EndpointEmbed: {
			Hosts:        EmbedHosts,
			ContentTypes: htmlTypes,
			MaxAge:       10 * time.Minute,
			SameOrigin:   true,
		},
		EndpointEmbedImage: {
			Hosts:        EmbedImageHosts,
			ContentTypes: imageTypes,
			MaxAge:       time.Hour,
			SameOrigin:   true,
		},
	}
}

// CacheControl returns the Cache-Control value for responses
func (p Policy) CacheControl() string {
	return "public, max-age=" + strconv.Itoa(int(p.MaxAge/time.Second))
}

// CheckURL parses raw and checks it against the host allow-list
func (p Policy) CheckURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, script.ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", script.ErrMalformedURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: scheme %q", script.ErrMalformedURL, u.Scheme)
	}
	if u.Hostname() == "" || u.User != nil {
		return nil, fmt.Errorf("%w: %s", script.ErrMalformedURL, raw)
	}
	host := strings.ToLower(u.Hostname())
	if ip := net.ParseIP(host); ip != nil && httpclient.IsPrivateIP(ip) {
		return nil, &script.SecurityPolicyViolation{URL: raw, Reason: script.ErrDomainNotAllowed}
	}
	if !p.AllowsHost(host) {
		return nil, &script.SecurityPolicyViolation{URL: raw, Reason: script.ErrDomainNotAllowed}
	}
	return u, nil
}

// AllowsHost reports whether host matches one of the patterns
func (p Policy) AllowsHost(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range p.Hosts {
		if ok, err := doublestar.Match(strings.ToLower(pattern), host); err == nil && ok {
			return true
		}
	}
	return false
}

// CheckReferer rejects a Referer from another host when SameOrigin is set
func (p Policy) CheckReferer(referer, host string) error {
	if !p.SameOrigin || referer == "" {
		return nil
	}
	u, err := url.Parse(referer)
	if err != nil || !strings.EqualFold(u.Host, host) {
		return &script.SecurityPolicyViolation{URL: referer, Reason: script.ErrRefererMismatch}
	}
	return nil
}

// ContentType resolves the media type of an upstream body and checks it
// against the endpoint's families. A missing or generic declared type is
// replaced by the sniffed one; a declared image must also sniff as one.
func (p Policy) ContentType(declared string, body []byte, rawURL string) (string, error) {
	contentType := declared
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || mediaType == "application/octet-stream" {
		contentType = mimetype.Detect(body).String()
		mediaType, _, _ = mime.ParseMediaType(contentType)
	}
	if strings.HasPrefix(mediaType, "image/") && !strings.HasPrefix(mimetype.Detect(body).String(), "image/") {
		return "", &script.SecurityPolicyViolation{URL: rawURL, Reason: script.ErrContentTypeNotAllowed}
	}
	if !allowedType(p.ContentTypes, mediaType) {
		return "", &script.SecurityPolicyViolation{URL: rawURL, Reason: script.ErrContentTypeNotAllowed}
	}
	return contentType, nil
}

func allowedType(families []string, mediaType string) bool {
	if len(families) == 0 {
		return true
	}
	for _, f := range families {
		if strings.HasSuffix(f, "/") && strings.HasPrefix(mediaType, f) {
			return true
		}
		if mediaType == f {
			return true
		}
	}
	return false
}
