package relay

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Embed is the sanitized summary of an embeddable page
type Embed struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	// Image is rewritten through the embed-image endpoint, or empty when
	// its host is not allowed there
	Image string `json:"image,omitempty"`
	HTML  string `json:"html"`
}

// FetchEmbed fetches an embed page and reduces it to sanitized metadata
func (s *Service) FetchEmbed(ctx context.Context, rawURL string) (*Embed, error) {
	asset, err := s.Fetch(ctx, EndpointEmbed, rawURL)
	if err != nil {
		return nil, err
	}
	return s.parseEmbed(asset)
}

func (s *Service) parseEmbed(asset *Asset) (*Embed, error) {
	body := decodeHTML(asset.Body, asset.ContentType)

	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	e := &Embed{
		URL:         asset.URL,
		Title:       metaContent(root, "og:title"),
		Description: firstNonEmpty(metaContent(root, "og:description"), metaName(root, "description")),
		SiteName:    metaContent(root, "og:site_name"),
	}
	if e.Title == "" {
		e.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if img := metaContent(root, "og:image"); img != "" {
		e.Image = s.relayImage(asset.URL, img)
	}

	bodyHTML, err := doc.Find("body").First().Html()
	if err != nil {
		return nil, err
	}
	e.HTML = strings.TrimSpace(s.sanitizer.Sanitize(bodyHTML))
	return e, nil
}

func (s *Service) relayImage(base, img string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(img)
	if err != nil {
		return ""
	}
	abs := b.ResolveReference(ref)
	if !s.policies[EndpointEmbedImage].AllowsHost(abs.Hostname()) {
		return ""
	}
	return s.prefix + "/" + string(EndpointEmbedImage) + "?url=" + url.QueryEscape(abs.String())
}

// decodeHTML converts body to UTF-8 using the declared charset, or the
// detected one when none is declared
func decodeHTML(body []byte, contentType string) []byte {
	label := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		label = params["charset"]
	}
	if label == "" {
		if res, err := chardet.NewTextDetector().DetectBest(body); err == nil && res != nil {
			label = strings.ToLower(res.Charset)
		}
	}
	if label == "" || strings.EqualFold(label, "utf-8") {
		return body
	}

	r, err := charset.NewReader(bytes.NewReader(body), "text/html; charset="+label)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return decoded
}

func metaContent(root *html.Node, property string) string {
	node := htmlquery.FindOne(root, "//meta[@property='"+property+"']")
	if node == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.SelectAttr(node, "content"))
}

func metaName(root *html.Node, name string) string {
	node := htmlquery.FindOne(root, "//meta[@name='"+name+"']")
	if node == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.SelectAttr(node, "content"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
