package render

import (
	"context"
	"html"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// Tag is a script tag emitted into the document head
type Tag struct {
	Key        string
	Src        string
	Body       string
	Integrity  string
	Attributes script.Attributes
}

// HTML renders the tag
func (t Tag) HTML() string {
	var b strings.Builder
	b.WriteString("<script")
	attrs := t.Attributes.Clone()
	if t.Src != "" {
		attrs.Set("src", t.Src)
	}
	if t.Integrity != "" {
		attrs.Set("integrity", t.Integrity)
	}
	attrs.Set("data-script-key", t.Key)
	for _, a := range attrs.List() {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		if a.Value != "" {
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(a.Value))
			b.WriteByte('"')
		}
	}
	b.WriteByte('>')
	b.WriteString(strings.ReplaceAll(t.Body, "</script", `<\/script`))
	b.WriteString("</script>")
	return b.String()
}

// Context is a request-scoped server host
type Context struct {
	request *http.Request

	mu      sync.Mutex
	tags    []Tag
	headers http.Header
}

// New creates a render context for r. r may be nil outside a request.
func New(r *http.Request) *Context {
	return &Context{request: r, headers: make(http.Header)}
}

// Request returns the inbound request
func (c *Context) Request() *http.Request { return c.request }

// Mode reports server mode
func (c *Context) Mode() script.Mode { return script.ModeServer }

// AppReady never closes on the server
func (c *Context) AppReady() <-chan struct{} { return nil }

// ObserveElement is inert on the server
func (c *Context) ObserveElement(string, trigger.ElementKind, func()) func() { return func() {} }

// AddEventListener is inert on the server
func (c *Context) AddEventListener(string, string, func()) func() { return func() {} }

// RequestIdleCallback is inert on the server
func (c *Context) RequestIdleCallback(func()) func() { return func() {} }

// ServiceWorker is unavailable on the server
func (c *Context) ServiceWorker() trigger.ServiceWorker { return nil }

// Header returns the response headers collected so far
func (c *Context) Header() http.Header {
	return c.headers
}

// Inject records a head tag. The returned future never settles because the
// server does not execute scripts.
func (c *Context) Inject(_ context.Context, desc *script.Descriptor) *async.Future[struct{}] {
	tag := Tag{
		Key:        desc.Key,
		Src:        desc.Src,
		Body:       desc.Body,
		Integrity:  desc.Integrity,
		Attributes: desc.Attributes.Clone(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tags {
		if c.tags[i].Key == tag.Key {
			c.tags[i] = tag
			return async.NewFuture[struct{}]()
		}
	}
	c.tags = append(c.tags, tag)
	return async.NewFuture[struct{}]()
}

// Eject drops the tag for key
func (c *Context) Eject(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags := c.tags[:0]
	for _, t := range c.tags {
		if t.Key != key {
			tags = append(tags, t)
		}
	}
	c.tags = tags
}

// Tags returns the collected tags in injection order
func (c *Context) Tags() []Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tag(nil), c.tags...)
}

// Render appends the collected tags to the head of page
func (c *Context) Render(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", err
	}

	head := doc.Find("head").First()
	for _, t := range c.Tags() {
		head.AppendHtml(t.HTML())
	}
	return doc.Html()
}

// ApplyHeaders copies the collected headers onto w
func (c *Context) ApplyHeaders(w http.ResponseWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, values := range c.headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
}
