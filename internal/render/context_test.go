package render

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
)

func TestRenderAppendsTags(t *testing.T) {
	ctx := context.Background()
	c := New(httptest.NewRequest("GET", "/", nil))
	c.Inject(ctx, &script.Descriptor{
		Key:        "plausible",
		Src:        "https://plausible.io/js/script.js",
		Attributes: script.NewAttributes(script.Attribute{Name: "defer"}, script.Attribute{Name: "data-domain", Value: `a"b.com`}),
	})
	f := c.Inject(ctx, &script.Descriptor{Key: "inline", Body: "var x = '</script>';"})
	assert.False(t, f.Settled())

	out, err := c.Render("<html><head><title>t</title></head><body></body></html>")
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	scripts := doc.Find("head script")
	require.Equal(t, 2, scripts.Length())

	first := scripts.First()
	src, _ := first.Attr("src")
	assert.Equal(t, "https://plausible.io/js/script.js", src)
	domain, _ := first.Attr("data-domain")
	assert.Equal(t, `a"b.com`, domain)
	_, hasDefer := first.Attr("defer")
	assert.True(t, hasDefer)

	assert.Contains(t, scripts.Last().Text(), `<\/script>`)
}

func TestInjectReplacesSameKey(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	c.Inject(ctx, &script.Descriptor{Key: "k", Src: "https://a/1.js"})
	c.Inject(ctx, &script.Descriptor{Key: "k", Src: "https://a/2.js"})
	tags := c.Tags()
	require.Len(t, tags, 1)
	assert.Equal(t, "https://a/2.js", tags[0].Src)

	c.Eject("k")
	assert.Empty(t, c.Tags())
}

func TestRenderFragment(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	c.Inject(ctx, &script.Descriptor{Key: "k", Src: "https://a/1.js"})
	out, err := c.Render("<p>hello</p>")
	require.NoError(t, err)
	assert.Contains(t, out, `<head><script src="https://a/1.js" data-script-key="k"></script></head>`)
}

func TestApplyHeaders(t *testing.T) {
	c := New(nil)
	c.Header().Add("Content-Security-Policy", "script-src 'self'")
	w := httptest.NewRecorder()
	c.ApplyHeaders(w)
	assert.Equal(t, "script-src 'self'", w.Header().Get("Content-Security-Policy"))
}
