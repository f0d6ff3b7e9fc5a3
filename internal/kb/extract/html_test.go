package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html><head>
  <title>  Store   Policies </title>
  <meta name="description" content="How returns work">
  <meta name="keywords" content="returns, refunds">
  <style>body { color: red }</style>
  <script>var tracking = "ignored";</script>
</head>
<body>
  <h1>Returns</h1>
  <p>Refunds are   issued within <b>30</b> days.</p>
  <noscript>enable javascript</noscript>
  <ul><li><a href="/shipping">Shipping</a></li><li><a href="https://other.example/x">Elsewhere</a></li></ul>
</body></html>`

func TestParseHTML(t *testing.T) {
	page, err := ParseHTML(samplePage)
	require.NoError(t, err)

	assert.Equal(t, "Store Policies", page.Title)
	assert.Equal(t, "How returns work", page.Description)
	assert.Equal(t, "returns, refunds", page.Keywords)
	assert.Equal(t, "Returns\nRefunds are issued within 30 days.\nShipping\nElsewhere", page.Text)
	assert.Equal(t, []string{"/shipping", "https://other.example/x"}, page.Links)
	assert.NotContains(t, page.Text, "tracking")
	assert.NotContains(t, page.Text, "color")

	meta := page.Metadata()
	assert.Equal(t, "Store Policies", meta["title"])
	assert.NotContains(t, meta, "author")
}

func TestParseHTML_OpenGraphDescription(t *testing.T) {
	page, err := ParseHTML(`<html><head><meta property="og:description" content="og text"></head><body>x</body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "og text", page.Description)
}

func TestExtractHTMLDocument(t *testing.T) {
	res, err := extractHTMLDocument(context.Background(), &Input{Data: []byte(samplePage), MIMEType: "text/html"})
	require.NoError(t, err)
	assert.Equal(t, "Store Policies", res.Title)
	assert.Equal(t, "html", res.Metadata["format"])
	assert.Contains(t, res.Text, "30 days")
}
