package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head>
<title>Share</title>
<meta name="description" content="a shared file">
<meta property="og:title" content="report.pdf">
</head><body>
<div class="file"><span class="name"> report.pdf </span><span class="size">1.2 MB</span></div>
<div class="file"><span class="name">notes.txt</span><span class="size">3 KB</span></div>
<a id="dl" href=" https://dl.example/f/1 ">Download  now</a>
<a href="/help">Help</a>
<form id="pwd" action="/verify">
  <input type="hidden" name="token" value="t0k">
  <input type="text" name="pwd" value="">
  <input type="checkbox" name="remember" value="1">
  <select name="region"><option value="cn">CN</option><option value="us" selected>US</option></select>
  <textarea name="note">hi</textarea>
</form>
<script>alert(1)</script>
</body></html>`

func TestSelect(t *testing.T) {
	s := New()

	names, err := s.Select(page, ".file .name")
	require.NoError(t, err)
	assert.Equal(t, []string{"report.pdf", "notes.txt"}, names)

	text, ok, err := s.SelectFirst(page, "#dl")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Download now", text)

	_, ok, err = s.SelectFirst(page, ".missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Select(page, "div[[")
	assert.ErrorContains(t, err, "invalid selector")
}

func TestAttrs(t *testing.T) {
	s := New()

	href, ok, err := s.Attr(page, "#dl", "href")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, " https://dl.example/f/1 ", href)

	hrefs, err := s.Attrs(page, "a", "href")
	require.NoError(t, err)
	assert.Len(t, hrefs, 2)

	links, err := s.Links(page)
	require.NoError(t, err)
	assert.Equal(t, Link{Text: "Download now", Href: "https://dl.example/f/1"}, links[0])
}

func TestMetaAndForms(t *testing.T) {
	s := New()

	desc, ok, err := s.Meta(page, "description")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a shared file", desc)

	title, _, _ := s.Meta(page, "OG:TITLE")
	assert.Equal(t, "report.pdf", title)

	fields, err := s.FormFields(page, "#pwd")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"token":  "t0k",
		"pwd":    "",
		"region": "us",
		"note":   "hi",
	}, fields)
}

func TestXPath(t *testing.T) {
	s := New()

	sizes, err := s.XPath(page, `//span[@class="size"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2 MB", "3 KB"}, sizes)

	action, ok, err := s.XPathAttr(page, `//form[@id="pwd"]`, "action")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/verify", action)

	_, err = s.XPath(page, `//span[`)
	assert.Error(t, err)
}

func TestSanitizeAndText(t *testing.T) {
	s := New()

	clean, err := s.Sanitize(`<p onclick="x()">hi<script>bad()</script></p>`)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", clean)

	text, err := s.Text(`<p>Tom &amp; Jerry</p>
	<div>  episode   1</div>`)
	require.NoError(t, err)
	assert.Equal(t, "Tom & Jerry episode 1", text)
}

func TestModuleExports(t *testing.T) {
	m := New().Module()
	require.Equal(t, ModuleName, m.Name)

	v, err := m.Exports["attr"](page, "#dl", "href")
	require.NoError(t, err)
	assert.Equal(t, " https://dl.example/f/1 ", v)

	v, err = m.Exports["selectFirst"](page, ".nope")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = m.Exports["select"](page, ".size")
	require.NoError(t, err)
	assert.Equal(t, []any{"1.2 MB", "3 KB"}, v)

	_, err = m.Exports["xpath"](page)
	assert.ErrorContains(t, err, "expr parameter required")
}
