package automation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formPage = `<html><head></head><body><form><input type="text" id="banana" value="dinosaur"></form><p class="note">hello <b>there</b></p></body></html>`

func TestHTMLDocument(t *testing.T) {
	doc, err := ParseHTMLDocument(formPage)
	require.NoError(t, err)

	v, ok := doc.ValueForElement("[id='banana']")
	assert.True(t, ok)
	assert.Equal(t, "dinosaur", v)

	text, ok := doc.TextForElement("p.note")
	assert.True(t, ok)
	assert.Equal(t, "hello there", text)

	inner, ok := doc.InnerHTML("p.note")
	assert.True(t, ok)
	assert.Equal(t, "hello <b>there</b>", inner)

	typ, ok := doc.AttributeForElement("input", "type")
	assert.True(t, ok)
	assert.Equal(t, "text", typ)

	_, ok = doc.ValueForElement("#missing")
	assert.False(t, ok)
	_, ok = doc.AttributeForElement("input", "placeholder")
	assert.False(t, ok)

	html, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `id="banana" value="dinosaur"`)
	assert.Contains(t, html, `<p class="note">hello <b>there</b></p>`)
}

func TestHTMLDocumentMarkdown(t *testing.T) {
	doc, err := ParseHTMLDocument(`<html><body><h1>Title</h1><p class="note">hello <b>there</b></p></body></html>`)
	require.NoError(t, err)

	out, err := doc.Markdown("")
	require.NoError(t, err)
	assert.Contains(t, out, "# Title")
	assert.Contains(t, out, "hello **there**")

	out, err = doc.Markdown("p.note")
	require.NoError(t, err)
	assert.Equal(t, "hello **there**", strings.TrimSpace(out))

	_, err = doc.Markdown("#missing")
	assert.Error(t, err)
}
