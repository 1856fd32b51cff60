package automation

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// HTMLDocument is a parsed copy of fetched page markup, for reading values
// after a run without going back to the page.
type HTMLDocument struct {
	doc *goquery.Document
}

// ParseHTMLDocument parses raw markup, typically from FetchRawContents.
func ParseHTMLDocument(raw string) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}
	return &HTMLDocument{doc: doc}, nil
}

// ValueForElement returns the value attribute of the first match.
func (d *HTMLDocument) ValueForElement(selector string) (string, bool) {
	return d.AttributeForElement(selector, "value")
}

// AttributeForElement returns attribute name of the first match.
func (d *HTMLDocument) AttributeForElement(selector, name string) (string, bool) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Attr(name)
}

// TextForElement returns the text content of the first match.
func (d *HTMLDocument) TextForElement(selector string) (string, bool) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

// InnerHTML returns the inner markup of the first match.
func (d *HTMLDocument) InnerHTML(selector string) (string, bool) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	html, err := sel.Html()
	if err != nil {
		return "", false
	}
	return html, true
}

// HTML serializes the whole document.
func (d *HTMLDocument) HTML() (string, error) {
	return goquery.OuterHtml(d.doc.Find("html"))
}

// Markdown renders the first match of selector, or the whole document when
// selector is empty, as CommonMark.
func (d *HTMLDocument) Markdown(selector string) (string, error) {
	var (
		html string
		err  error
	)
	if selector == "" {
		html, err = d.HTML()
		if err != nil {
			return "", errors.Wrap(err, "serialize document")
		}
	} else {
		var ok bool
		html, ok = d.InnerHTML(selector)
		if !ok {
			return "", errors.Errorf("no element matches %q", selector)
		}
	}

	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(html)
	if err != nil {
		return "", errors.Wrap(err, "convert to markdown")
	}
	return out, nil
}
