package textclean

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText returns the visible text of an HTML fragment with whitespace
// runs collapsed to single spaces.
//
// Strings without markup are only entity-decoded, so plain text never goes
// through the HTML parser. If parsing fails the input is returned unescaped.
func HTMLToText(s string) string {
	if !strings.Contains(s, "<") {
		return collapseSpace(html.UnescapeString(s))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(html.UnescapeString(s))
	}
	doc.Find("script, style").Remove()
	// Block breaks become spaces rather than gluing words together.
	doc.Find("br, p, div, li").Each(func(_ int, sel *goquery.Selection) {
		sel.AfterHtml(" ")
	})
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
