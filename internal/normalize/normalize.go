// Package normalize reduces fetched markup to comparable plain text.
package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Chrome selectors removed before text extraction. Navigation, scripts
// and boilerplate churn between fetches without the monitored content
// changing, so they must not feed the content hash.
var strippedSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside",
}

// HTMLNormalizer extracts visible text from HTML documents.
type HTMLNormalizer struct{}

// New creates an HTMLNormalizer.
func New() *HTMLNormalizer {
	return &HTMLNormalizer{}
}

// Normalize parses raw HTML, strips non-content elements, and returns
// the remaining text with whitespace collapsed. Identical content must
// normalize to identical output regardless of markup formatting.
func (n *HTMLNormalizer) Normalize(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}

	for _, selector := range strippedSelectors {
		doc.Find(selector).Remove()
	}

	body := doc.Find("body")
	var text string
	if body.Length() > 0 {
		text = body.Text()
	} else {
		text = doc.Text()
	}

	return collapseWhitespace(text), nil
}

// collapseWhitespace joins all runs of whitespace into single spaces
// and trims the result.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
