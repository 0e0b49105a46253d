// Package parser turns fetched markup into field sequences.
package parser

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is a parsed page. It is not modified after Parse returns.
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document from raw markup. The HTML5 parser recovers from
// malformed input, so errors are limited to read failures.
func Parse(markup []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{doc: goquery.NewDocumentFromNode(root)}, nil
}

// Root exposes the underlying selection for read-only queries.
func (d *Document) Root() *goquery.Selection {
	return d.doc.Selection
}
