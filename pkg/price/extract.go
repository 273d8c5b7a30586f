package price

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSelector matches the price element on the product pages this
// tracker was built for. Pages with different markup are future scope.
const DefaultSelector = "span.a-offscreen"

// Extractor pulls a numeric price out of fetched page markup.
type Extractor struct {
	selector string
}

// NewExtractor creates an extractor for the given structural selector.
func NewExtractor(selector string) *Extractor {
	if selector == "" {
		selector = DefaultSelector
	}
	return &Extractor{selector: selector}
}

// Extract returns the price found in body, or ok=false when no price
// element exists or its text does not parse. Both are legitimate
// outcomes (out of stock, changed layout), not errors.
func (e *Extractor) Extract(body []byte) (price float64, ok bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, false
	}

	text := strings.TrimSpace(doc.Find(e.selector).First().Text())
	if text == "" {
		return 0, false
	}
	return Parse(text)
}

// Parse normalizes currency text ("₹1,299.00") into a number: currency
// symbols and thousands separators are stripped, the rest must parse as
// a decimal.
func Parse(text string) (float64, bool) {
	var b strings.Builder
	for _, r := range text {
		if unicode.Is(unicode.Sc, r) || r == ',' {
			continue
		}
		b.WriteRune(r)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(b.String()), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
