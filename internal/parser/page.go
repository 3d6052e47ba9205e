package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/phonegoat/internal/types"
)

// Default extraction rules for a listing page.
const (
	DefaultBlockIDPattern = `"siteBlockId":\s*(\d+)`
	DefaultPhonePattern   = `"offerPhone":\s*"([^"]+)"`
	DefaultPhoneSelector  = `[data-testid="PhoneLink"], .phone-number`
)

// PageRules configures how hints are pulled out of a listing page.
type PageRules struct {
	BlockIDPattern string
	PhonePattern   string
	PhoneSelector  string
}

// DefaultPageRules returns the rules matching the site's current markup.
func DefaultPageRules() PageRules {
	return PageRules{
		BlockIDPattern: DefaultBlockIDPattern,
		PhonePattern:   DefaultPhonePattern,
		PhoneSelector:  DefaultPhoneSelector,
	}
}

// PageParser extracts resolver hints from raw listing HTML.
type PageParser struct {
	blockID  *regexp.Regexp
	phone    *regexp.Regexp
	selector string
	logger   *slog.Logger
}

// NewPageParser compiles rules. Empty fields fall back to the defaults.
func NewPageParser(rules PageRules, logger *slog.Logger) (*PageParser, error) {
	def := DefaultPageRules()
	if rules.BlockIDPattern == "" {
		rules.BlockIDPattern = def.BlockIDPattern
	}
	if rules.PhonePattern == "" {
		rules.PhonePattern = def.PhonePattern
	}
	if rules.PhoneSelector == "" {
		rules.PhoneSelector = def.PhoneSelector
	}

	blockRe, err := compileOneGroup(rules.BlockIDPattern)
	if err != nil {
		return nil, err
	}
	phoneRe, err := compileOneGroup(rules.PhonePattern)
	if err != nil {
		return nil, err
	}

	return &PageParser{
		blockID:  blockRe,
		phone:    phoneRe,
		selector: rules.PhoneSelector,
		logger:   logger.With("component", "page_parser"),
	}, nil
}

func compileOneGroup(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("regex %q needs a capture group", pattern)
	}
	return re, nil
}

// BlockID finds the developer block identifier embedded in page scripts.
func (p *PageParser) BlockID(body []byte) (types.BlockID, bool) {
	m := p.blockID.FindSubmatch(body)
	if m == nil {
		return 0, false
	}
	var id types.BlockID
	if err := id.UnmarshalJSON(m[1]); err != nil {
		p.logger.Debug("block id not numeric", "value", string(m[1]))
		return 0, false
	}
	return id, true
}

// OfferPhone finds the phone embedded in the page's state JSON.
func (p *PageParser) OfferPhone(body []byte) (string, bool) {
	m := p.phone.FindSubmatch(body)
	if m == nil {
		return "", false
	}
	val := strings.TrimSpace(string(m[1]))
	return val, val != ""
}

// MarkupPhone reads the phone element text from static markup, keeping only
// digits and plus signs.
func (p *PageParser) MarkupPhone(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", &types.ParseError{Selector: p.selector, Err: err}
	}

	var found string
	doc.Find(p.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if text == "" {
			text, _ = sel.Attr("href")
		}
		found = digitsAndPlus(text)
		return found == ""
	})

	if found == "" {
		return "", &types.ParseError{Selector: p.selector, Err: types.ErrNoPhone}
	}
	return found, nil
}

// Phone tries the embedded field first and the markup second.
func (p *PageParser) Phone(body []byte) (string, bool) {
	if v, ok := p.OfferPhone(body); ok {
		return v, true
	}
	v, err := p.MarkupPhone(body)
	if err != nil {
		return "", false
	}
	return v, true
}

func digitsAndPlus(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
