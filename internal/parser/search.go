package parser

import (
	"bytes"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/phonegoat/internal/types"
)

const (
	cardXPath  = `//article[@data-name='CardComponent']`
	linkXPath  = `.//a[contains(@href, '/sale/flat/')]`
	titleXPath = `.//*[@data-mark='OfferTitle' or @data-mark='OfferSubtitle']`
	priceXPath = `.//*[@data-mark='MainPrice']`
	textXPath  = `.//text()`
)

// authorLabels maps the badge shown on a search card to its category.
var authorLabels = []struct {
	label    string
	category types.AuthorCategory
}{
	{"Застройщик", types.CategoryDeveloper},
	{"Агентство недвижимости", types.CategoryAgency},
	{"Собственник", types.CategoryOwner},
	{"Риелтор", types.CategoryRealtor},
}

var (
	roomsPattern = regexp.MustCompile(`(\d+)-комн`)
	floorPattern = regexp.MustCompile(`(\d+)/(\d+)\s*этаж`)
)

// SearchParser turns a search results page into listings.
type SearchParser struct {
	logger *slog.Logger
}

// NewSearchParser creates a search results parser.
func NewSearchParser(logger *slog.Logger) *SearchParser {
	return &SearchParser{logger: logger.With("component", "search_parser")}
}

// Parse extracts one listing per result card. Relative links are resolved
// against pageURL. Cards without a recognizable author badge are dropped.
func (p *SearchParser) Parse(body []byte, pageURL string) ([]types.Listing, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &types.ParseError{URL: pageURL, Err: err}
	}

	cards, err := htmlquery.QueryAll(doc, cardXPath)
	if err != nil {
		return nil, &types.ParseError{URL: pageURL, Selector: cardXPath, Err: err}
	}

	base, _ := url.Parse(pageURL)
	listings := make([]types.Listing, 0, len(cards))
	for _, card := range cards {
		l, ok := p.parseCard(card, base)
		if !ok {
			continue
		}
		listings = append(listings, l)
	}

	p.logger.Debug("search page parsed", "url", pageURL, "cards", len(cards), "listings", len(listings))
	return listings, nil
}

func (p *SearchParser) parseCard(card *html.Node, base *url.URL) (types.Listing, bool) {
	link := htmlquery.FindOne(card, linkXPath)
	if link == nil {
		return types.Listing{}, false
	}
	href := strings.TrimSpace(htmlquery.SelectAttr(link, "href"))
	if base != nil {
		if ref, err := url.Parse(href); err == nil {
			href = base.ResolveReference(ref).String()
		}
	}

	category, ok := categoryFromBadge(card)
	if !ok {
		p.logger.Debug("card without author badge", "url", href)
		return types.Listing{}, false
	}

	l := types.Listing{URL: href, AuthorType: category}

	if n := htmlquery.FindOne(card, titleXPath); n != nil {
		l.Title = strings.TrimSpace(htmlquery.InnerText(n))
	}
	if m := roomsPattern.FindStringSubmatch(l.Title); m != nil {
		l.Rooms, _ = strconv.Atoi(m[1])
	}
	if m := floorPattern.FindStringSubmatch(l.Title); m != nil {
		l.Floor, _ = strconv.Atoi(m[1])
		l.FloorsTotal, _ = strconv.Atoi(m[2])
	}
	if n := htmlquery.FindOne(card, priceXPath); n != nil {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, htmlquery.InnerText(n))
		l.Price, _ = strconv.ParseInt(digits, 10, 64)
	}

	return l, true
}

// categoryFromBadge looks for a text node that is exactly an author label,
// so a label quoted inside a title or description does not count.
func categoryFromBadge(card *html.Node) (types.AuthorCategory, bool) {
	for _, n := range htmlquery.Find(card, textXPath) {
		text := strings.TrimSpace(n.Data)
		if text == "" {
			continue
		}
		for _, al := range authorLabels {
			if strings.EqualFold(text, al.label) {
				return al.category, true
			}
		}
	}
	return "", false
}
