package types

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// AuthorCategory identifies who published a listing.
type AuthorCategory string

const (
	CategoryDeveloper AuthorCategory = "developer"
	CategoryAgency    AuthorCategory = "real_estate_agent"
	CategoryOwner     AuthorCategory = "homeowner"
	CategoryRealtor   AuthorCategory = "realtor"
)

// AllCategories returns every known author category in display order.
func AllCategories() []AuthorCategory {
	return []AuthorCategory{CategoryDeveloper, CategoryRealtor, CategoryAgency, CategoryOwner}
}

// ParseAuthorCategory converts a stored category name into an AuthorCategory.
func ParseAuthorCategory(s string) (AuthorCategory, error) {
	c := AuthorCategory(strings.TrimSpace(strings.ToLower(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown author category %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c AuthorCategory) Valid() bool {
	switch c {
	case CategoryDeveloper, CategoryAgency, CategoryOwner, CategoryRealtor:
		return true
	}
	return false
}

// RequiresAPI reports whether phones for this category are served only by
// the call-tracking API.
func (c AuthorCategory) RequiresAPI() bool {
	return c == CategoryDeveloper
}

// DisplayName returns the label shown in reports.
func (c AuthorCategory) DisplayName() string {
	switch c {
	case CategoryDeveloper:
		return "Застройщик"
	case CategoryAgency:
		return "Агентство недвижимости"
	case CategoryOwner:
		return "Собственник"
	case CategoryRealtor:
		return "Риелтор"
	}
	return string(c)
}

// BlockID is the opaque numeric site block identifier of a developer listing.
// It decodes from either a JSON number or a digit string.
type BlockID int64

func (b *BlockID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("block id %q: %w", data, err)
	}
	*b = BlockID(n)
	return nil
}

func (b BlockID) String() string { return strconv.FormatInt(int64(b), 10) }

// Listing is a single search result. Rooms, floor and price are used for
// acquisition only; resolution needs the URL, the category and the hints.
type Listing struct {
	URL         string         `json:"url"`
	AuthorType  AuthorCategory `json:"author_type"`
	BlockID     *BlockID       `json:"blockId"`
	DirectPhone *string        `json:"directPhone"`
	Title       string         `json:"title,omitempty"`
	Rooms       int            `json:"rooms_count,omitempty"`
	Floor       int            `json:"floor,omitempty"`
	FloorsTotal int            `json:"floors_count,omitempty"`
	Price       int64          `json:"price,omitempty"`
}

var listingIDPattern = regexp.MustCompile(`/(\d+)/?$`)

// ListingID extracts the numeric identifier from the end of a listing URL path.
func ListingID(rawURL string) (string, bool) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	m := listingIDPattern.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ID returns the listing identifier, or "" when the URL carries none.
func (l *Listing) ID() string {
	id, _ := ListingID(l.URL)
	return id
}
