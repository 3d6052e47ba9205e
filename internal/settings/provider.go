package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/IshaanNene/phonegoat/internal/types"
)

// Setting keys.
const (
	KeyRegion      = "region"
	KeyRegionID    = "region_id"
	KeyRooms       = "rooms"
	KeyMinFloor    = "min_floor"
	KeyMaxFloor    = "max_floor"
	KeyMinPrice    = "min_price"
	KeyMaxPrice    = "max_price"
	KeyAuthorTypes = "author_types"
	KeyAutoParse   = "auto_parse_enabled"
)

// Defaults applied when a key is absent.
const (
	DefaultRegionName  = "Тюмень"
	DefaultRegionID    = "4827"
	DefaultRooms       = "1,2,3,4"
	DefaultAuthorTypes = "developer,realtor,real_estate_agent,homeowner"

	MaxRooms = 6
)

var (
	errEmpty    = errors.New("must not be empty")
	errRange    = errors.New("out of range")
	errNegative = errors.New("must not be negative")
	errOrder    = errors.New("minimum exceeds maximum")
)

// View is the effective configuration with defaults applied.
type View struct {
	Region      types.Region           `json:"region"`
	Rooms       []int                  `json:"rooms"`
	MinFloors   []int                  `json:"min_floor"`
	MaxFloors   []int                  `json:"max_floor"`
	MinPrice    *int64                 `json:"min_price"`
	MaxPrice    *int64                 `json:"max_price"`
	AuthorTypes []types.AuthorCategory `json:"author_types"`
	AutoParse   bool                   `json:"auto_parse_enabled"`
}

// Provider reads and writes typed settings on top of a Store.
type Provider struct {
	store Store
}

// NewProvider wraps store.
func NewProvider(store Store) *Provider {
	return &Provider{store: store}
}

// Store returns the underlying store.
func (p *Provider) Store() Store { return p.store }

func (p *Provider) get(ctx context.Context, key, def string) (string, error) {
	v, ok, err := p.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Region returns the search region.
func (p *Provider) Region(ctx context.Context) (types.Region, error) {
	name, err := p.get(ctx, KeyRegion, DefaultRegionName)
	if err != nil {
		return types.Region{}, err
	}
	id, err := p.get(ctx, KeyRegionID, DefaultRegionID)
	if err != nil {
		return types.Region{}, err
	}
	return types.Region{Name: name, ID: id}, nil
}

// SetRegion stores the region name and its numeric site id.
func (p *Provider) SetRegion(ctx context.Context, r types.Region) error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return &types.SettingsError{Key: KeyRegion, Value: r.Name, Err: errEmpty}
	}
	if _, err := strconv.ParseUint(r.ID, 10, 64); err != nil {
		return &types.SettingsError{Key: KeyRegionID, Value: r.ID, Err: err}
	}
	if err := p.store.Set(ctx, KeyRegion, name); err != nil {
		return err
	}
	return p.store.Set(ctx, KeyRegionID, r.ID)
}

// Rooms returns the selected room counts.
func (p *Provider) Rooms(ctx context.Context) ([]int, error) {
	v, err := p.get(ctx, KeyRooms, DefaultRooms)
	if err != nil {
		return nil, err
	}
	return parseInts(KeyRooms, v)
}

// SetRooms stores a non-empty set of room counts in 1..MaxRooms.
func (p *Provider) SetRooms(ctx context.Context, rooms []int) error {
	rooms = normalizeInts(rooms)
	if len(rooms) == 0 {
		return &types.SettingsError{Key: KeyRooms, Err: errEmpty}
	}
	for _, r := range rooms {
		if r < 1 || r > MaxRooms {
			return &types.SettingsError{Key: KeyRooms, Value: strconv.Itoa(r), Err: errRange}
		}
	}
	return p.store.Set(ctx, KeyRooms, joinInts(rooms))
}

// Floors returns the minimum and maximum floor sets. Empty means unset.
func (p *Provider) Floors(ctx context.Context) (minFloors, maxFloors []int, err error) {
	v, err := p.get(ctx, KeyMinFloor, "")
	if err != nil {
		return nil, nil, err
	}
	if minFloors, err = parseInts(KeyMinFloor, v); err != nil {
		return nil, nil, err
	}
	v, err = p.get(ctx, KeyMaxFloor, "")
	if err != nil {
		return nil, nil, err
	}
	if maxFloors, err = parseInts(KeyMaxFloor, v); err != nil {
		return nil, nil, err
	}
	return minFloors, maxFloors, nil
}

// SetFloors stores both floor sets. An empty set clears that bound.
func (p *Provider) SetFloors(ctx context.Context, minFloors, maxFloors []int) error {
	minFloors = normalizeInts(minFloors)
	maxFloors = normalizeInts(maxFloors)
	for key, set := range map[string][]int{KeyMinFloor: minFloors, KeyMaxFloor: maxFloors} {
		for _, f := range set {
			if f < 1 {
				return &types.SettingsError{Key: key, Value: strconv.Itoa(f), Err: errRange}
			}
		}
	}
	if len(minFloors) > 0 && len(maxFloors) > 0 && minFloors[0] > maxFloors[len(maxFloors)-1] {
		return &types.SettingsError{Key: KeyMinFloor, Value: joinInts(minFloors), Err: errOrder}
	}
	if err := p.setOrDelete(ctx, KeyMinFloor, joinInts(minFloors)); err != nil {
		return err
	}
	return p.setOrDelete(ctx, KeyMaxFloor, joinInts(maxFloors))
}

// Prices returns the price bounds. Nil means unbounded.
func (p *Provider) Prices(ctx context.Context) (minPrice, maxPrice *int64, err error) {
	if minPrice, err = p.price(ctx, KeyMinPrice); err != nil {
		return nil, nil, err
	}
	if maxPrice, err = p.price(ctx, KeyMaxPrice); err != nil {
		return nil, nil, err
	}
	return minPrice, maxPrice, nil
}

// SetPrices stores the price bounds. A nil bound is cleared.
func (p *Provider) SetPrices(ctx context.Context, minPrice, maxPrice *int64) error {
	if minPrice != nil && *minPrice < 0 {
		return &types.SettingsError{Key: KeyMinPrice, Value: strconv.FormatInt(*minPrice, 10), Err: errNegative}
	}
	if maxPrice != nil && *maxPrice < 0 {
		return &types.SettingsError{Key: KeyMaxPrice, Value: strconv.FormatInt(*maxPrice, 10), Err: errNegative}
	}
	if minPrice != nil && maxPrice != nil && *minPrice > *maxPrice {
		return &types.SettingsError{Key: KeyMinPrice, Value: strconv.FormatInt(*minPrice, 10), Err: errOrder}
	}
	if err := p.setOrDelete(ctx, KeyMinPrice, formatPrice(minPrice)); err != nil {
		return err
	}
	return p.setOrDelete(ctx, KeyMaxPrice, formatPrice(maxPrice))
}

// AuthorTypes returns the selected author categories. A stored empty
// selection falls back to developers only.
func (p *Provider) AuthorTypes(ctx context.Context) ([]types.AuthorCategory, error) {
	v, err := p.get(ctx, KeyAuthorTypes, DefaultAuthorTypes)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(v) == "" {
		return []types.AuthorCategory{types.CategoryDeveloper}, nil
	}
	var out []types.AuthorCategory
	for _, part := range strings.Split(v, ",") {
		c, err := types.ParseAuthorCategory(part)
		if err != nil {
			return nil, &types.SettingsError{Key: KeyAuthorTypes, Value: v, Err: err}
		}
		out = append(out, c)
	}
	return out, nil
}

// SetAuthorTypes stores a non-empty selection of known categories.
func (p *Provider) SetAuthorTypes(ctx context.Context, cats []types.AuthorCategory) error {
	if len(cats) == 0 {
		return &types.SettingsError{Key: KeyAuthorTypes, Err: errEmpty}
	}
	seen := make(map[types.AuthorCategory]bool, len(cats))
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		if !c.Valid() {
			return &types.SettingsError{Key: KeyAuthorTypes, Value: string(c), Err: fmt.Errorf("unknown author category")}
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		names = append(names, string(c))
	}
	return p.store.Set(ctx, KeyAuthorTypes, strings.Join(names, ","))
}

// AutoParseEnabled reports whether scheduled runs are switched on.
func (p *Provider) AutoParseEnabled(ctx context.Context) (bool, error) {
	v, err := p.get(ctx, KeyAutoParse, "0")
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetAutoParse switches scheduled runs on or off.
func (p *Provider) SetAutoParse(ctx context.Context, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return p.store.Set(ctx, KeyAutoParse, v)
}

// Filter assembles the acquisition filter from the current settings.
func (p *Provider) Filter(ctx context.Context) (types.Filter, error) {
	view, err := p.Current(ctx)
	if err != nil {
		return types.Filter{}, err
	}
	return types.Filter{
		Region:     view.Region,
		Rooms:      view.Rooms,
		MinFloors:  view.MinFloors,
		MaxFloors:  view.MaxFloors,
		MinPrice:   view.MinPrice,
		MaxPrice:   view.MaxPrice,
		Categories: view.AuthorTypes,
	}, nil
}

// Current returns every setting with defaults applied.
func (p *Provider) Current(ctx context.Context) (*View, error) {
	var (
		v   View
		err error
	)
	if v.Region, err = p.Region(ctx); err != nil {
		return nil, err
	}
	if v.Rooms, err = p.Rooms(ctx); err != nil {
		return nil, err
	}
	if v.MinFloors, v.MaxFloors, err = p.Floors(ctx); err != nil {
		return nil, err
	}
	if v.MinPrice, v.MaxPrice, err = p.Prices(ctx); err != nil {
		return nil, err
	}
	if v.AuthorTypes, err = p.AuthorTypes(ctx); err != nil {
		return nil, err
	}
	if v.AutoParse, err = p.AutoParseEnabled(ctx); err != nil {
		return nil, err
	}
	return &v, nil
}

// Reset deletes every stored key so that defaults apply again.
func (p *Provider) Reset(ctx context.Context) error {
	keys, err := p.store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := p.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) price(ctx context.Context, key string) (*int64, error) {
	v, err := p.get(ctx, key, "")
	if err != nil || v == "" {
		return nil, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return nil, &types.SettingsError{Key: key, Value: v, Err: err}
	}
	return &n, nil
}

func (p *Provider) setOrDelete(ctx context.Context, key, value string) error {
	if value == "" {
		return p.store.Delete(ctx, key)
	}
	return p.store.Set(ctx, key, value)
}

// ParseIntList parses a comma-separated list of integers such as "1,2,3".
func ParseIntList(s string) ([]int, error) {
	return parseInts("", s)
}

func parseInts(key, s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, &types.SettingsError{Key: key, Value: s, Err: err}
		}
		out = append(out, n)
	}
	return out, nil
}

func normalizeInts(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

func joinInts(in []int) string {
	parts := make([]string, len(in))
	for i, n := range in {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func formatPrice(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}
