package repl

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/IshaanNene/phonegoat/internal/settings"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// WriteSettings prints the effective settings one per line.
func WriteSettings(w io.Writer, v *settings.View) {
	autoParse := "off"
	if v.AutoParse {
		autoParse = "on"
	}
	fmt.Fprintf(w, "  Region:       %s (ID: %s)\n", v.Region.Name, v.Region.ID)
	fmt.Fprintf(w, "  Rooms:        %s\n", JoinInts(v.Rooms))
	fmt.Fprintf(w, "  Min floor:    %s\n", orUnset(JoinInts(v.MinFloors)))
	fmt.Fprintf(w, "  Max floor:    %s\n", orUnset(JoinInts(v.MaxFloors)))
	fmt.Fprintf(w, "  Min price:    %s\n", FormatPrice(v.MinPrice))
	fmt.Fprintf(w, "  Max price:    %s\n", FormatPrice(v.MaxPrice))
	fmt.Fprintf(w, "  Author types: %s\n", categoryLabels(v.AuthorTypes))
	fmt.Fprintf(w, "  Auto parse:   %s\n", autoParse)
}

// ParseCategories parses a comma-separated author type list.
func ParseCategories(s string) ([]types.AuthorCategory, error) {
	var cats []types.AuthorCategory
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := types.ParseAuthorCategory(part)
		if err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, nil
}

// ParsePrice parses a ruble amount; spaces between digit groups are allowed.
// An empty string yields nil.
func ParsePrice(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(s, " ", ""), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return &n, nil
}

// FormatPrice groups digits by thousands: 6500000 -> "6 500 000 ₽".
func FormatPrice(p *int64) string {
	if p == nil {
		return "not set"
	}
	digits := strconv.FormatInt(*p, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String() + " ₽"
}

// JoinInts renders a list as "1, 2, 3".
func JoinInts(in []int) string {
	parts := make([]string, len(in))
	for i, n := range in {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

func categoryLabels(cats []types.AuthorCategory) string {
	labels := make([]string, len(cats))
	for i, c := range cats {
		labels[i] = fmt.Sprintf("%s (%s)", c, c.DisplayName())
	}
	return strings.Join(labels, ", ")
}

func orUnset(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}
