package types

// Region is a search region as named by the site.
type Region struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Filter is the acquisition and resolution filter read from settings.
// Nil bounds mean unbounded.
type Filter struct {
	Region     Region
	Rooms      []int
	MinFloors  []int
	MaxFloors  []int
	MinPrice   *int64
	MaxPrice   *int64
	Categories []AuthorCategory
}

// Includes reports whether listings of category c are selected.
func (f *Filter) Includes(c AuthorCategory) bool {
	for _, sel := range f.Categories {
		if sel == c {
			return true
		}
	}
	return false
}

// FloorBounds collapses the floor sets into the search bounds: the lowest
// minimum and the highest maximum. A zero value means unbounded.
func (f *Filter) FloorBounds() (minFloor, maxFloor int) {
	for i, v := range f.MinFloors {
		if i == 0 || v < minFloor {
			minFloor = v
		}
	}
	for _, v := range f.MaxFloors {
		if v > maxFloor {
			maxFloor = v
		}
	}
	return minFloor, maxFloor
}

// CategoryNames returns the selected categories as strings.
func (f *Filter) CategoryNames() []string {
	names := make([]string, len(f.Categories))
	for i, c := range f.Categories {
		names[i] = string(c)
	}
	return names
}
