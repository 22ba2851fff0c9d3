package ccr

import (
	"fmt"
	"sort"
	"strconv"
)

// DefaultCategories is the category table of the Chakra CCR.
func DefaultCategories() map[string]int {
	return map[string]int{
		"none":        1,
		"daemons":     2,
		"devel":       3,
		"editors":     4,
		"emulators":   5,
		"games":       6,
		"gnome":       7,
		"i18n":        8,
		"kde":         9,
		"lib":         10,
		"modules":     11,
		"multimedia":  12,
		"network":     13,
		"office":      14,
		"educational": 15,
		"system":      16,
		"x11":         17,
		"utils":       18,
		"lib32":       19,
	}
}

// CategoryID looks up the id of a category name, unknown names fail with ErrUnknownCategory.
func (c Config) CategoryID(name string) (int, error) {
	id, ok := c.Categories[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return id, nil
}

// CategoryName is the reverse of CategoryID, it accepts the id in the string form found in
// PackageRecord.CategoryID.
func (c Config) CategoryName(id string) (string, bool) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return "", false
	}
	for name, candidate := range c.Categories {
		if candidate == n {
			return name, true
		}
	}
	return "", false
}

// CategoryNames lists the known categories ordered by id.
func (c Config) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.Categories[names[i]], c.Categories[names[j]]
		if a == b {
			return names[i] < names[j]
		}
		return a < b
	})
	return names
}
