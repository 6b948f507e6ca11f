package pipeline

import (
	"sort"
	"strings"
)

// EditDistanceChecker accepts words present in its wordlist and suggests
// corrections by generating the full single-edit neighborhood of a word
// (deletes, transposes, replaces, inserts over the loaded alphabet) and
// keeping the variants that are dictionary words. When no single-edit
// candidate exists it widens to distance 2.
type EditDistanceChecker struct {
	set *wordSet
}

// NewEditDistanceChecker builds a checker from dictionary entries.
func NewEditDistanceChecker(words []string) *EditDistanceChecker {
	return &EditDistanceChecker{set: newWordSet(words)}
}

// LoadEditDistanceChecker builds a checker from a word-per-line file.
func LoadEditDistanceChecker(path string) (*EditDistanceChecker, error) {
	words, err := loadWordFile(path)
	if err != nil {
		return nil, err
	}
	return NewEditDistanceChecker(words), nil
}

func (c *EditDistanceChecker) IsKnown(word string) bool {
	return c.set.contains(word)
}

func (c *EditDistanceChecker) Suggest(word string) ([]string, error) {
	lower := strings.ToLower(word)

	edits1 := c.edits(lower)
	known := c.known(edits1, lower)
	if len(known) == 0 {
		// Distance 2: edits of edits. Bounded by the distance-1 set size.
		seen := make(map[string]struct{})
		for _, e := range edits1 {
			for _, e2 := range c.edits(e) {
				seen[e2] = struct{}{}
			}
		}
		flat := make([]string, 0, len(seen))
		for e := range seen {
			flat = append(flat, e)
		}
		known = c.known(flat, lower)
	}
	sort.Strings(known)
	return known, nil
}

func (c *EditDistanceChecker) known(variants []string, original string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range variants {
		if v == original {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		if c.set.contains(v) {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// edits returns the distance-1 neighborhood of word.
func (c *EditDistanceChecker) edits(word string) []string {
	runes := []rune(word)
	var out []string

	// Deletes.
	for i := range runes {
		out = append(out, string(runes[:i])+string(runes[i+1:]))
	}
	// Transposes.
	for i := 0; i+1 < len(runes); i++ {
		t := make([]rune, len(runes))
		copy(t, runes)
		t[i], t[i+1] = t[i+1], t[i]
		out = append(out, string(t))
	}
	// Replaces and inserts.
	for _, a := range c.set.alphabet {
		for i := range runes {
			out = append(out, string(runes[:i])+string(a)+string(runes[i+1:]))
		}
		for i := 0; i <= len(runes); i++ {
			out = append(out, string(runes[:i])+string(a)+string(runes[i:]))
		}
	}
	return out
}
