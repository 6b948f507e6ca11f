package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
)

// Checker is a correctness and candidate source for single words. IsKnown
// reports whether the word is acceptable; Suggest returns an unordered set of
// correction candidates, possibly empty. Implementations must be safe for
// concurrent use.
type Checker interface {
	IsKnown(word string) bool
	Suggest(word string) ([]string, error)
}

// wordSet is a lowercase membership set plus the alphabet observed while
// loading it. The alphabet drives candidate generation so accented scripts
// get accented candidates.
type wordSet struct {
	words    map[string]struct{}
	alphabet []rune
}

func newWordSet(words []string) *wordSet {
	s := &wordSet{words: make(map[string]struct{}, len(words))}
	seen := make(map[rune]struct{})
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		s.words[w] = struct{}{}
		for _, r := range w {
			if unicode.IsLetter(r) {
				if _, ok := seen[r]; !ok {
					seen[r] = struct{}{}
					s.alphabet = append(s.alphabet, r)
				}
			}
		}
	}
	sort.Slice(s.alphabet, func(i, j int) bool { return s.alphabet[i] < s.alphabet[j] })
	return s
}

func (s *wordSet) contains(word string) bool {
	_, ok := s.words[strings.ToLower(word)]
	return ok
}

// loadWordFile reads a word-per-line UTF-8 file, one dictionary entry per
// line, blank lines skipped.
func loadWordFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wordlist: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			words = append(words, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}
	return words, nil
}

// Wordlist is a dictionary checker backed by a plain wordlist. Suggestions
// come from a symmetric-delete index: every dictionary word is indexed under
// its single-character deletions, so lookup only has to generate deletions of
// the query instead of the full edit neighborhood.
type Wordlist struct {
	set     *wordSet
	deletes map[string][]string
}

// NewWordlist builds a Wordlist checker from dictionary entries.
func NewWordlist(words []string) *Wordlist {
	wl := &Wordlist{
		set:     newWordSet(words),
		deletes: make(map[string][]string),
	}
	for w := range wl.set.words {
		for _, d := range deletions(w) {
			wl.deletes[d] = append(wl.deletes[d], w)
		}
	}
	return wl
}

// LoadWordlist builds a Wordlist checker from a word-per-line file.
func LoadWordlist(path string) (*Wordlist, error) {
	words, err := loadWordFile(path)
	if err != nil {
		return nil, err
	}
	return NewWordlist(words), nil
}

func (w *Wordlist) IsKnown(word string) bool {
	return w.set.contains(word)
}

// Suggest returns dictionary words within edit distance 1 of word, found via
// the delete index: a dictionary entry is within distance 1 iff it equals the
// query, appears among the query's deletions, has the query among its own
// deletions, or shares a deletion with the query.
func (w *Wordlist) Suggest(word string) ([]string, error) {
	lower := strings.ToLower(word)
	seen := map[string]struct{}{lower: {}}
	var out []string

	add := func(cand string) {
		if _, dup := seen[cand]; dup {
			return
		}
		seen[cand] = struct{}{}
		out = append(out, cand)
	}

	// Deletions of the query that are dictionary words (query has one extra rune).
	queryDels := deletions(lower)
	for _, d := range queryDels {
		if w.set.contains(d) {
			add(d)
		}
	}
	// Dictionary words whose deletion equals the query (one missing rune),
	// and words sharing a deletion with the query (substitution/transposition).
	for _, cand := range w.deletes[lower] {
		add(cand)
	}
	for _, d := range queryDels {
		for _, cand := range w.deletes[d] {
			add(cand)
		}
	}
	sort.Strings(out)
	return out, nil
}

func deletions(word string) []string {
	runes := []rune(word)
	if len(runes) == 0 {
		return nil
	}
	out := make([]string, 0, len(runes))
	for i := range runes {
		out = append(out, string(runes[:i])+string(runes[i+1:]))
	}
	return out
}
