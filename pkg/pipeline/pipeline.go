// Package pipeline decides, per token, whether a word is likely misspelled
// and produces ranked correction candidates.
//
// Candidates come from two checkers (a dictionary checker and an
// edit-distance checker) and are re-ranked by a contextual prediction model.
// The model also rescues words the dictionaries miss: if the original word
// appears among the model's top predictions for its own position, it is
// treated as correct. Checker and model failures degrade a single token's
// output, never the document.
package pipeline

import (
	"context"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/pkg/tokenize"
)

const (
	// topKPredictions is how many contextual fillers are requested when
	// double-checking a dictionary "incorrect" verdict.
	topKPredictions = 50
	// maxPriority caps the model-generated suggestions prepended to the list.
	maxPriority = 2
	// maxRanked caps the model-ranked dictionary candidates for a misspelling.
	maxRanked = 5
	// maxPassive caps the informational suggestions attached to a correct word.
	maxPassive = 7
)

// TokenResult is the pipeline's verdict for one token. Results are returned
// as an ordered slice; Position always equals the slice index.
type TokenResult struct {
	Position       int
	Text           string
	IsWord         bool
	ToBeNormalized bool
	Suggestions    []string
	Whitespace     string
}

// Pipeline holds the checker and model handles for suggestion generation.
// Construct it once and pass it by reference; the heavy resources live in
// the checkers and the model server, not in package state.
type Pipeline struct {
	dict  Checker
	edit  Checker
	model ContextModel
	log   zerolog.Logger
}

// New creates a Pipeline. model may be nil, in which case every token is
// judged by the dictionaries alone.
func New(dict, edit Checker, model ContextModel, log zerolog.Logger) *Pipeline {
	return &Pipeline{dict: dict, edit: edit, model: model, log: log}
}

// Annotate runs the per-token algorithm over a document's full token
// sequence and returns one result per token, in position order.
func (p *Pipeline) Annotate(ctx context.Context, tokens []tokenize.Token) []TokenResult {
	texts := make([]string, len(tokens))
	for i, t := range tokens {
		texts[i] = t.Text
	}

	results := make([]TokenResult, len(tokens))
	for i, t := range tokens {
		results[i] = p.annotateToken(ctx, texts, i, t)
	}
	return results
}

func (p *Pipeline) annotateToken(ctx context.Context, texts []string, i int, t tokenize.Token) TokenResult {
	res := TokenResult{
		Position:   i,
		Text:       t.Text,
		IsWord:     t.IsWord,
		Whitespace: t.TrailingWhitespace,
	}
	if !t.IsWord {
		return res
	}
	word := t.Text

	candidates := p.caseMatchedCandidates(word)
	correct := p.dict.IsKnown(word) || p.edit.IsKnown(word)

	var priority []string
	if !correct && p.model != nil {
		preds, err := p.model.PredictTopK(ctx, texts, i, topKPredictions)
		if err != nil {
			p.log.Warn().Err(err).Str("word", word).Msg("contextual predictions unavailable")
		} else if containsFold(preds, word) {
			// The dictionaries miss it but the model expects it here:
			// proper noun or rare-but-valid word.
			correct = true
		} else {
			for _, pred := range preds {
				if strings.EqualFold(pred, word) {
					continue
				}
				if containsFold(priority, pred) {
					continue
				}
				if p.dict.IsKnown(pred) || p.edit.IsKnown(pred) {
					priority = append(priority, pred)
					if len(priority) >= maxPriority {
						break
					}
				}
			}
		}
	}

	if correct {
		if len(candidates) > maxPassive {
			candidates = candidates[:maxPassive]
		}
		res.Suggestions = candidates
		return res
	}

	ranked := p.rankByModel(ctx, texts, i, candidates)
	// Priority suggestions go first, preserving their order; duplicates
	// already in the ranked list are pulled to the front.
	for j := len(priority) - 1; j >= 0; j-- {
		ranked = prepend(ranked, priority[j])
	}

	res.ToBeNormalized = true
	res.Suggestions = ranked
	return res
}

// caseMatchedCandidates unions both checkers' suggestions, drops the original
// word, and folds each candidate to the original's casing pattern. A checker
// error contributes an empty set rather than failing the token.
func (p *Pipeline) caseMatchedCandidates(word string) []string {
	var raw []string
	for _, c := range []Checker{p.dict, p.edit} {
		s, err := c.Suggest(word)
		if err != nil {
			p.log.Warn().Err(err).Str("word", word).Msg("checker suggestions unavailable")
			continue
		}
		raw = append(raw, s...)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, c := range raw {
		if strings.EqualFold(c, word) {
			continue
		}
		cased := matchCase(word, c)
		if _, dup := seen[cased]; dup {
			continue
		}
		seen[cased] = struct{}{}
		out = append(out, cased)
	}
	return out
}

// rankByModel orders candidates by the model's score for each filling the
// masked position and keeps the top maxRanked. Without a model, or when the
// model fails, the first maxRanked candidates pass through unranked.
func (p *Pipeline) rankByModel(ctx context.Context, texts []string, i int, candidates []string) []string {
	if len(candidates) == 0 {
		return nil
	}
	if p.model == nil {
		return truncate(candidates, maxRanked)
	}

	type scored struct {
		text  string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		score, err := p.model.Score(ctx, texts, i, c)
		if err != nil {
			p.log.Warn().Err(err).Str("candidate", c).Msg("contextual scoring unavailable")
			return truncate(candidates, maxRanked)
		}
		ranked = append(ranked, scored{text: c, score: score})
	}
	// Stable insertion keeps the original order among equal scores.
	for a := 1; a < len(ranked); a++ {
		for b := a; b > 0 && ranked[b].score > ranked[b-1].score; b-- {
			ranked[b], ranked[b-1] = ranked[b-1], ranked[b]
		}
	}

	out := make([]string, 0, maxRanked)
	for _, s := range ranked {
		out = append(out, s.text)
		if len(out) == maxRanked {
			break
		}
	}
	return out
}

// matchCase folds candidate to the casing pattern of original: all-uppercase
// originals get uppercase candidates, initial-uppercase get capitalized ones,
// everything else is lowered.
func matchCase(original, candidate string) string {
	switch {
	case isUpper(original):
		return strings.ToUpper(candidate)
	case startsUpper(original):
		return capitalize(candidate)
	default:
		return strings.ToLower(candidate)
	}
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func containsFold(list []string, word string) bool {
	for _, v := range list {
		if strings.EqualFold(v, word) {
			return true
		}
	}
	return false
}

func prepend(list []string, item string) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, item)
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}

func truncate(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
