// Package export rebuilds linear text from a document's tokens and one
// user's normalization overlay, and produces the CSV audit report and zip
// bundle variants.
//
// Reconstruction is deterministic and read-only: it walks tokens in position
// order, applies the overlay spans, and joins with a fixed whitespace rule.
package export

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/annotext/annotext/pkg/models"
	"github.com/annotext/annotext/pkg/store"
)

// contextWindow is how many tokens of surrounding context the audit report
// emits on each side of a normalized span.
const contextWindow = 5

// noSpaceBefore lists token texts that attach directly to the previous
// token; noSpaceAfter lists texts the next token attaches directly to.
var (
	noSpaceBefore = map[string]struct{}{
		":": {}, ",": {}, ".": {}, ")": {}, "}": {}, "?": {}, "!": {}, "]": {},
		"\n": {}, "\t": {}, ";": {}, " ": {},
	}
	noSpaceAfter = map[string]struct{}{
		"{": {}, "(": {}, "[": {}, "#": {}, "\n": {}, "\t": {}, " ": {},
	}
)

// Rebuild merges tokens with the overlay and joins the surviving texts. A
// span [start,end] contributes its replacement once, at the start position;
// the remaining positions of the span are suppressed. With tags on, the
// replacement is wrapped as <norm orig='ORIGINAL'>NEW</norm> where ORIGINAL
// is the replaced span's text.
func Rebuild(tokens []models.Token, norms []models.Normalization, useTags bool) string {
	byStart := make(map[int]models.Normalization, len(norms))
	for _, n := range norms {
		byStart[n.StartIndex] = n
	}

	var out []string
	suppressUntil := -1
	for _, token := range tokens {
		if token.Position <= suppressUntil {
			continue
		}
		norm, ok := byStart[token.Position]
		if !ok {
			out = append(out, token.Text)
			continue
		}
		suppressUntil = norm.EndIndex
		if useTags {
			orig := spanText(tokens, norm.StartIndex, norm.EndIndex)
			out = append(out, fmt.Sprintf("<norm orig='%s'>%s</norm>", orig, norm.NewToken))
		} else {
			out = append(out, norm.NewToken)
		}
	}
	return Join(out)
}

// Join concatenates token texts, inserting exactly one space between a pair
// unless the previous text is in the no-space-after set or the current text
// is in the no-space-before set.
func Join(texts []string) string {
	var b strings.Builder
	previous := ""
	for i, text := range texts {
		if i > 0 {
			_, tight := noSpaceAfter[previous]
			if !tight {
				_, tight = noSpaceBefore[text]
			}
			if !tight {
				b.WriteString(" ")
			}
		}
		b.WriteString(text)
		previous = text
	}
	return b.String()
}

func spanText(tokens []models.Token, start, end int) string {
	var parts []string
	for _, t := range tokens {
		if t.Position >= start && t.Position <= end {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Exporter reads tokens and overlays from the store and renders the export
// formats. It holds no mutable state; concurrent exports only share the
// read-only token and normalization tables.
type Exporter struct {
	store store.Store
}

// New creates an Exporter over the given store.
func New(s store.Store) *Exporter {
	return &Exporter{store: s}
}

// Reconstruct returns the rebuilt text of one document under one user's
// overlay.
func (e *Exporter) Reconstruct(ctx context.Context, documentID, userID uint, useTags bool) (string, error) {
	tokens, err := e.store.GetDocumentTokens(ctx, documentID)
	if err != nil {
		return "", err
	}
	norms, err := e.store.GetNormalizations(ctx, documentID, userID)
	if err != nil {
		return "", err
	}
	return Rebuild(tokens, norms, useTags), nil
}

// WriteZip rebuilds each document and writes the results into a zip archive,
// one file per document, grouped by grade directory. The rebuilt file keeps
// the source name with an "n" marker before the extension.
func (e *Exporter) WriteZip(ctx context.Context, w io.Writer, userID uint, documentIDs []uint, useTags bool) error {
	zw := zip.NewWriter(w)
	for _, docID := range documentIDs {
		tokens, err := e.store.GetDocumentTokens(ctx, docID)
		if err != nil {
			return fmt.Errorf("document %d: %w", docID, err)
		}
		norms, err := e.store.GetNormalizations(ctx, docID, userID)
		if err != nil {
			return fmt.Errorf("document %d: %w", docID, err)
		}
		detail, err := e.store.GetDocument(ctx, docID, userID)
		if err != nil {
			return fmt.Errorf("document %d: %w", docID, err)
		}

		grade := int16(0)
		if detail.Grade != nil {
			grade = *detail.Grade
		}
		name := path.Join(fmt.Sprintf("NOTA %d", grade), normalizedFileName(detail.SourceFileName))
		f, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(f, Rebuild(tokens, norms, useTags)); err != nil {
			return err
		}
	}
	return zw.Close()
}

// WriteReport emits the CSV audit report for the user's normalizations over
// the given documents: one row per applied normalization with up to
// contextWindow tokens on each side of the span.
func (e *Exporter) WriteReport(ctx context.Context, w io.Writer, userID uint, documentIDs []uint) error {
	username, err := e.store.UsernameByID(ctx, userID)
	if err != nil {
		return err
	}

	// UTF-8 BOM so spreadsheet tools detect the encoding.
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write([]string{"Text ID", "User", "Previous Tokens", "Word", "Subsequent Tokens", "Normalization"}); err != nil {
		return err
	}

	for _, docID := range documentIDs {
		tokens, err := e.store.GetDocumentTokens(ctx, docID)
		if err != nil {
			return fmt.Errorf("document %d: %w", docID, err)
		}
		norms, err := e.store.GetNormalizations(ctx, docID, userID)
		if err != nil {
			return fmt.Errorf("document %d: %w", docID, err)
		}
		detail, err := e.store.GetDocument(ctx, docID, userID)
		if err != nil {
			return fmt.Errorf("document %d: %w", docID, err)
		}

		for _, norm := range norms {
			prev := sliceTexts(tokens, norm.StartIndex-contextWindow, norm.StartIndex)
			word := sliceTexts(tokens, norm.StartIndex, norm.EndIndex+1)
			next := sliceTexts(tokens, norm.EndIndex+1, norm.EndIndex+1+contextWindow)
			row := []string{
				detail.SourceFileName,
				username,
				strings.Join(prev, " "),
				strings.Join(word, " "),
				strings.Join(next, " "),
				norm.NewToken,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func sliceTexts(tokens []models.Token, from, to int) []string {
	if from < 0 {
		from = 0
	}
	if to > len(tokens) {
		to = len(tokens)
	}
	var out []string
	for i := from; i < to; i++ {
		out = append(out, tokens[i].Text)
	}
	return out
}

// normalizedFileName appends the "n" marker before the extension:
// "essay01.txt" becomes "essay01n.txt". Extensionless names get ".txt".
func normalizedFileName(source string) string {
	base := path.Base(source)
	ext := path.Ext(base)
	if ext == "" {
		return base + "n.txt"
	}
	return strings.TrimSuffix(base, ext) + "n" + ext
}
