package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annotext/annotext/pkg/models"
	"github.com/annotext/annotext/pkg/store"
	"github.com/annotext/annotext/pkg/tokenize"
)

func tokensFrom(text string) []models.Token {
	var out []models.Token
	for i, t := range tokenize.Tokenize(text) {
		out = append(out, models.Token{
			Position:           i,
			Text:               t.Text,
			IsWord:             t.IsWord,
			TrailingWhitespace: t.TrailingWhitespace,
		})
	}
	return out
}

func TestJoin(t *testing.T) {
	t.Run("single space between words", func(t *testing.T) {
		assert.Equal(t, "a casa azul", Join([]string{"a", "casa", "azul"}))
	})

	t.Run("no space before closing punctuation", func(t *testing.T) {
		assert.Equal(t, "casa, fim.", Join([]string{"casa", ",", "fim", "."}))
		assert.Equal(t, "(casa)", Join([]string{"(", "casa", ")"}))
	})

	t.Run("no space around layout tokens", func(t *testing.T) {
		assert.Equal(t, "fim.\n\tNova", Join([]string{"fim", ".", "\n", "\t", "Nova"}))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", Join(nil))
	})
}

func TestRebuild(t *testing.T) {
	t.Run("empty overlay reproduces the text", func(t *testing.T) {
		tokens := tokensFrom("A casa e a casa.")
		assert.Equal(t, "A casa e a casa.", Rebuild(tokens, nil, false))
	})

	t.Run("single token replacement", func(t *testing.T) {
		tokens := tokensFrom("A casa e a caza.")
		norms := []models.Normalization{
			{StartIndex: 4, EndIndex: 4, NewToken: "casa"},
		}
		assert.Equal(t, "A casa e a casa.", Rebuild(tokens, norms, false))
	})

	t.Run("span collapses to one replacement", func(t *testing.T) {
		tokens := tokensFrom("por que razão foi")
		norms := []models.Normalization{
			{StartIndex: 0, EndIndex: 1, NewToken: "porque"},
		}
		assert.Equal(t, "porque razão foi", Rebuild(tokens, norms, false))
	})

	t.Run("tags wrap the replacement with the original span", func(t *testing.T) {
		tokens := tokensFrom("a caza azul")
		norms := []models.Normalization{
			{StartIndex: 1, EndIndex: 1, NewToken: "casa"},
		}
		assert.Equal(t, "a <norm orig='caza'>casa</norm> azul", Rebuild(tokens, norms, true))
	})

	t.Run("tagged span keeps every original token", func(t *testing.T) {
		tokens := tokensFrom("por que razão")
		norms := []models.Normalization{
			{StartIndex: 0, EndIndex: 1, NewToken: "porque"},
		}
		assert.Equal(t, "<norm orig='por que'>porque</norm> razão", Rebuild(tokens, norms, true))
	})

	t.Run("multiple disjoint normalizations", func(t *testing.T) {
		tokens := tokensFrom("a caza e a kasa")
		norms := []models.Normalization{
			{StartIndex: 1, EndIndex: 1, NewToken: "casa"},
			{StartIndex: 4, EndIndex: 4, NewToken: "casa"},
		}
		assert.Equal(t, "a casa e a casa", Rebuild(tokens, norms, false))
	})
}

func TestNormalizedFileName(t *testing.T) {
	assert.Equal(t, "essay01n.txt", normalizedFileName("essay01.txt"))
	assert.Equal(t, "essay01n.txt", normalizedFileName("batch/essay01.txt"))
	assert.Equal(t, "essayn.txt", normalizedFileName("essay"))
}

// fakeStore serves the read operations the exporter touches; everything else
// panics through the embedded nil interface.
type fakeStore struct {
	store.Store
	tokens   map[uint][]models.Token
	norms    map[uint][]models.Normalization
	details  map[uint]*store.DocumentDetail
	username string
}

func (f *fakeStore) GetDocumentTokens(ctx context.Context, documentID uint) ([]models.Token, error) {
	tokens, ok := f.tokens[documentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tokens, nil
}

func (f *fakeStore) GetNormalizations(ctx context.Context, documentID, userID uint) ([]models.Normalization, error) {
	return f.norms[documentID], nil
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID, userID uint) (*store.DocumentDetail, error) {
	detail, ok := f.details[documentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return detail, nil
}

func (f *fakeStore) UsernameByID(ctx context.Context, userID uint) (string, error) {
	return f.username, nil
}

func grade(g int16) *int16 { return &g }

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens: map[uint][]models.Token{
			1: tokensFrom("A casa e a caza."),
		},
		norms: map[uint][]models.Normalization{
			1: {{DocumentID: 1, UserID: 7, StartIndex: 4, EndIndex: 4, NewToken: "casa"}},
		},
		details: map[uint]*store.DocumentDetail{
			1: {ID: 1, Grade: grade(3), SourceFileName: "essay01.txt"},
		},
		username: "alice",
	}
}

func TestExporterReconstruct(t *testing.T) {
	e := New(newFakeStore())

	got, err := e.Reconstruct(context.Background(), 1, 7, false)
	require.NoError(t, err)
	assert.Equal(t, "A casa e a casa.", got)

	_, err = e.Reconstruct(context.Background(), 99, 7, false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExporterWriteZip(t *testing.T) {
	e := New(newFakeStore())

	var buf bytes.Buffer
	require.NoError(t, e.WriteZip(context.Background(), &buf, 7, []uint{1}, false))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "NOTA 3/essay01n.txt", zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	var content bytes.Buffer
	_, err = content.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "A casa e a casa.", content.String())
}

func TestExporterWriteReport(t *testing.T) {
	e := New(newFakeStore())

	var buf bytes.Buffer
	require.NoError(t, e.WriteReport(context.Background(), &buf, 7, []uint{1}))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\ufeff"), "report must start with a UTF-8 BOM")

	cr := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\ufeff")))
	cr.Comma = ';'
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"Text ID", "User", "Previous Tokens", "Word", "Subsequent Tokens", "Normalization"}, rows[0])
	assert.Equal(t, []string{"essay01.txt", "alice", "A casa e a", "caza", ".", "casa"}, rows[1])
}
