package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annotext/annotext/pkg/models"
	"github.com/annotext/annotext/pkg/pipeline"
	"github.com/annotext/annotext/pkg/store"
)

// recordingStore captures created documents; the other store operations are
// never reached by the ingest path.
type recordingStore struct {
	store.Store

	mu    sync.Mutex
	docs  []*models.Document
	seeds [][]store.TokenSeed
	err   error
}

func (r *recordingStore) CreateDocument(ctx context.Context, doc *models.Document, seeds []store.TokenSeed) (uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.docs = append(r.docs, doc)
	r.seeds = append(r.seeds, seeds)
	return uint(len(r.docs)), nil
}

// gatedStore parks CreateDocument until release is closed, keeping its
// worker slot occupied.
type gatedStore struct {
	recordingStore
	release chan struct{}
}

func (g *gatedStore) CreateDocument(ctx context.Context, doc *models.Document, seeds []store.TokenSeed) (uint, error) {
	<-g.release
	return g.recordingStore.CreateDocument(ctx, doc, seeds)
}

func newTestManager(s store.Store) *Manager {
	dict := pipeline.NewWordlist([]string{"a", "casa", "e"})
	edit := pipeline.NewEditDistanceChecker([]string{"a", "casa", "e"})
	pipe := pipeline.New(dict, edit, nil, zerolog.Nop())
	return NewManager(s, pipe, 1, zerolog.Nop())
}

func TestManagerSubmit(t *testing.T) {
	t.Run("batch runs to completion", func(t *testing.T) {
		rec := &recordingStore{}
		m := newTestManager(rec)

		id := m.Submit(context.Background(), []File{
			{Name: "batch/one.txt", Content: "a casa"},
			{Name: "batch/two.txt", Content: "a caza"},
		})
		m.Wait()

		status, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, StateDone, status.State)
		assert.Equal(t, 2, status.Current)
		assert.Equal(t, 2, status.Total)
		assert.Empty(t, status.Errors)

		require.Len(t, rec.docs, 2)
		assert.Equal(t, "one.txt", rec.docs[0].SourceFileName)
		assert.Equal(t, "two.txt", rec.docs[1].SourceFileName)
	})

	t.Run("annotations reach the seeds", func(t *testing.T) {
		rec := &recordingStore{}
		m := newTestManager(rec)

		m.Submit(context.Background(), []File{{Name: "one.txt", Content: "a caza"}})
		m.Wait()

		require.Len(t, rec.seeds, 1)
		seeds := rec.seeds[0]
		require.Len(t, seeds, 2)
		assert.False(t, seeds[0].ToBeNormalized)
		assert.True(t, seeds[1].ToBeNormalized)
		assert.Contains(t, seeds[1].Candidates, "casa")
	})

	t.Run("a failed file does not abort its siblings", func(t *testing.T) {
		rec := &recordingStore{}
		m := newTestManager(rec)

		id := m.Submit(context.Background(), []File{
			{Name: "empty.txt", Content: ""},
			{Name: "good.txt", Content: "a casa"},
		})
		m.Wait()

		status, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, StateDone, status.State)
		assert.Len(t, status.Errors, 1)
		assert.Contains(t, status.Errors, "empty.txt")
		require.Len(t, rec.docs, 1)
		assert.Equal(t, "good.txt", rec.docs[0].SourceFileName)
	})

	t.Run("storage failures are recorded per file", func(t *testing.T) {
		rec := &recordingStore{err: errors.New("connection lost")}
		m := newTestManager(rec)

		id := m.Submit(context.Background(), []File{{Name: "one.txt", Content: "a casa"}})
		m.Wait()

		status, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, StateDone, status.State)
		assert.Contains(t, status.Errors["one.txt"], "connection lost")
	})

	t.Run("submit returns while all workers are busy", func(t *testing.T) {
		release := make(chan struct{})
		slow := &gatedStore{release: release}
		m := newTestManager(slow)

		first := m.Submit(context.Background(), []File{{Name: "one.txt", Content: "a casa"}})

		returned := make(chan string, 1)
		go func() {
			returned <- m.Submit(context.Background(), []File{{Name: "two.txt", Content: "a casa"}})
		}()

		var second string
		select {
		case second = <-returned:
		case <-time.After(2 * time.Second):
			t.Fatal("Submit blocked while the worker slot was occupied")
		}

		// Either batch may have won the worker slot; the other is parked.
		status, err := m.Status(second)
		require.NoError(t, err)
		assert.Contains(t, []JobState{StatePending, StateRunning}, status.State)

		close(release)
		m.Wait()

		for _, id := range []string{first, second} {
			status, err := m.Status(id)
			require.NoError(t, err)
			assert.Equal(t, StateDone, status.State)
		}
		require.Len(t, slow.docs, 2)
	})

	t.Run("cancelled context fails the batch", func(t *testing.T) {
		rec := &recordingStore{}
		m := newTestManager(rec)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		id := m.Submit(ctx, []File{{Name: "one.txt", Content: "a casa"}})
		m.Wait()

		status, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, StateFailed, status.State)
		assert.Empty(t, rec.docs)
	})

	t.Run("unknown job", func(t *testing.T) {
		m := newTestManager(&recordingStore{})
		_, err := m.Status("nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestReadZipBatch(t *testing.T) {
	build := func(t *testing.T, members map[string]string) *bytes.Reader {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for name, content := range members {
			f, err := zw.Create(name)
			require.NoError(t, err)
			_, err = f.Write([]byte(content))
			require.NoError(t, err)
		}
		require.NoError(t, zw.Close())
		return bytes.NewReader(buf.Bytes())
	}

	t.Run("text members only", func(t *testing.T) {
		r := build(t, map[string]string{
			"batch/one.txt":      "a casa",
			"batch/two.TXT":      "a casa azul",
			"batch/notes.pdf":    "skip",
			"__MACOSX/._one.txt": "skip",
			"batch/__meta.txt":   "skip",
		})
		files, err := ReadZipBatch(r, r.Size())
		require.NoError(t, err)

		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.Name
		}
		assert.ElementsMatch(t, []string{"batch/one.txt", "batch/two.TXT"}, names)
	})

	t.Run("content survives extraction", func(t *testing.T) {
		r := build(t, map[string]string{"one.txt": "a casa"})
		files, err := ReadZipBatch(r, r.Size())
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "a casa", files[0].Content)
	})

	t.Run("no text files is an error", func(t *testing.T) {
		r := build(t, map[string]string{"one.pdf": "skip"})
		_, err := ReadZipBatch(r, r.Size())
		assert.Error(t, err)
	})
}
