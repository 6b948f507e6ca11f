// Package ingest runs batch document ingestion asynchronously.
//
// A batch is a set of text files processed strictly in order on one worker:
// format, tokenize, annotate through the suggestion pipeline, persist.
// Independent batches may run concurrently on separate workers, bounded by
// the manager's limit. A file that fails is recorded against the batch and
// excluded from persistence; it does not abort its siblings. Progress is
// polled, not pushed, and jobs cannot be cancelled mid-flight.
package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/annotext/annotext/pkg/models"
	"github.com/annotext/annotext/pkg/pipeline"
	"github.com/annotext/annotext/pkg/store"
	"github.com/annotext/annotext/pkg/tokenize"
)

// JobState is the lifecycle of one batch job.
type JobState string

const (
	StatePending JobState = "pending"
	StateRunning JobState = "running"
	StateDone    JobState = "done"
	StateFailed  JobState = "failed"
)

// File is one document source inside a batch.
type File struct {
	Name    string
	Content string
}

// Status is a point-in-time snapshot of a job for pollers.
type Status struct {
	ID      string            `json:"id"`
	State   JobState          `json:"state"`
	Current int               `json:"current"`
	Total   int               `json:"total"`
	Errors  map[string]string `json:"errors,omitempty"`
}

type job struct {
	mu      sync.Mutex
	id      string
	state   JobState
	current int
	total   int
	errors  map[string]string
}

func (j *job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make(map[string]string, len(j.errors))
	for k, v := range j.errors {
		errs[k] = v
	}
	return Status{ID: j.id, State: j.state, Current: j.current, Total: j.total, Errors: errs}
}

// Manager owns the batch workers and the job registry.
type Manager struct {
	store store.Store
	pipe  *pipeline.Pipeline
	log   zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	// submitting covers the window between Submit returning and the batch
	// holding a worker slot, so Wait sees jobs that are still queued.
	submitting sync.WaitGroup
	group      *errgroup.Group
}

// NewManager creates a Manager running at most maxConcurrent batches at a
// time.
func NewManager(s store.Store, p *pipeline.Pipeline, maxConcurrent int, log zerolog.Logger) *Manager {
	g := &errgroup.Group{}
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	return &Manager{
		store: s,
		pipe:  p,
		log:   log,
		jobs:  make(map[string]*job),
		group: g,
	}
}

// Submit queues a batch and returns its job ID immediately. The batch runs
// on a worker goroutine; poll Status with the returned ID.
func (m *Manager) Submit(ctx context.Context, files []File) string {
	j := &job{
		id:     uuid.NewString(),
		state:  StatePending,
		total:  len(files),
		errors: make(map[string]string),
	}
	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()

	// Acquiring a worker slot blocks while maxConcurrent batches are
	// running, so it happens off the caller's goroutine; the job stays
	// pending until a slot frees and Submit returns right away.
	m.submitting.Add(1)
	go func() {
		defer m.submitting.Done()
		m.group.Go(func() error {
			m.run(ctx, j, files)
			return nil
		})
	}()
	return j.id
}

// Status returns the snapshot for a job ID, or ErrNotFound for unknown IDs.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Status{}, store.ErrNotFound
	}
	return j.snapshot(), nil
}

// Wait blocks until all submitted batches finish, including ones still
// queued for a worker slot. Used on shutdown.
func (m *Manager) Wait() {
	m.submitting.Wait()
	_ = m.group.Wait()
}

func (m *Manager) run(ctx context.Context, j *job, files []File) {
	j.mu.Lock()
	j.state = StateRunning
	j.mu.Unlock()

	for i, file := range files {
		if ctx.Err() != nil {
			m.log.Error().Err(ctx.Err()).Str("job", j.id).Msg("batch aborted")
			j.mu.Lock()
			j.state = StateFailed
			j.mu.Unlock()
			return
		}

		j.mu.Lock()
		j.current = i + 1
		j.mu.Unlock()

		if err := m.ingestFile(ctx, file); err != nil {
			m.log.Error().Err(err).Str("file", file.Name).Msg("file ingestion failed")
			j.mu.Lock()
			j.errors[file.Name] = err.Error()
			j.mu.Unlock()
			continue
		}
		m.log.Info().Str("file", file.Name).Int("current", i+1).Int("total", len(files)).Msg("file ingested")
	}

	j.mu.Lock()
	j.state = StateDone
	j.mu.Unlock()
}

// ingestFile processes one file end to end inside its own storage
// transaction: nothing of a failed file is persisted.
func (m *Manager) ingestFile(ctx context.Context, file File) error {
	formatted := tokenize.FormatContent(file.Content)
	tokens := tokenize.Tokenize(formatted)
	if len(tokens) == 0 {
		return fmt.Errorf("file %s: no tokens", file.Name)
	}

	results := m.pipe.Annotate(ctx, tokens)
	seeds := make([]store.TokenSeed, 0, len(results))
	for _, r := range results {
		seeds = append(seeds, store.TokenSeed{
			Position:           r.Position,
			Text:               r.Text,
			IsWord:             r.IsWord,
			ToBeNormalized:     r.ToBeNormalized,
			TrailingWhitespace: r.Whitespace,
			Candidates:         r.Suggestions,
		})
	}

	doc := &models.Document{SourceFileName: path.Base(file.Name)}
	_, err := m.store.CreateDocument(ctx, doc, seeds)
	if err != nil {
		return fmt.Errorf("persist %s: %w", file.Name, err)
	}
	return nil
}

// ReadZipBatch extracts the batch files from a zip archive: plain-text
// members only, archive metadata entries skipped.
func ReadZipBatch(r io.ReaderAt, size int64) ([]File, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var files []File
	for _, member := range zr.File {
		name := member.Name
		if isMetadataEntry(name) || !strings.HasSuffix(strings.ToLower(name), ".txt") {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		files = append(files, File{Name: name, Content: string(content)})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("zip contains no text files")
	}
	return files, nil
}

// isMetadataEntry reports whether a zip member is archive metadata rather
// than batch content, such as __MACOSX resource forks and ._ AppleDouble
// files.
func isMetadataEntry(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, "__") || strings.HasPrefix(part, "._") {
			return true
		}
	}
	return false
}
