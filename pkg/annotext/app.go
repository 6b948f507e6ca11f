// Package annotext wires the annotation engine together: configuration,
// application state, HTTP interface, and the CLI entry points.
package annotext

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/pkg/export"
	"github.com/annotext/annotext/pkg/ingest"
	"github.com/annotext/annotext/pkg/pipeline"
	"github.com/annotext/annotext/pkg/store"
	"github.com/annotext/annotext/pkg/store/postgres"
)

// Config holds application configuration. Values come from flags with
// environment fallbacks; see Parse.
type Config struct {
	PostgresDSN string
	ServerPort  string

	// DictPath and SpellPath are word-per-line dictionary files backing the
	// two checkers. Either may be empty, which leaves that checker with an
	// empty dictionary (it then rejects everything and suggests nothing).
	DictPath  string
	SpellPath string

	// ModelURL points at the masked language model server. Empty disables
	// contextual predictions; the pipeline degrades to dictionary-only.
	ModelURL string

	// MaxIngestJobs bounds how many ingestion batches run concurrently.
	MaxIngestJobs int

	// LogFile, when set, switches logging from console output to JSON lines
	// appended to this path.
	LogFile string
}

// App holds the application state: one store handle, one pipeline with its
// lazily-loaded checker resources, one ingest manager. Constructed once and
// passed by reference; nothing here is package-global.
type App struct {
	store    store.Store
	pipeline *pipeline.Pipeline
	ingest   *ingest.Manager
	exporter *export.Exporter
	config   *Config
	log      zerolog.Logger
}

// New creates the application: connects to the store, loads the checker
// dictionaries, and prepares the ingest workers.
func New(config *Config, log zerolog.Logger) (*App, error) {
	pgStore, err := postgres.NewPostgresStore(config.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	log.Info().Msg("connected to PostgreSQL")

	dict, err := loadChecker(config.DictPath, func(p string) (pipeline.Checker, error) {
		return pipeline.LoadWordlist(p)
	})
	if err != nil {
		return nil, err
	}
	spell, err := loadChecker(config.SpellPath, func(p string) (pipeline.Checker, error) {
		return pipeline.LoadEditDistanceChecker(p)
	})
	if err != nil {
		return nil, err
	}

	var model pipeline.ContextModel
	if config.ModelURL != "" {
		model = pipeline.NewMaskedLMClient(config.ModelURL)
		log.Info().Str("url", config.ModelURL).Msg("contextual model enabled")
	} else {
		log.Warn().Msg("no model URL configured; running dictionary-only")
	}

	pipe := pipeline.New(dict, spell, model, log)
	app := &App{
		store:    pgStore,
		pipeline: pipe,
		ingest:   ingest.NewManager(pgStore, pipe, config.MaxIngestJobs, log),
		exporter: export.New(pgStore),
		config:   config,
		log:      log,
	}
	return app, nil
}

func loadChecker(path string, load func(string) (pipeline.Checker, error)) (pipeline.Checker, error) {
	if path == "" {
		return pipeline.NewWordlist(nil), nil
	}
	c, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("load dictionary %s: %w", path, err)
	}
	return c, nil
}

// Close releases the application's resources after draining in-flight
// ingestion batches.
func (a *App) Close() error {
	a.ingest.Wait()
	return a.store.Close()
}

// Store returns the underlying store. Used by tests and the CLI.
func (a *App) Store() store.Store {
	return a.store
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
