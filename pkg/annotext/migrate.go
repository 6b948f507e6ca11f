package annotext

import (
	"context"
	"fmt"

	"github.com/annotext/annotext/pkg/ingest"
)

// Migrate applies the database schema: creates missing tables and indexes and
// registers the token/suggestion join table. Safe to run multiple times.
func (a *App) Migrate(ctx context.Context, cmd *MigrateCommand) error {
	a.log.Info().Msg("running database migrations")
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	a.log.Info().Msg("migrations complete")
	return nil
}

// Ingest runs a single batch ingestion to completion. Unlike the server's
// asynchronous job endpoint it blocks until every file in the archive has
// been processed, then reports per-file failures.
func (a *App) Ingest(ctx context.Context, cmd *IngestCommand) error {
	files, err := readZipFile(cmd.ZipPath)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("archive %s contains no text files", cmd.ZipPath)
	}

	jobID := a.ingest.Submit(ctx, files)
	a.ingest.Wait()

	status, err := a.ingest.Status(jobID)
	if err != nil {
		return err
	}
	for _, fileErr := range status.Errors {
		a.log.Error().Str("error", fileErr).Msg("file failed")
	}
	a.log.Info().
		Int("processed", status.Current).
		Int("total", status.Total).
		Int("failed", len(status.Errors)).
		Msg("batch ingestion finished")

	if status.State == ingest.StateFailed {
		return fmt.Errorf("batch aborted after %d of %d files", status.Current, status.Total)
	}
	return nil
}
