package annotext

// Command represents a discrete application operation with its specific
// configuration. Commands are produced by Parse from command line arguments
// and executed by Main through the matching [App] method.
//
// Current command implementations:
//   - [RunCommand]: HTTP server startup and operation
//   - [MigrateCommand]: database schema migration
//   - [IngestCommand]: one-shot batch ingestion of a zip archive
type Command interface {
	// Name returns the command identifier used for routing to the
	// appropriate handler. It matches the CLI sub-command name.
	Name() string
}

// RunCommand starts the HTTP server that exposes the annotation API: document
// listing and detail, normalization overlays, whitelist management, bulk
// assignment, exports, and ingestion jobs. The server runs until its context
// is cancelled and then shuts down gracefully.
type RunCommand struct {
	// Currently empty - all configuration comes from App.Config.
}

// Name returns "run".
func (c *RunCommand) Name() string {
	return "run"
}

// MigrateCommand initializes or updates the database schema to match the
// current data model. It only performs structural changes (tables, columns,
// indexes, the token/suggestion join table) and is safe to run repeatedly.
type MigrateCommand struct {
	// Currently empty - all configuration comes from App.Config.
}

// Name returns "migrate".
func (c *MigrateCommand) Name() string {
	return "migrate"
}

// IngestCommand runs a batch ingestion without starting the server: every
// .txt member of the zip archive is tokenized, run through the suggestion
// pipeline, and persisted as a new document. Files are processed
// sequentially; a failed file is reported and the batch continues.
type IngestCommand struct {
	// ZipPath is the archive to ingest. Required.
	ZipPath string
}

// Name returns "ingest".
func (c *IngestCommand) Name() string {
	return "ingest"
}
