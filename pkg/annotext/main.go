package annotext

import (
	"context"
	"fmt"

	"github.com/annotext/annotext/pkg/logger"
)

// Main is the entry point for the annotext application. It parses the
// arguments, builds the [App], and executes the requested command. Tests can
// call it directly without building the binary; the context enables graceful
// shutdown of the server command.
//
// # Environment Variables
//
//	ANNOTEXT_POSTGRES_DSN  - PostgreSQL connection string
//	ANNOTEXT_PORT          - server port (default 8080)
//	ANNOTEXT_DICT          - dictionary word list path
//	ANNOTEXT_SPELL         - spellchecker word list path
//	ANNOTEXT_MODEL_URL     - masked language model server URL
//	ANNOTEXT_LOG_FILE      - JSON log file path (console logging when unset)
func Main(ctx context.Context, args []string) error {
	cmd, config, err := Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	logBuilder := logger.New()
	if config.LogFile != "" {
		logBuilder.ToFile(config.LogFile)
	}
	log, err := logBuilder.Make()
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer log.Close()

	app, err := New(config, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	switch c := cmd.(type) {
	case *MigrateCommand:
		if err := app.Migrate(ctx, c); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case *RunCommand:
		if err := app.Run(ctx, c); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case *IngestCommand:
		if err := app.Ingest(ctx, c); err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}

	return nil
}
