package annotext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("run command with flags", func(t *testing.T) {
		cmd, config, err := Parse([]string{"-port", "8090", "-dict", "words.txt", "run"})
		require.NoError(t, err)
		assert.Equal(t, "run", cmd.Name())
		assert.Equal(t, "8090", config.ServerPort)
		assert.Equal(t, "words.txt", config.DictPath)
	})

	t.Run("migrate command", func(t *testing.T) {
		cmd, _, err := Parse([]string{"migrate"})
		require.NoError(t, err)
		assert.IsType(t, &MigrateCommand{}, cmd)
	})

	t.Run("ingest requires a zip path", func(t *testing.T) {
		_, _, err := Parse([]string{"ingest"})
		require.Error(t, err)

		cmd, _, err := Parse([]string{"-zip", "batch.zip", "ingest"})
		require.NoError(t, err)
		ingestCmd, ok := cmd.(*IngestCommand)
		require.True(t, ok)
		assert.Equal(t, "batch.zip", ingestCmd.ZipPath)
	})

	t.Run("missing subcommand", func(t *testing.T) {
		_, _, err := Parse(nil)
		assert.Error(t, err)
	})

	t.Run("unknown subcommand", func(t *testing.T) {
		_, _, err := Parse([]string{"frobnicate"})
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("ANNOTEXT_PORT", "")
		t.Setenv("ANNOTEXT_POSTGRES_DSN", "")
		_, config, err := Parse([]string{"run"})
		require.NoError(t, err)
		assert.Equal(t, "8080", config.ServerPort)
		assert.Contains(t, config.PostgresDSN, "postgres://")
	})
}
