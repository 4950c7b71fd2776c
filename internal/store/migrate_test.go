package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsFindsCoreSchema(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, "0001_core", migrations[0].ID)
	for _, table := range []string{"work_items", "work_ledger", "queue_messages", "skill_activations", "skill_provenance"} {
		assert.True(t, strings.Contains(migrations[0].UpSQL, table), "migration should create %s", table)
	}
}
