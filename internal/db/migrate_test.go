package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(MigrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file in migrations: %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitialSchemaCarriesQueueConstraints(t *testing.T) {
	raw, err := fs.ReadFile(MigrationsFS, "migrations/000001_init.up.sql")
	require.NoError(t, err)
	schema := string(raw)

	for _, want := range []string{
		"queue_entries_appointment_id_key UNIQUE (appointment_id)",
		"queue_entries_clinic_day_number_key UNIQUE (clinic_location, day, queue_number)",
		"uq_queue_entries_room_in_treatment",
		"uq_queue_entries_dentist_in_treatment",
		"PRIMARY KEY (clinic_location, day)",
	} {
		assert.Contains(t, schema, want)
	}
}
