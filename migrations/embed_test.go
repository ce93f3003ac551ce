package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups[strings.TrimSuffix(n, ".up.sql")] = true
		case strings.HasSuffix(n, ".down.sql"):
			downs[strings.TrimSuffix(n, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %s", n)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestSchemaCarriesIdempotencyIndexes(t *testing.T) {
	raw, err := fs.ReadFile(FS, "000002_appointments.up.sql")
	require.NoError(t, err)
	sql := string(raw)
	for _, idx := range []string{"uq_appointments_code", "uq_appointments_previous", "uq_appointments_replaces", "uq_appointments_series_date"} {
		assert.Contains(t, sql, idx)
	}
}
