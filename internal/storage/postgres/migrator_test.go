package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrationsFromFS_SortsByVersion(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(fstest.MapFS{
		"sql/migrations/0002_outbox.up.sql":   migrationFile("CREATE TABLE outbox (id INT);"),
		"sql/migrations/0002_outbox.down.sql": migrationFile("DROP TABLE outbox;"),
		"sql/migrations/0001_offers.up.sql":   migrationFile("CREATE TABLE offers (id INT);"),
		"sql/migrations/0001_offers.down.sql": migrationFile("DROP TABLE offers;"),
	})
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "0001_offers", migrations[0].label())
	assert.Equal(t, "0002_outbox", migrations[1].label())
	assert.Equal(t, "DROP TABLE offers;", migrations[0].body(migrationDown))
	assert.Equal(t, "CREATE TABLE outbox (id INT);", migrations[1].body(migrationUp))
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name: "up without down",
			fsys: fstest.MapFS{
				"sql/migrations/0001_offers.up.sql": migrationFile("CREATE TABLE offers (id INT);"),
			},
			wantErr: "both up and down",
		},
		{
			name: "bad file name",
			fsys: fstest.MapFS{
				"sql/migrations/offers.sql": migrationFile("SELECT 1;"),
			},
		},
		{
			name: "blank body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_offers.up.sql":   migrationFile(" \n\t"),
				"sql/migrations/0001_offers.down.sql": migrationFile("DROP TABLE offers;"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrationsFromFS(tt.fsys)
			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "0001_offers", migrations[0].label())
}

func TestPlan(t *testing.T) {
	t.Parallel()

	all := []migration{
		{Version: 1, Name: "offers"},
		{Version: 2, Name: "outbox_idempotency"},
		{Version: 3, Name: "indexes"},
	}
	labels := func(ms []migration) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.label())
		}
		return out
	}

	tests := []struct {
		name      string
		applied   map[int64]bool
		direction migrationDirection
		steps     int
		want      []string
	}{
		{
			name:      "up applies everything pending in order",
			applied:   map[int64]bool{1: true},
			direction: migrationUp,
			want:      []string{"0002_outbox_idempotency", "0003_indexes"},
		},
		{
			name:      "up respects steps",
			applied:   map[int64]bool{},
			direction: migrationUp,
			steps:     1,
			want:      []string{"0001_offers"},
		},
		{
			name:      "down rolls back newest first",
			applied:   map[int64]bool{1: true, 2: true},
			direction: migrationDown,
			steps:     1,
			want:      []string{"0002_outbox_idempotency"},
		},
		{
			name:      "nothing to apply",
			applied:   map[int64]bool{1: true, 2: true, 3: true},
			direction: migrationUp,
			want:      []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labels(plan(all, tt.applied, tt.direction, tt.steps)))
		})
	}
}
