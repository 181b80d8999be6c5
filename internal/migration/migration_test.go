package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplySQLiteSchemaIsIdempotent(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Apply(conn))
	require.NoError(t, Apply(conn))

	for _, table := range []string{
		"project_memberships",
		"quota_schemes",
		"quota_cells",
		"sample_contacts",
		"dialer_assignments",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestOpenReservationIsUniquePerSample(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, ApplySQLiteSchema(conn))

	require.NoError(t, conn.Exec(`INSERT INTO quota_schemes (id, project_id, name, code) VALUES (1, 1, 'w', 'w')`).Error)
	require.NoError(t, conn.Exec(`INSERT INTO quota_cells (id, scheme_id, selector_key, target) VALUES (1, 1, 'k', 1)`).Error)
	require.NoError(t, conn.Exec(`INSERT INTO sample_contacts (id, project_id, phone) VALUES (1, 1, '0800')`).Error)

	insert := `INSERT INTO dialer_assignments (id, project_id, scheme_id, cell_id, sample_id, interviewer_id, status, reserved_at, expires_at)
		VALUES (?, 1, 1, 1, 1, 9, ?, '2025-01-01 00:00:00', '2025-01-01 00:15:00')`
	require.NoError(t, conn.Exec(insert, 1, "CANCELLED").Error)
	require.NoError(t, conn.Exec(insert, 2, "RESERVED").Error)
	assert.Error(t, conn.Exec(insert, 3, "RESERVED").Error)

	// RESTRICT keeps a sample with history from being deleted.
	assert.Error(t, conn.Exec(`DELETE FROM sample_contacts WHERE id = 1`).Error)
}
