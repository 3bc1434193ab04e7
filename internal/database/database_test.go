package database

import (
	"sync"
	"testing"

	"locshare/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestOwnerKeys_CoverUserOwnedTables(t *testing.T) {
	cache := &sync.Map{}
	tables := make(map[string]bool)
	for _, k := range ownerKeys {
		tables[k.table] = true
	}

	for _, m := range []any{&models.LocationRecord{}, &models.FriendshipEdge{}, &models.EmergencyContact{}} {
		s, err := schema.Parse(m, cache, schema.NamingStrategy{})
		require.NoError(t, err)
		assert.True(t, tables[s.Table], "no owner key for %s", s.Table)
		require.NotNil(t, s.LookUpField("UserID"))
	}
}

func TestOwnerKeySQL(t *testing.T) {
	sql := ownerKeySQL("user_locations", "fk_user_locations_profile")

	assert.Contains(t, sql, "ALTER TABLE user_locations ADD CONSTRAINT fk_user_locations_profile FOREIGN KEY (user_id)")
	assert.Contains(t, sql, "REFERENCES profiles (user_id) ON UPDATE CASCADE ON DELETE CASCADE")
	// Re-running a migration must not fail on an existing key.
	assert.Contains(t, sql, "EXCEPTION WHEN duplicate_object THEN NULL")
}
