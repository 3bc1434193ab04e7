package database

import (
	"fmt"
	stdlog "log"
	"time"

	"locshare/backend/internal/logging"
	"locshare/backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// activePairIndex keeps at most one pending or accepted edge per unordered
// pair, backing the existence check done before insert.
const activePairIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_friendships_active_pair
ON friendships (LEAST(user_id, friend_id), GREATEST(user_id, friend_id))
WHERE status IN ('pending', 'accepted')`

// ownerKeys ties each user-owned table to profiles. gorm reads these
// user_id associations as has-one, so it never creates the keys itself.
var ownerKeys = []struct{ table, name string }{
	{"user_locations", "fk_user_locations_profile"},
	{"friendships", "fk_friendships_user"},
	{"emergency_contacts", "fk_emergency_contacts_profile"},
}

func ownerKeySQL(table, name string) string {
	return fmt.Sprintf(`DO $$ BEGIN
ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (user_id)
REFERENCES profiles (user_id) ON UPDATE CASCADE ON DELETE CASCADE;
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`, table, name)
}

// Connect opens the database connection and runs migrations.
func Connect(dsn string) (*gorm.DB, error) {
	zl := logging.Logger()
	gormLogger := logger.New(
		stdlog.New(&zl, "", 0),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logging.Info().Msg("database connection established")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	logging.Info().Msg("database migrated")

	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Profile{},
		&models.FriendshipEdge{},
		&models.LocationRecord{},
		&models.EmergencyContact{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if err := db.Exec(activePairIndex).Error; err != nil {
		return fmt.Errorf("create active pair index: %w", err)
	}
	for _, k := range ownerKeys {
		if err := db.Exec(ownerKeySQL(k.table, k.name)).Error; err != nil {
			return fmt.Errorf("create %s: %w", k.name, err)
		}
	}
	return nil
}
