package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Wikid82/warden/internal/models"
)

// activeBlockIndex keeps at most one active block per IP while letting inactive history rows
// for the same IP accumulate.
const activeBlockIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_block_records_active_ip ON block_records(ip_address) WHERE is_active = 1`

// Connect opens the SQLite database at dbPath with WAL journaling and a busy timeout.
// Constraint violations come back as gorm.ErrDuplicatedKey.
func Connect(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(withPragmas(dbPath)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	// SQLite has a single writer; one connection queues transactions instead of failing
	// them with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

// Models lists every persisted record kind.
func Models() []any {
	return []any{
		&models.AttackEvent{},
		&models.ResponseRule{},
		&models.BlockRecord{},
		&models.LockRecord{},
		&models.SecurityAction{},
		&models.FailedLoginAttempt{},
		&models.User{},
		&models.SecuritySetting{},
	}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(activeBlockIndex).Error; err != nil {
		return fmt.Errorf("create active block index: %w", err)
	}
	return nil
}
