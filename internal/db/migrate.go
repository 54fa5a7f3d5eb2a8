package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/router-for-me/throttlegate/internal/models"
	internalsettings "github.com/router-for-me/throttlegate/internal/settings"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgres creates the tables and the live token index.
func migratePostgres(conn *gorm.DB) error {
	if errTables := migrateTables(conn); errTables != nil {
		return errTables
	}
	return ensureThrottleSettings(conn)
}

// migrateSQLite creates the tables and rewrites setting values that an older
// schema stored with numeric affinity.
func migrateSQLite(conn *gorm.DB) error {
	if errTables := migrateTables(conn); errTables != nil {
		return errTables
	}
	if errFix := conn.Exec(`
		UPDATE settings
		SET value = CAST(value AS TEXT)
		WHERE value IS NOT NULL AND typeof(value) <> 'text'
	`).Error; errFix != nil {
		return fmt.Errorf("db: normalize sqlite setting values: %w", errFix)
	}
	return ensureThrottleSettings(conn)
}

func migrateTables(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.AccessToken{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_access_tokens_live
		ON access_tokens (user_id)
		WHERE revoked_at IS NULL
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create live token index: %w", errIndex)
	}
	return nil
}

// ensureThrottleSettings seeds every throttle setting with its default.
func ensureThrottleSettings(conn *gorm.DB) error {
	for _, category := range internalsettings.Categories {
		if errSeed := ensureBoolSetting(conn,
			internalsettings.ThrottleKey(category, internalsettings.FieldEnabled),
			internalsettings.DefaultThrottleEnabled); errSeed != nil {
			return errSeed
		}
		if errSeed := ensureIntSetting(conn,
			internalsettings.ThrottleKey(category, internalsettings.FieldRequestsPerPeriod),
			internalsettings.DefaultRequests(category)); errSeed != nil {
			return errSeed
		}
		if errSeed := ensureIntSetting(conn,
			internalsettings.ThrottleKey(category, internalsettings.FieldPeriodInSeconds),
			internalsettings.DefaultPeriodInSeconds); errSeed != nil {
			return errSeed
		}
	}
	return nil
}

// ensureIntSetting ensures an integer setting exists and defaults when empty.
func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	return ensureSetting(conn, key, value)
}

// ensureBoolSetting ensures a boolean setting exists and defaults when empty.
func ensureBoolSetting(conn *gorm.DB, key string, value bool) error {
	return ensureSetting(conn, key, value)
}

func ensureSetting(conn *gorm.DB, key string, value any) error {
	raw, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	payload := models.SettingValue(raw)

	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      payload,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	setting := models.Setting{
		Key:       key,
		Value:     payload,
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		if IsUniqueViolation(errCreate) {
			return nil
		}
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
