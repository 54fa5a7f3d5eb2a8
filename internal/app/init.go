package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/router-for-me/throttlegate/internal/clock"
	"github.com/router-for-me/throttlegate/internal/config"
	"github.com/router-for-me/throttlegate/internal/db"
	"github.com/router-for-me/throttlegate/internal/identity"
	"github.com/router-for-me/throttlegate/internal/security"
)

// minAdminPasswordLength is the shortest bootstrap admin password accepted.
const minAdminPasswordLength = 6

// ErrAdminPasswordTooShort rejects weak bootstrap passwords.
var ErrAdminPasswordTooShort = fmt.Errorf("admin password must be at least %d characters", minAdminPasswordLength)

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// EnsureAdminUser creates the bootstrap admin when no admin exists yet.
// It reports whether an account was created.
func EnsureAdminUser(ctx context.Context, conn *gorm.DB, username, password string) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("open database: nil connection")
	}
	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return false, fmt.Errorf("check admin status: %w", errInit)
	}
	if initialized {
		return false, nil
	}

	username = strings.TrimSpace(username)
	if username == "" {
		log.Warn("no admin account exists; set admin.username and admin.password to create one")
		return false, nil
	}
	if len(password) < minAdminPasswordLength {
		return false, ErrAdminPasswordTooShort
	}

	store := identity.NewStore(conn, clock.System{})
	if _, errCreate := store.CreateUser(ctx, username, password, true); errCreate != nil {
		return false, fmt.Errorf("create admin: %w", errCreate)
	}
	log.Infof("created admin account %q", username)
	return true, nil
}

// ensureJWTSecret returns secret, or a random one when it is empty.
func ensureJWTSecret(secret string) string {
	if strings.TrimSpace(secret) != "" {
		return secret
	}
	generated, err := security.GenerateRandomString(32)
	if err != nil {
		log.WithError(err).Error("generate jwt secret failed")
		return ""
	}
	log.Warn("jwt secret not configured; generated an ephemeral one, sessions end on restart")
	return generated
}

var errMissingJWTSecret = errors.New("jwt secret is empty")

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, appCfg config.AppConfig) error {
	cfg, err := config.Load(config.ResolveConfigPath(appCfg.ConfigPath))
	if err != nil {
		return err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	}()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	_, errAdmin := EnsureAdminUser(ctx, conn, cfg.Admin.Username, cfg.Admin.Password)
	return errAdmin
}
