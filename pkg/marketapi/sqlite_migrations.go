package marketapi

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// DBMigrationsPath is a migrate source URL, e.g. file://migrations.
	DBMigrationsPath string
	DBPath           string
}

// dsn enables foreign keys and makes every transaction take the write lock
// up front, so concurrent orders on one market serialize instead of
// deadlocking on lock upgrade.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=10000&_txlock=immediate", path)
}

func EnsureMigrations(cfg *Config) error {
	sqliteDb, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(sqliteDb, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.DBMigrationsPath, cfg.DBPath, driver)
	if err != nil {
		return err
	}
	log.Info().Str("path", cfg.DBPath).Msg("bringing-up-migrations")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	e1, e2 := m.Close()
	log.Err(e1).Msg("close-source")
	log.Err(e2).Msg("close-database")
	return nil
}
