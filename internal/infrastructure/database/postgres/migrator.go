package postgres

import (
	"database/sql"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
)

// Migrator applies SQL schema migrations.  It opens its own short-lived
// database/sql connection via the pgx stdlib driver; the pgx pool used by the
// repositories is not involved.
type Migrator struct {
	cfg    config.DatabaseConfig
	logger logging.Logger
}

// NewMigrator constructs a Migrator.
func NewMigrator(cfg config.DatabaseConfig, logger logging.Logger) *Migrator {
	return &Migrator{cfg: cfg, logger: logger.Named("migrator")}
}

// Up applies all pending migrations from the configured migration directory.
func (m *Migrator) Up() error {
	db, err := sql.Open("pgx", BuildDSN(m.cfg))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to open migration connection")
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migration driver")
	}

	mig, err := migrate.NewWithDatabaseInstance(
		"file://"+m.cfg.MigrationPath,
		"postgres",
		driver,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migrate instance")
	}

	if err := mig.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to run migrations")
	}

	version, dirty, err := mig.Version()
	if err != nil && err != migrate.ErrNilVersion {
		m.logger.Warn("failed to read migration version", logging.Err(err))
		return nil
	}

	m.logger.Info("database migrations applied",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}
