package database

import (
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New creates a GORM database connection.
// When databaseURL is provided PostgreSQL is used, otherwise SQLite at sqlitePath.
func New(databaseURL, sqlitePath string, log *zap.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormConfig := newConfig(log)

	if databaseURL != "" {
		db, err = gorm.Open(postgres.Open(databaseURL), gormConfig)
	} else {
		db, err = gorm.Open(sqlite.Open(sqliteDSN(sqlitePath)), gormConfig)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logBackend(db, sqlitePath, log)
	return db, nil
}

// Config is the gorm configuration shared by the service and tests. Timestamps are written
// in UTC and driver errors are translated to gorm sentinels. gorm's warnings go to the global
// zap logger.
func Config() *gorm.Config {
	return newConfig(zap.L())
}

func newConfig(log *zap.Logger) *gorm.Config {
	return &gorm.Config{
		Logger:         gormLogger(zap.NewStdLog(log.Named("gorm"))),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// gormLogger reports slow queries and errors. Lookups that find nothing are a normal outcome
// for the store, so record-not-found is not logged.
func gormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Migrate creates or updates every care table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	// busy_timeout keeps API writes from failing while a tick holds the write lock.
	return path + "?_fk=1&_busy_timeout=5000"
}

func logBackend(db *gorm.DB, sqlitePath string, log *zap.Logger) {
	dialector := db.Dialector.Name()
	switch strings.ToLower(dialector) {
	case "postgres":
		log.Info("database: connected to PostgreSQL")
	case "sqlite":
		log.Info("database: using SQLite", zap.String("path", sqlitePath))
	default:
		log.Info("database: connected", zap.String("dialector", dialector))
	}
}
