// Package store is the entity store shared by the API, the scheduler and the alert rules.
// Every method is one unit of work; status transitions are conditional updates so concurrent
// writers cannot move a record out of a final state.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"gorm.io/gorm"
)

// Store wraps the gorm handle.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return classify(err)
	}
	return classify(sqlDB.PingContext(ctx))
}

var transientMarkers = []string{
	"database is locked",
	"connection refused",
	"connection reset",
	"broken pipe",
	"too many connections",
	"the database system is starting up",
	"i/o timeout",
}

// duplicateMarkers catch unique violations the dialector did not translate.
var duplicateMarkers = []string{
	"unique constraint failed",
	"duplicate key value violates unique constraint",
}

// classify maps driver failures onto the apperr taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict("duplicate record")
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone):
		return apperr.Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient(err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range duplicateMarkers {
		if strings.Contains(msg, marker) {
			return apperr.Conflict("duplicate record")
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return apperr.Transient(err)
		}
	}
	return err
}

func notFound(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(entity, id)
	}
	return classify(err)
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
