// Package storetest opens throwaway in-memory stores for tests.
package storetest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pathakanu/carely/internal/database"
	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New returns a migrated Store on a private in-memory SQLite database.
func New(t testing.TB) *store.Store {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), database.Config())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// shared-cache memory databases vanish with their last connection
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return store.New(db)
}

var phoneSeq atomic.Int64

// Patient creates an active patient with a WhatsApp contact channel.
func Patient(t testing.TB, s *store.Store, name string) *model.User {
	t.Helper()
	user := &model.User{
		Name:           name,
		Role:           model.RolePatient,
		ContactChannel: fmt.Sprintf("whatsapp:+1555%07d", phoneSeq.Add(1)),
	}
	if err := s.CreateUser(t.Context(), user); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return user
}
