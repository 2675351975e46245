package sqlite

import (
	"sync"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/curtisnewbie/evbus/util/strutil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type sqliteModule struct {
	mu       sync.Mutex
	sqliteDb *gorm.DB
}

var module = &sqliteModule{}

// Get SQLite client.
func (m *sqliteModule) sqlite() *gorm.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sqliteDb == nil {
		panic("SQLite connection hasn't been initialized yet")
	}
	if core.IsDebugLevel() {
		return m.sqliteDb.Debug()
	}
	return m.sqliteDb
}

func (m *sqliteModule) init(rail core.Rail, path string, wal bool) (*gorm.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sqliteDb != nil {
		return m.sqliteDb, nil
	}
	sq, err := NewConn(rail, path, wal)
	if err != nil {
		return nil, err
	}
	m.sqliteDb = sq
	return sq, nil
}

// Get SQLite client.
//
// Must call InitSqliteFromProp(...) method before this method.
func GetDB() *gorm.DB {
	return module.sqlite()
}

// Whether SQLite file is configured.
func IsConfigured() bool {
	return !strutil.IsBlankStr(core.GetPropStr(PropSqliteFile))
}

// Initialize SQLite connection from configuration, current func call is ignored if it's been initialized.
func InitSqliteFromProp(rail core.Rail) (*gorm.DB, error) {
	return module.init(rail, core.GetPropStr(PropSqliteFile), core.GetPropBool(PropSqliteWalEnabled))
}

// Create new SQLite connection.
func NewConn(rail core.Rail, path string, wal bool) (*gorm.DB, error) {
	rail.Infof("Connecting to SQLite database '%s', enable WAL: %v", path, wal)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, errs.WrapErrf(err, "failed to open SQLite")
	}

	tx, err := db.DB()
	if err != nil {
		return nil, errs.WrapErrf(err, "failed to connect SQLite")
	}

	// make sure the handle is actually connected
	if err = tx.Ping(); err != nil {
		return nil, errs.WrapErrf(err, "failed to ping SQLite")
	}
	rail.Infof("SQLite connected: '%s'", path)

	// https://www.sqlite.org/pragma.html#pragma_journal_mode
	if wal {
		rail.Debug("Enabling SQLite WAL mode")
		var mode string
		t := db.Raw("PRAGMA journal_mode=WAL").Scan(&mode)
		if err := t.Error; err != nil {
			return db, errs.WrapErrf(err, "failed to enable WAL mode")
		}
		rail.Debugf("Enabled SQLite WAL mode, result: %v", mode)
	}

	return db, nil
}
