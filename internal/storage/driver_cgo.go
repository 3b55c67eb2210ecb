//go:build !purego

package storage

// Default build: CGO SQLite through github.com/mattn/go-sqlite3.
//
//	CGO_ENABLED=1 go build ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver registered by this build.
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)

// dsn enables foreign keys, WAL and a busy timeout on every pooled connection.
func dsn(path string) string {
	return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}
