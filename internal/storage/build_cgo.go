//go:build sqlite_vec && !purego
// +build sqlite_vec,!purego

package storage

// Compiled with the sqlite_vec tag: the cgo driver, for deployments that
// already link SQLite extensions.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
