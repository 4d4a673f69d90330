//go:build cgo && sqlite3_cgo

package db

// Built with -tags sqlite3_cgo to link the system sqlite instead.
import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)
