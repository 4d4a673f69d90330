//go:build !sqlite3_cgo

package db

// Pure Go build: sqlite is compiled to WASM and embedded, so the cache works
// on any GOOS/GOARCH without a C toolchain.
import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
