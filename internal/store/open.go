package store

import (
	"context"
	"fmt"
)

// Drivers accepted by [Open].
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds a store for driver. dsn is a directory for "file", a database
// path for "sqlite" and a connection string for "postgres"; it is ignored for
// "memory". The returned close function releases the backend.
func Open(ctx context.Context, driver, dsn string) (Store, func() error, error) {
	noop := func() error { return nil }
	switch driver {
	case "", DriverMemory:
		return NewMemory(), noop, nil
	case DriverFile:
		f, err := NewFile(dsn)
		if err != nil {
			return nil, nil, err
		}
		return f, noop, nil
	case DriverSQLite:
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case DriverPostgres:
		p, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return p, func() error { p.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
