package store

import (
	"fmt"
	"strconv"
	"time"
)

// Dialect captures the few places where Postgres and SQLite differ.
type Dialect struct {
	Name        string
	placeholder func(n int) string
	uuidType    string
	timeType    string
	encodeTime  func(time.Time) any
}

var (
	Postgres = Dialect{
		Name:        "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		uuidType:    "UUID",
		timeType:    "TIMESTAMPTZ",
		encodeTime:  func(t time.Time) any { return t.UTC() },
	}
	SQLite = Dialect{
		Name:        "sqlite",
		placeholder: func(n int) string { return "?" + strconv.Itoa(n) },
		uuidType:    "TEXT",
		timeType:    "INTEGER",
		encodeTime:  func(t time.Time) any { return t.UTC().UnixMicro() },
	}
)

// DialectFor maps a DB_DRIVER value to its dialect.
func DialectFor(driverName string) (Dialect, error) {
	switch driverName {
	case "postgres":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("no SQL dialect for driver %q", driverName)
	}
}

// dbTime scans either a native timestamp or unix microseconds.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
	case int64:
		t.Time = time.UnixMicro(v).UTC()
	case nil:
		t.Time = time.Time{}
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}
