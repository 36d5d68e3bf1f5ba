package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrConstraint means a primary key or unique index value already exists.
	ErrConstraint = errors.New("constraint violation")

	// ErrUnknownCollection means the collection is not declared in the schema.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrUnknownIndex means the index is not declared on the collection.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrInvalidKey means a key is missing or is not a String or Int.
	ErrInvalidKey = errors.New("invalid key")

	// ErrClosed means the store was closed or deleted.
	ErrClosed = errors.New("store closed")
)

// Error wraps a failed store operation.
type Error struct {
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// VersionError is returned when the database on disk was written by a
// newer schema than the one being opened.
type VersionError struct {
	Stored   int
	Declared int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("store: stored version %d is newer than declared version %d", e.Stored, e.Declared)
}

func wrapErr(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Collection: collection, Err: classify(err)}
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// retry runs fn up to retryAttempts times while it fails with SQLITE_BUSY
// or SQLITE_LOCKED, backing off linearly between attempts.
func retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}
