package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"cartograph/internal/domain"
	"cartograph/internal/repository"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullToStringPtr converts sql.NullString to *string, nil when NULL
func nullToStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		s := ns.String
		return &s
	}
	return nil
}

// nullToID converts a nullable foreign key to an id, zero when NULL
func nullToID(ni sql.NullInt64) int64 {
	if ni.Valid {
		return ni.Int64
	}
	return 0
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// stringPtrToNull converts *string to sql.NullString
func stringPtrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// idToNull stores a zero id as NULL
func idToNull(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

// ============================================================================
// Time Helpers
// ============================================================================

// Timestamps are stored as RFC3339 text so they sort lexically

func timeToText(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func textToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTextToTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := textToTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ============================================================================
// Error Mapping
// ============================================================================

// wrapErr classifies a driver error. Unique and primary key violations
// become repository.ErrConflict, everything else domain.ErrRepositoryUnavailable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("failed to %s: %w: %w", op, repository.ErrConflict, err)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrRepositoryUnavailable, err)
}

func isConstraintViolation(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound for by-id getters
func notFound(kind domain.Kind, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, domain.ErrNotFound)
	}
	return wrapErr("get "+string(kind), err)
}

// ============================================================================
// Query Helpers
// ============================================================================

// numberedParams returns "?from, ?from+1, ..." for n parameters
func numberedParams(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("?%d", from+i)
	}
	return strings.Join(parts, ", ")
}

// toArgs converts keys into query arguments
func toArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

// dedupeKeys drops empty and repeated keys, keeping first-seen order
func dedupeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
