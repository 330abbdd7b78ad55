// Package blocklist stores the values a user never wants suggested again.
//
// Entries are a set per (user, category): adding a present value and
// removing an absent one are both no-ops. Blocking is independent of the
// user's mode/frequency/threshold tier and survives a reset to team defaults.
package blocklist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/runger/tidum/internal/suggestions/policy"
)

// MaxValueLen bounds a blocked value.
const MaxValueLen = 1024

// Execer is satisfied by *sql.DB and *sql.Tx so that the feedback recorder
// can block a value inside its own transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var errRequiredFields = errors.New("user_id and value are required")

// Validate checks an entry before it is written.
func Validate(userID string, category policy.Category, value string) error {
	if userID == "" || strings.TrimSpace(value) == "" {
		return errRequiredFields
	}
	if !category.IsValid() {
		return &policy.ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", category)}
	}
	if len(value) > MaxValueLen {
		return &policy.ValidationError{Field: "value", Message: fmt.Sprintf("exceeds max length %d", MaxValueLen)}
	}
	return nil
}

// Add inserts value into the user's blocked set for category.
// It reports whether the set changed.
func Add(ctx context.Context, ex Execer, userID string, category policy.Category, value string, now time.Time) (bool, error) {
	if err := Validate(userID, category, value); err != nil {
		return false, err
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO suggestion_blocklist (user_id, category, value, created_at_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, category, value) DO NOTHING`,
		userID, string(category), value, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to insert blocklist entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Remove deletes value from the user's blocked set for category.
// It reports whether the set changed.
func Remove(ctx context.Context, ex Execer, userID string, category policy.Category, value string) (bool, error) {
	if err := Validate(userID, category, value); err != nil {
		return false, err
	}
	res, err := ex.ExecContext(ctx,
		"DELETE FROM suggestion_blocklist WHERE user_id = ? AND category = ? AND value = ?",
		userID, string(category), value)
	if err != nil {
		return false, fmt.Errorf("failed to delete blocklist entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Load returns the user's full blocklist with values in insertion order.
func Load(ctx context.Context, q Querier, userID string) (policy.Blocklist, error) {
	list := policy.Blocklist{Projects: []string{}, Descriptions: []string{}, CaseIDs: []string{}}
	rows, err := q.QueryContext(ctx,
		"SELECT category, value FROM suggestion_blocklist WHERE user_id = ? ORDER BY created_at_ms, value",
		userID)
	if err != nil {
		return list, fmt.Errorf("failed to query blocklist: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category, value string
		if err := rows.Scan(&category, &value); err != nil {
			return list, fmt.Errorf("failed to scan blocklist entry: %w", err)
		}
		switch policy.Category(category) {
		case policy.CategoryProjects:
			list.Projects = append(list.Projects, value)
		case policy.CategoryDescriptions:
			list.Descriptions = append(list.Descriptions, value)
		case policy.CategoryCaseIDs:
			list.CaseIDs = append(list.CaseIDs, value)
		}
	}
	if err := rows.Err(); err != nil {
		return list, fmt.Errorf("failed to iterate blocklist: %w", err)
	}
	return list, nil
}
