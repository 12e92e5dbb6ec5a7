// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCorrupt marks a database file that failed its integrity check.
var ErrCorrupt = errors.New("sqlite: database corrupt")

const maxReported = 5

// CheckIntegrity runs PRAGMA quick_check against the file at path. Anything
// other than "ok", including a file that is not a database at all, is
// reported as ErrCorrupt with the first few diagnostics attached.
func CheckIntegrity(ctx context.Context, path string) error {
	db, err := OpenReadOnly(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if !strings.EqualFold(line, "ok") {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	switch n := len(problems); {
	case n == 0:
		return nil
	case n > maxReported:
		problems = append(problems[:maxReported], fmt.Sprintf("%d more", n-maxReported))
	}
	return fmt.Errorf("%w: %s", ErrCorrupt, strings.Join(problems, "; "))
}
