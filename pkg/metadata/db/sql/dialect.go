// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql provides a dialect-aware SQL implementation of db.DB.
// It abstracts the differences between PostgreSQL and MySQL, allowing a
// single implementation to support both databases.
package sql

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect abstracts database-specific SQL syntax differences.
type Dialect interface {
	// Name returns the dialect name, which is also the migrations directory.
	Name() string

	// Placeholder returns the placeholder for the nth parameter (1-indexed).
	// PostgreSQL: "$1", "$2", "$3"
	// MySQL: "?", "?", "?"
	Placeholder(n int) string

	// ReplacePlaceholders converts PostgreSQL-style placeholders ($1, $2, ...)
	// to the dialect's format.
	ReplacePlaceholders(query string) string

	// UpsertSuffix returns the suffix for INSERT statements that should
	// update on conflict.
	// PostgreSQL: "ON CONFLICT (cols) DO UPDATE SET col1 = EXCLUDED.col1, ..."
	// MySQL: "ON DUPLICATE KEY UPDATE col1 = VALUES(col1), ..."
	UpsertSuffix(conflictColumns string, updateColumns []string) string

	// IsDuplicateKey reports whether err is a primary/unique key violation.
	IsDuplicateKey(err error) bool
}

// ============================================================================
// PostgreSQL Dialect
// ============================================================================

// PostgresDialect implements Dialect for PostgreSQL.
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (d PostgresDialect) Name() string {
	return "postgres"
}

func (d PostgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (d PostgresDialect) ReplacePlaceholders(query string) string {
	return query
}

func (d PostgresDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflictColumns)
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflictColumns, strings.Join(updates, ", "))
}

func (d PostgresDialect) IsDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLSTATE 23505")
}

// ============================================================================
// MySQL Dialect
// ============================================================================

// MySQLDialect implements Dialect for MySQL.
type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

func (d MySQLDialect) Name() string {
	return "mysql"
}

func (d MySQLDialect) Placeholder(n int) string {
	return "?"
}

// ReplacePlaceholders rewrites every $N token to ?. A $ not followed by a
// digit is left alone.
func (d MySQLDialect) ReplacePlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && isDigit(query[i+1]) {
			b.WriteByte('?')
			for i+1 < len(query) && isDigit(query[i+1]) {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (d MySQLDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		// No-op update keeps INSERT from failing on duplicates.
		first := strings.TrimSpace(strings.Split(conflictColumns, ",")[0])
		return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", first, first)
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}

func (d MySQLDialect) IsDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Error 1062")
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
