// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
)

// Migrate runs the embedded migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return db.RunMigrations(ctx, &migrator{q: s}, s.dialect.Name())
}

// migrator implements db.Migrator over any Querier
type migrator struct {
	q Querier
}

func (m *migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.q.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

func (m *migrator) Apply(ctx context.Context, migration db.Migration) error {
	for _, stmt := range splitSQLStatements(migration.SQL) {
		stmt = stripLeadingComments(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement: %w", err)
		}
	}
	return nil
}

func (m *migrator) SetVersion(ctx context.Context, version int) error {
	_, err := m.q.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
	if err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}
	return nil
}

// stripLeadingComments removes leading SQL comment lines from a statement.
func stripLeadingComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	for len(lines) > 0 {
		line := strings.TrimSpace(lines[0])
		if line == "" || strings.HasPrefix(line, "--") {
			lines = lines[1:]
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitSQLStatements splits a SQL script on semicolons that are outside
// quoted strings and comments.
func splitSQLStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      byte
		lineCmt    bool
		blockCmt   bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		next := byte(0)
		if i+1 < len(script) {
			next = script[i+1]
		}

		switch {
		case lineCmt:
			if c == '\n' {
				lineCmt = false
			}
		case blockCmt:
			if c == '*' && next == '/' {
				current.WriteByte(c)
				c = next
				i++
				blockCmt = false
			}
		case quote != 0:
			if c == quote {
				if next == quote {
					current.WriteByte(c)
					c = next
					i++
				} else {
					quote = 0
				}
			}
		case c == '-' && next == '-':
			lineCmt = true
		case c == '/' && next == '*':
			blockCmt = true
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			flush()
			continue
		}
		current.WriteByte(c)
	}
	flush()
	return statements
}
