package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// execStatements runs each statement of a sanitize hook inside tx.
func execStatements(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w\nSQL: %s", i+1, err, stmt)
		}
	}
	return nil
}

var (
	createTriggerRe = regexp.MustCompile(`(?is)^(?:--[^\n]*\n\s*|/\*.*?\*/\s*)*CREATE\s+(?:TEMP\s+|TEMPORARY\s+)?TRIGGER\b`)
	endsWithEndRe   = regexp.MustCompile(`(?i)\bEND\s*$`)
)

// SplitStatements splits SQLite script text into statements. Semicolons
// inside quotes, comments and CREATE TRIGGER ... END bodies do not split.
func SplitStatements(sql string) []string { return splitStatements(sql) }

func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inSingleQuote := false
	inDoubleQuote := false
	inLineComment := false
	blockCommentDepth := 0

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		// Inside -- line comment
		if inLineComment {
			current.WriteByte(c)
			if c == '\n' {
				inLineComment = false
			}
			continue
		}

		// Inside /* ... */ block comment
		if blockCommentDepth > 0 {
			current.WriteByte(c)
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				current.WriteByte(sql[i+1])
				i++
				blockCommentDepth--
			}
			continue
		}

		if inSingleQuote {
			current.WriteByte(c)
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					current.WriteByte(sql[i+1])
					i++
				} else {
					inSingleQuote = false
				}
			}
			continue
		}

		if inDoubleQuote {
			current.WriteByte(c)
			if c == '"' {
				if i+1 < len(sql) && sql[i+1] == '"' {
					current.WriteByte(sql[i+1])
					i++
				} else {
					inDoubleQuote = false
				}
			}
			continue
		}

		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			current.WriteByte(c)
			current.WriteByte(sql[i+1])
			i++
			inLineComment = true
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			current.WriteByte(c)
			current.WriteByte(sql[i+1])
			i++
			blockCommentDepth = 1
		case c == '\'':
			current.WriteByte(c)
			inSingleQuote = true
		case c == '"':
			current.WriteByte(c)
			inDoubleQuote = true
		case c == ';':
			s := strings.TrimSpace(current.String())
			// A trigger body keeps its inner semicolons until END.
			if createTriggerRe.MatchString(s) && !endsWithEndRe.MatchString(s) {
				current.WriteByte(c)
				continue
			}
			if s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}

	// Trailing statement without semicolon
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}

	return stmts
}
