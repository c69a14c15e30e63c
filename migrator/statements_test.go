package migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			"single statement",
			"SELECT 1",
			[]string{"SELECT 1"},
		},
		{
			"two statements",
			"SELECT 1; SELECT 2;",
			[]string{"SELECT 1", "SELECT 2"},
		},
		{
			"empty statements skipped",
			"SELECT 1;; ;SELECT 2;",
			[]string{"SELECT 1", "SELECT 2"},
		},
		{
			"semicolon inside quotes",
			"UPDATE Post SET body = 'a;b'; SELECT 2",
			[]string{"UPDATE Post SET body = 'a;b'", "SELECT 2"},
		},
		{
			"escaped quotes",
			"SELECT 'it''s'; SELECT 2",
			[]string{"SELECT 'it''s'", "SELECT 2"},
		},
		{
			"empty input",
			"",
			nil,
		},
		{
			"comments preserved in statements",
			"-- sanitize\nDELETE FROM \"Post\"; SELECT 1",
			[]string{"-- sanitize\nDELETE FROM \"Post\"", "SELECT 1"},
		},
		{
			"block comment with semicolon",
			"/* comment; still comment */ SELECT 1; SELECT 2;",
			[]string{"/* comment; still comment */ SELECT 1", "SELECT 2"},
		},
		{
			"double-quoted identifier with semicolon",
			`SELECT "a;b" FROM t; SELECT 2;`,
			[]string{`SELECT "a;b" FROM t`, "SELECT 2"},
		},
		{
			"trigger body kept whole",
			"CREATE TRIGGER touch AFTER UPDATE ON Post BEGIN UPDATE Post SET rating = 0 WHERE rating IS NULL; DELETE FROM Author; END; SELECT 1;",
			[]string{"CREATE TRIGGER touch AFTER UPDATE ON Post BEGIN UPDATE Post SET rating = 0 WHERE rating IS NULL; DELETE FROM Author; END", "SELECT 1"},
		},
		{
			"temp trigger after comment",
			"-- audit\nCREATE TEMP TRIGGER t AFTER INSERT ON Post BEGIN SELECT 1; end; SELECT 2",
			[]string{"-- audit\nCREATE TEMP TRIGGER t AFTER INSERT ON Post BEGIN SELECT 1; end", "SELECT 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitStatements(tt.sql))
		})
	}
}
