package migrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceValue(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		val  any
		typ  string
		want any
		err  bool
	}{
		{"nil passes", nil, TypeString, nil, false},
		{"int64 integer", int64(7), TypeInteger, int64(7), false},
		{"int integer", 7, TypeInteger, int64(7), false},
		{"integral float to integer", 3.0, TypeInteger, int64(3), false},
		{"fractional float to integer", 3.5, TypeInteger, nil, true},
		{"numeric string to integer", " 42 ", TypeInteger, int64(42), false},
		{"word to integer", "many", TypeInteger, nil, true},
		{"integer to double", int64(2), TypeDouble, float64(2), false},
		{"integer to string", int64(2), TypeString, "2", false},
		{"bytes to string", []byte("hi"), TypeString, "hi", false},
		{"bool to boolean", true, TypeBoolean, int64(1), false},
		{"zero to boolean", int64(0), TypeBoolean, int64(0), false},
		{"two to boolean", int64(2), TypeBoolean, nil, true},
		{"string to boolean", "false", TypeBoolean, int64(0), false},
		{"time to date", when, TypeDate, "2024-03-01T12:00:00Z", false},
		{"rfc3339 to date", "2024-03-01T13:00:00+01:00", TypeDate, "2024-03-01T12:00:00Z", false},
		{"junk to date", "yesterday", TypeDate, nil, true},
		{"string to binary", "ab", TypeBinary, []byte("ab"), false},
		{"float to binary", 1.5, TypeBinary, nil, true},
		{"unknown type", "x", "decimal", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceValue(tt.val, tt.typ)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
