package migrator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// coerceValue converts a source value (as scanned from SQLite, decoded from
// a model/mapping file, or produced by an expression) into the storage form
// of the destination attribute type.
func coerceValue(val any, typ string) (any, error) {
	if val == nil {
		return nil, nil
	}

	switch typ {
	case TypeInteger:
		switch v := val.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("cannot store %v as integer without loss", v)
			}
			return int64(v), nil
		case bool:
			return boolToInt(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to integer", v)
			}
			return n, nil
		}

	case TypeDouble:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to double", v)
			}
			return f, nil
		}

	case TypeString:
		switch v := val.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case int64, int, float64, bool:
			return fmt.Sprint(v), nil
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano), nil
		}

	case TypeBoolean:
		switch v := val.(type) {
		case bool:
			return boolToInt(v), nil
		case int64:
			if v == 0 || v == 1 {
				return v, nil
			}
			return nil, fmt.Errorf("cannot coerce integer %d to boolean", v)
		case int:
			return coerceValue(int64(v), typ)
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to boolean", v)
			}
			return boolToInt(b), nil
		}

	case TypeDate:
		switch v := val.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to date: %w", v, err)
			}
			return t.UTC().Format(time.RFC3339Nano), nil
		case int64:
			return time.Unix(v, 0).UTC().Format(time.RFC3339Nano), nil
		}

	case TypeBinary:
		switch v := val.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}

	default:
		return nil, fmt.Errorf("unsupported type %q", typ)
	}

	return nil, fmt.Errorf("cannot coerce %T to %s", val, typ)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
