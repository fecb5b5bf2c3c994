package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Key normalizes an identifier into the string the store keys records by.
// Numbers format without trailing zeros so that 42, int64(42) and the JSON
// float 42 resolve to the same entry. It returns false for nil and empty ids.
func Key(id any) (string, bool) {
	switch v := id.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return formatFloat(float64(v)), !math.IsNaN(float64(v))
	case float64:
		return formatFloat(v), !math.IsNaN(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return formatFloat(f), true
		}
		return v.String(), v.String() != ""
	case fmt.Stringer:
		s := v.String()
		return s, s != ""
	}
	s := fmt.Sprint(id)
	return s, s != ""
}

// MustKey is Key for ids already known to be valid.
func MustKey(id any) string {
	k, _ := Key(id)
	return k
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
