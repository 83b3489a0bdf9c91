package utility

import (
	"strconv"

	"github.com/google/uuid"
)

// ToFloat parses a sampled value; the second result reports whether the
// string held a usable number.
func ToFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToInt converts a string to an integer, tolerating decimal notation.
func ToInt(s string) int {
	f, ok := ToFloat(s)
	if !ok {
		return 0
	}
	return int(f)
}

func NewUUID() string {
	return uuid.New().String()
}
