package source

import (
	"strconv"
	"strings"
	"time"

	"github.com/squareup/flowbase/common"
	"github.com/squareup/flowbase/errors"
)

// parseDecimal reads a fixed-point literal like "12.340" into a
// common.Decimal scaled to scale decimal places, padding or truncating
// trailing digits as needed.
func parseDecimal(s string, scale int) (common.Decimal, error) {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if len(fracPart) > scale {
		fracPart = fracPart[:scale]
	} else {
		fracPart += strings.Repeat("0", scale-len(fracPart))
	}
	unscaled, err := strconv.ParseInt(intPart+fracPart, 10, 64)
	if err != nil {
		return common.Decimal{}, errors.Errorf("invalid decimal %q: %v", s, err)
	}
	if neg {
		unscaled = -unscaled
	}
	return common.Decimal{Unscaled: unscaled, Scale: scale}, nil
}

func parseTimestamp(s string) (common.Timestamp, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return common.Timestamp{}, errors.Errorf("invalid timestamp %q: %v", s, err)
	}
	return common.NewTimestamp(t), nil
}
