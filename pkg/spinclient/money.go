package spinclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Defaults used by the provider for money values.
const (
	DefaultPrecision = 2
	DefaultSeparator = "."
)

// ErrInvalidAmount is returned when a decimal amount cannot be parsed
var ErrInvalidAmount = errors.New("invalid amount")

// DecimalToMinorUnits converts a decimal string such as "12.34" into an
// integer count of minor units. The fraction is truncated to precision
// digits, never rounded: "12.345" with precision 2 is 1234.
func DecimalToMinorUnits(value string, precision int) (int64, error) {
	if precision < 0 {
		precision = 0
	}

	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	p := int32(precision)
	return d.Truncate(p).Shift(p).IntPart(), nil
}

// MinorUnitsToDecimal converts minor units into a decimal string with at
// most precision fractional digits. Trailing zeros are not kept, so 1200
// becomes "12" and 1230 becomes "12.3".
func MinorUnitsToDecimal(minorUnits int64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	d := decimal.New(minorUnits, -int32(precision))
	return TruncateDecimal(d.String(), precision, DefaultSeparator)
}

// TruncateDecimal cuts the fractional part of value down to precision
// characters. A fraction shorter than precision is returned as is, it is
// not zero padded. An empty separator means ".".
func TruncateDecimal(value string, precision int, separator string) string {
	if separator == "" {
		separator = DefaultSeparator
	}

	parts := strings.Split(value, separator)
	out := parts[0]
	if len(parts) > 1 && precision > 0 {
		frac := parts[1]
		if len(frac) > precision {
			frac = frac[:precision]
		}
		out += separator + frac
	}
	return out
}
