package money

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrMalformedPrice is returned when a price string cannot be parsed.
var ErrMalformedPrice = errors.New("malformed price")

// PriceToBaseUnits converts a decimal USD price string to stablecoin base
// units using pure string arithmetic. Floating point is never involved:
// "0.001" at 18 decimals must produce exactly 1000000000000000.
//
// The same function runs at advertisement time and at verification time so
// the advertised amount and the verified amount can never diverge.
func PriceToBaseUnits(price string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	if s == "" {
		return nil, fmt.Errorf("%w: empty price", ErrMalformedPrice)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: %q has multiple decimal points", ErrMalformedPrice, price)
	}

	intPart := parts[0]
	decPart := ""
	if len(parts) == 2 {
		decPart = parts[1]
	}
	if intPart == "" && decPart == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPrice, price)
	}
	if !isDigits(intPart) || !isDigits(decPart) {
		return nil, fmt.Errorf("%w: %q contains non-numeric characters", ErrMalformedPrice, price)
	}

	// Scale the fractional part to exactly `decimals` digits: right-pad
	// with zeros, or truncate extra precision.
	d := int(decimals)
	if len(decPart) > d {
		decPart = decPart[:d]
	} else {
		decPart += strings.Repeat("0", d-len(decPart))
	}

	combined := strings.TrimLeft(intPart+decPart, "0")
	if combined == "" {
		combined = "0"
	}

	units, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPrice, price)
	}
	return units, nil
}

// isDigits reports whether s consists only of ASCII digits. Empty is valid
// (a missing integer or fractional part).
func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
