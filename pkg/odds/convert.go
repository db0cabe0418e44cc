// Package odds provides pure conversion functions between American odds,
// decimal odds, scalar market prices, and implied probabilities.
package odds

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AmericanToDecimal converts American odds to decimal odds.
// +150 -> 2.50, -150 -> 1.667.
func AmericanToDecimal(american int) (float64, error) {
	if american == 0 {
		return 0, fmt.Errorf("invalid American odds: cannot be 0")
	}

	if american > 0 {
		return float64(american)/100.0 + 1.0, nil
	}
	return 100.0/float64(-american) + 1.0, nil
}

// DecimalToAmerican converts decimal odds to American odds, rounding to the
// nearest integer. 2.50 -> +150, 1.667 -> -150.
func DecimalToAmerican(dec float64) (int, error) {
	if dec <= 1.0 {
		return 0, fmt.Errorf("invalid decimal odds %.4f: must be > 1.0", dec)
	}

	if dec >= 2.0 {
		return int(math.Round((dec - 1.0) * 100.0)), nil
	}
	return int(math.Round(-100.0 / (dec - 1.0))), nil
}

// PriceToDecimal converts a scalar market price in the open interval (0,1)
// to decimal odds. 0.50 -> 2.00, 0.60 -> 1.667.
func PriceToDecimal(price float64) (float64, error) {
	if price <= 0 || price >= 1 {
		return 0, fmt.Errorf("invalid price %.4f: must be in (0,1)", price)
	}
	return 1.0 / price, nil
}

// DecimalToImpliedProbability converts decimal odds to an implied
// probability. 2.00 -> 0.50.
func DecimalToImpliedProbability(dec float64) (float64, error) {
	if dec <= 0 {
		return 0, fmt.Errorf("invalid decimal odds %.4f: must be > 0", dec)
	}
	return 1.0 / dec, nil
}

// AmericanToImpliedProbability converts American odds directly to an implied
// probability.
func AmericanToImpliedProbability(american int) (float64, error) {
	dec, err := AmericanToDecimal(american)
	if err != nil {
		return 0, err
	}
	return DecimalToImpliedProbability(dec)
}

// ProbabilityToAmerican converts a probability in (0,1) to American odds.
func ProbabilityToAmerican(probability float64) (int, error) {
	if probability <= 0 || probability >= 1 {
		return 0, fmt.Errorf("invalid probability %.4f: must be in (0,1)", probability)
	}
	return DecimalToAmerican(1.0 / probability)
}

// ParseAmerican parses a raw American odds string as it appears on the feed,
// e.g. "+150", "-120", "150".
func ParseAmerican(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid American odds %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid American odds: cannot be 0")
	}
	return v, nil
}
