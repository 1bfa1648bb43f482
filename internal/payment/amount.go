package payment

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AmountDecimals is the fixed precision of an Amount. 1.00 is stored as 1_000_000.
const AmountDecimals = 6

const amountScale = 1_000_000

// ErrInvalidAmount is returned when an amount string cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a non-negative fixed-point payment amount in millionths.
// Equal amounts compare equal regardless of how they were written
// ("10", "10.0" and "10.000000" are the same Amount).
type Amount int64

// ParseAmount converts a decimal string (e.g. "25.32") to an Amount.
//
// Rules:
//   - Surrounding whitespace is ignored
//   - Signs, exponents and multiple decimal points are rejected
//   - A missing whole part (".5") is read as zero
//   - Digits beyond the sixth decimal place must be zero
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if whole == "" {
		whole = "0"
	}

	if len(frac) > AmountDecimals {
		if strings.Trim(frac[AmountDecimals:], "0") != "" {
			return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, AmountDecimals)
		}
		frac = frac[:AmountDecimals]
	}
	frac += strings.Repeat("0", AmountDecimals-len(frac))

	units, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return Amount(units), nil
}

// MustParseAmount is ParseAmount for literals in tests and fixtures.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount with at least two decimal places ("10.50", "0.000001").
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	frac := strings.TrimRight(fmt.Sprintf("%06d", v%amountScale), "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return sign + strconv.FormatInt(v/amountScale, 10) + "." + frac
}

// MarshalJSON encodes the amount as a decimal string to avoid float rounding.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

// UnmarshalJSON accepts either a decimal string ("10.50") or a bare JSON number (10.5).
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		*a = 0
		return nil
	}
	s := string(raw)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
