package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"fincontrol/pkg/exception"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

// Amount is a monetary value as a scaled integer with two fractional digits.
// The scale is fixed for the whole ledger.
type Amount int64

const amountScale = 100

// AmountFromFloat converts a float value in currency units, rounding half up.
func AmountFromFloat(v float64) Amount {
	if v < 0 {
		return -AmountFromFloat(-v)
	}
	return Amount(v*amountScale + 0.5)
}

// ParseAmount parses a decimal string such as "5000" or "123.45".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, exception.ErrValidation
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errors.Wrap(exception.ErrValidation, "parse amount").With("value", s)
	}
	cents := int64(0)
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, errors.Wrap(exception.ErrValidation, "parse amount fraction").With("value", s)
		}
	}
	total := units*amountScale + cents
	if neg {
		total = -total
	}
	return Amount(total), nil
}

// AmountFromDecimal converts a wire decimal into a scaled Amount. The decimal
// type is only ever produced by JSON decoding, so the conversion goes back
// through its JSON form.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return 0, errors.Wrap(err, "marshal decimal")
	}
	return ParseAmount(strings.Trim(string(raw), `"`))
}

func (a Amount) String() string {
	v := int64(a)
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v/amountScale, 10) + "." + pad2(v%amountScale)
	if neg {
		return "-" + s
	}
	return s
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}

// Float64 returns the value in currency units.
func (a Amount) Float64() float64 {
	return float64(a) / amountScale
}

// MulRatio scales the amount by a ratio in [0,1], truncating toward zero.
func (a Amount) MulRatio(ratio float64) Amount {
	return Amount(float64(a) * ratio)
}

// MarshalJSON emits a plain JSON number in currency units.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAmount(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
