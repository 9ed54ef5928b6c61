// Package fixedpoint implements exact base-unit arithmetic for money-like
// quantities. USD values are integers at 18-decimal wad scale; token amounts
// are integers at the asset's native decimals. Nothing in this package stores
// or compares through binary floating point: the magnitudes vault balances
// reach would silently lose precision there.
package fixedpoint

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// WadDecimals is the fixed-point scale used for USD values and ratios.
const WadDecimals = 18

var wadScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

// Wad returns the 10^18 scale factor as a fresh big.Int.
func Wad() *big.Int {
	return new(big.Int).Set(wadScale)
}

// ParseDecimalToWad converts a decimal string to an 18-decimal wad integer.
// Plain decimal strings are split at the decimal point and recombined with
// integer arithmetic only, so the integer part keeps full precision at any
// magnitude. Scientific notation is first expanded to a fixed 18-fraction
// string and then goes through the same split. Empty input yields zero.
func ParseDecimalToWad(s string) *big.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int)
	}

	if strings.ContainsAny(s, "eE") {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return new(big.Int)
		}
		s = d.StringFixed(WadDecimals)
	}

	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if frac == "" && whole == "" {
		return new(big.Int)
	}

	// Left-pad or truncate the fraction to exactly 18 digits.
	if len(frac) > WadDecimals {
		frac = frac[:WadDecimals]
	} else {
		frac += strings.Repeat("0", WadDecimals-len(frac))
	}

	wholeInt, ok := new(big.Int).SetString(zeroIfEmpty(whole), 10)
	if !ok {
		return new(big.Int)
	}
	fracInt, ok := new(big.Int).SetString(zeroIfEmpty(frac), 10)
	if !ok {
		return new(big.Int)
	}

	out := wholeInt.Mul(wholeInt, wadScale)
	out.Add(out, fracInt)
	if neg {
		out.Neg(out)
	}
	return out
}

// ParseBaseUnits parses an integer base-unit string (e.g. an on-chain
// totalAssets figure). Returns nil when the string is absent or malformed.
func ParseBaseUnits(s string) *big.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

// RatioToPercent returns num/den as a percentage with two decimal places of
// precision (integer basis points divided by 100). A zero or nil denominator
// yields 0, never a division fault.
func RatioToPercent(num, den *big.Int) float64 {
	if num == nil || den == nil || den.Sign() == 0 {
		return 0
	}
	bps := new(big.Int).Mul(num, big.NewInt(10000))
	bps.Quo(bps, den)
	return float64(bps.Int64()) / 100
}

// WadToPercent converts a wad-scaled ratio in [0, 1e18] to the 0-100 scale
// with basis-point precision. Nil input yields nil.
func WadToPercent(ratio *big.Int) *float64 {
	if ratio == nil {
		return nil
	}
	p := RatioToPercent(ratio, wadScale)
	return &p
}

// DerivePrice derives a wad USD price per whole token from a vault's USD and
// base-unit totals: price = totalUsd / (totalRaw / 10^decimals). Returns nil
// when either total is missing or zero, so the caller degrades rather than
// divides by zero.
func DerivePrice(totalUsd, totalRaw *big.Int, decimals uint8) *big.Int {
	if totalUsd == nil || totalRaw == nil || totalUsd.Sign() == 0 || totalRaw.Sign() == 0 {
		return nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	price := new(big.Int).Mul(totalUsd, unit)
	price.Quo(price, totalRaw)
	if price.Sign() == 0 {
		return nil
	}
	return price
}

// TokenFromUsd converts a wad USD value back to token base units at the given
// wad price: units = usd / price * 10^decimals. The result floors to the
// base-unit grid so a balance is never overstated. Nil or zero price yields
// nil.
func TokenFromUsd(usdWad, priceWad *big.Int, decimals uint8) *big.Int {
	if usdWad == nil || priceWad == nil || priceWad.Sign() == 0 {
		return nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(usdWad, unit)
	out.Quo(out, priceWad)
	return out
}

// MulPrice values a base-unit token amount at a wad price per whole token:
// usd = amount * price / 10^decimals. Nil inputs yield nil.
func MulPrice(amount, priceWad *big.Int, decimals uint8) *big.Int {
	if amount == nil || priceWad == nil {
		return nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(amount, priceWad)
	out.Quo(out, unit)
	return out
}

// FormatUnits renders a base-unit integer as a decimal string at the given
// scale, trimming trailing fractional zeros. Nil renders as "0".
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, unit, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		digits = strings.Repeat("0", int(decimals)-len(digits)) + digits
		digits = strings.TrimRight(digits, "0")
		out += "." + digits
	}
	if neg {
		out = "-" + out
	}
	return out
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
