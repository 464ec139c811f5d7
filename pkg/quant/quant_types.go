package quant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LotMicros represents trade volume in millionths of a lot (10^6).
// E.g., 0.10 lot = 100,000 LotMicros. 1 lot = 100 micro-lots in this
// domain's convention, so one micro-lot (0.01 lot) = 10,000 LotMicros.
type LotMicros int64

// PriceMicros represents price multiplied by 1,000,000 (10^6).
// E.g., 1.0852 = 1,085,200 PriceMicros.
type PriceMicros int64

// MoneyCents represents an account-currency amount in cents.
// cTrader reports balances in cents; we never convert to float.
type MoneyCents int64

// TimeStamp represents Unix Milliseconds (venue event timestamps).
type TimeStamp int64

const (
	LotScale   = 1000000
	PriceScale = 1000000

	// MicroLot is 0.01 lot, the smallest increment most brokers allow.
	MicroLot LotMicros = LotScale / 100
)

// ToLotMicros converts a float64 (from external API) to LotMicros.
// Note: Only used at the boundary. Internal logic uses LotMicros directly.
func ToLotMicros(f float64) LotMicros {
	return LotMicros(math.Round(f * LotScale))
}

// ToPriceMicros converts a float64 to PriceMicros.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

func (v LotMicros) String() string {
	return fmt.Sprintf("%.2f", float64(v)/LotScale)
}

func (p PriceMicros) String() string {
	return fmt.Sprintf("%.6f", float64(p)/PriceScale)
}

func (m MoneyCents) String() string {
	return fmt.Sprintf("%.2f", float64(m)/100)
}

// Lots returns the volume as a float64 lot count for logging only.
func (v LotMicros) Lots() float64 {
	return float64(v) / LotScale
}

// ToLotMicrosStr converts a numeric lot string to LotMicros without float64.
// Rule #1: No Float. Using fixed-point string parsing.
func ToLotMicrosStr(s string) LotMicros {
	return LotMicros(parseFixedPoint(s, 6))
}

// ToPriceMicrosStr converts a numeric string to PriceMicros without float64.
func ToPriceMicrosStr(s string) PriceMicros {
	return PriceMicros(parseFixedPoint(s, 6))
}

// ParseTimeStamp converts a string (ms) to TimeStamp.
func ParseTimeStamp(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TimeStamp(ms), nil
}

// parseFixedPoint parses a numeric string into an int64 with the given precision.
// E.g., parseFixedPoint("1.23", 6) -> 1,230,000.
func parseFixedPoint(s string, precision int) int64 {
	if s == "" || s == "null" {
		return 0
	}

	intStr, fracStr := s, ""
	if dotIdx := strings.IndexByte(s, '.'); dotIdx != -1 {
		intStr, fracStr = s[:dotIdx], s[dotIdx+1:]
	}

	// 1. Parse Integer Part
	intPart, _ := strconv.ParseInt(intStr, 10, 64)
	for i := 0; i < precision; i++ {
		intPart *= 10
	}

	if fracStr == "" {
		return intPart
	}

	// 2. Parse Fraction Part
	if len(fracStr) > precision {
		fracStr = fracStr[:precision]
	}
	fracPart, _ := strconv.ParseInt(fracStr, 10, 64)

	// Pad fraction part with zeros if shorter than precision
	for i := len(fracStr); i < precision; i++ {
		fracPart *= 10
	}

	// 3. Handle Negative
	if strings.HasPrefix(intStr, "-") {
		return intPart - fracPart
	}
	return intPart + fracPart
}
