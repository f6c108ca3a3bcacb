package uboot

import (
	"fmt"
	"strings"
)

// Low-level scanners for the loosely formatted numbers U-Boot prints:
// bare hex with no prefix, 0x-prefixed hex, decimal with size suffixes
// (16, 0x100, 8M, 64KB). Each scanner consumes from the front of the
// input and returns the unconsumed remainder.

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// scanHex parses a run of hex digits (any case, no prefix).
func scanHex(s string) (uint64, string, bool) {
	var val uint64
	i := 0
	for i < len(s) {
		d, ok := hexDigit(s[i])
		if !ok {
			break
		}
		val = val<<4 | uint64(d)
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	return val, s[i:], true
}

// scanHex0x parses a hex number with a mandatory 0x/0X prefix.
func scanHex0x(s string) (uint64, string, bool) {
	if len(s) < 3 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return 0, s, false
	}
	return scanHex(s[2:])
}

// scanHexByte parses one or two hex digits as a byte.
func scanHexByte(s string) (byte, string, bool) {
	if len(s) == 0 {
		return 0, s, false
	}
	hi, ok := hexDigit(s[0])
	if !ok {
		return 0, s, false
	}
	if len(s) > 1 {
		if lo, ok := hexDigit(s[1]); ok {
			return hi<<4 | lo, s[2:], true
		}
	}
	return hi, s[1:], true
}

func scanDec(s string) (uint64, string, bool) {
	var val uint64
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		val = val*10 + uint64(s[i]-'0')
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	return val, s[i:], true
}

// scanUnits parses an optional size suffix (k/K, m/M, with optional
// trailing b/B) and returns the multiplier.
func scanUnits(s string) (uint64, string) {
	mul := uint64(1)
	if len(s) > 0 {
		switch s[0] {
		case 'k', 'K':
			mul = 1 << 10
			s = s[1:]
		case 'm', 'M':
			mul = 1 << 20
			s = s[1:]
		}
	}
	if len(s) > 0 && (s[0] == 'b' || s[0] == 'B') {
		s = s[1:]
	}
	return mul, s
}

// ParseSize parses the size literals U-Boot mixes freely in its output
// and environment: 0x100, 16, 8M, 64KB, and so on.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if val, _, ok := scanHex0x(s); ok {
		return val, nil
	}
	if val, rest, ok := scanDec(s); ok {
		mul, _ := scanUnits(rest)
		return val * mul, nil
	}
	return 0, fmt.Errorf("invalid size literal %q", s)
}
