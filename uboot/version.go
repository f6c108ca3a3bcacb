package uboot

import (
	"fmt"
	"strings"
)

// VersionInfo is the bootloader release parsed from the version banner,
// e.g. "U-Boot 2016.11-g2fc5f58-dirty". U-Boot uses calendar versions.
type VersionInfo struct {
	Year     int
	Month    int
	Revision string
	Suffix   string
}

func (v VersionInfo) String() string {
	s := fmt.Sprintf("%d.%02d", v.Year, v.Month)
	if v.Revision != "" {
		s += "-" + v.Revision
	}
	if v.Suffix != "" {
		s += "-" + v.Suffix
	}
	return s
}

// ParseVersion parses a version banner, with or without the "version:"
// prefix the `version` command prints.
func ParseVersion(line string) (VersionInfo, error) {
	s := strings.TrimSpace(strings.TrimRight(line, "\r\n"))
	if rest, ok := cutPrefixFold(s, "version:"); ok {
		s = strings.TrimSpace(rest)
	}
	rest, ok := cutPrefixFold(s, "U-Boot")
	if !ok {
		return VersionInfo{}, &ParseError{Line: line, Reason: "missing U-Boot marker"}
	}
	s = strings.TrimSpace(rest)

	year, s, ok := scanDec(s)
	if !ok || len(s) == 0 || s[0] != '.' {
		return VersionInfo{}, &ParseError{Line: line, Reason: "malformed release number"}
	}
	month, s, ok := scanDec(s[1:])
	if !ok || month < 1 || month > 12 {
		return VersionInfo{}, &ParseError{Line: line, Reason: "malformed release month"}
	}

	info := VersionInfo{Year: int(year), Month: int(month)}
	info.Revision, s = scanVersionTag(s)
	info.Suffix, _ = scanVersionTag(s)
	return info, nil
}

// scanVersionTag consumes a "-alnum" tag like "-g2fc5f58" or "-dirty".
func scanVersionTag(s string) (string, string) {
	if len(s) == 0 || s[0] != '-' {
		return "", s
	}
	i := 1
	for i < len(s) && isAlnum(s[i]) {
		i++
	}
	if i == 1 {
		return "", s
	}
	return s[1:i], s[i:]
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
