package uboot

import (
	"strings"
)

// ParseHexDumpLine parses one line of md.b output, for example
//
//	42000000: 15 05 00 ea fe ff ff ea    ........
//
// returning the line's base address and data bytes. The ASCII gutter is
// separated from the byte columns by a run of spaces and is ignored.
func ParseHexDumpLine(line string) (uint64, []byte, error) {
	line = strings.TrimRight(line, "\r\n")
	addr, rest, ok := scanHex(line)
	if !ok {
		return 0, nil, &ParseError{Line: line, Reason: "no address"}
	}
	if len(rest) == 0 || rest[0] != ':' {
		return 0, nil, &ParseError{Line: line, Reason: "no address separator"}
	}
	rest = rest[1:]

	// Byte columns are single-space separated; the ASCII gutter starts at
	// the first double space.
	if idx := strings.Index(rest, "  "); idx >= 0 {
		rest = rest[:idx]
	}

	var data []byte
	for _, field := range strings.Fields(rest) {
		b, tail, ok := scanHexByte(field)
		if !ok || tail != "" {
			return 0, nil, &ParseError{Line: line, Reason: "malformed byte column"}
		}
		data = append(data, b)
	}
	return addr, data, nil
}
