package uboot

import (
	"fmt"
	"strings"
)

// FlashKind is the flash chip technology the bootloader reports.
type FlashKind int

const (
	FlashSPI FlashKind = iota
	FlashNAND
)

func (k FlashKind) String() string {
	if k == FlashNAND {
		return "NAND"
	}
	return "SPI"
}

// ParseFlashKind parses the probe response of vendor `sf probe` / `flashinfo`
// style commands, which lead with the chip technology.
func ParseFlashKind(s string) (FlashKind, error) {
	switch {
	case strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "spi"):
		return FlashSPI, nil
	case strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "nand"):
		return FlashNAND, nil
	}
	return 0, &ParseError{Line: s, Reason: "unknown flash kind"}
}

// FlashInfo aggregates what the bootloader reports about the flash chip.
// Vendor bootloaders print it across several lines; FillLine consumes
// whichever of them shows up.
type FlashInfo struct {
	Kind  FlashKind
	Block uint32
	Size  uint32
	Count uint32
	ID    [3]byte
	Name  string
}

func (f *FlashInfo) HasName() bool {
	return f.Name != ""
}

func (f *FlashInfo) HasID() bool {
	return f.ID[0] != 0 && f.ID[1] != 0
}

// FillLine parses one flash-info line into the struct. Recognized shapes:
//
//	Block:64KB Chip:8MB*1
//	ID:0xA1 0x40 0x17
//	Name:"XM_FM25Q64"
func (f *FlashInfo) FillLine(line string) error {
	line = strings.TrimSpace(strings.TrimRight(line, "\r\n"))
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "block:"):
		return f.fillSize(line)
	case strings.HasPrefix(lower, "id:"):
		return f.fillID(line[len("id:"):])
	case strings.HasPrefix(lower, "name:"):
		return f.fillName(line[len("name:"):])
	}
	return &ParseError{Line: line, Reason: "unrecognized flash info line"}
}

func (f *FlashInfo) fillSize(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(strings.ToLower(fields[1]), "chip:") {
		return &ParseError{Line: line, Reason: "malformed flash size line"}
	}
	block, err := ParseSize(fields[0][len("Block:"):])
	if err != nil {
		return &ParseError{Line: line, Reason: err.Error()}
	}

	chip := fields[1][len("Chip:"):]
	count := uint64(1)
	if idx := strings.IndexByte(chip, '*'); idx >= 0 {
		count, err = ParseSize(chip[idx+1:])
		if err != nil {
			return &ParseError{Line: line, Reason: err.Error()}
		}
		chip = chip[:idx]
	}
	size, err := ParseSize(chip)
	if err != nil {
		return &ParseError{Line: line, Reason: err.Error()}
	}

	f.Block = uint32(block)
	f.Size = uint32(size)
	f.Count = uint32(count)
	return nil
}

func (f *FlashInfo) fillID(rest string) error {
	var id [3]byte
	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return &ParseError{Line: rest, Reason: "expected three id bytes"}
	}
	for i, field := range fields {
		val, tail, ok := scanHex0x(field)
		if !ok || tail != "" || val > 0xff {
			return &ParseError{Line: rest, Reason: "malformed id byte"}
		}
		id[i] = byte(val)
	}
	f.ID = id
	return nil
}

func (f *FlashInfo) fillName(rest string) error {
	rest = strings.TrimSpace(rest)
	if len(rest) < 2 || rest[0] != '"' {
		return &ParseError{Line: rest, Reason: "chip name is not quoted"}
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		return &ParseError{Line: rest, Reason: "unterminated chip name"}
	}
	f.Name = rest[1 : 1+end]
	return nil
}

func (f *FlashInfo) String() string {
	return fmt.Sprintf("%s %s id=%02x%02x%02x size=%#x*%d block=%#x",
		f.Kind, f.Name, f.ID[0], f.ID[1], f.ID[2], f.Size, f.Count, f.Block)
}
