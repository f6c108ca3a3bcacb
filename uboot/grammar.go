package uboot

import (
	"strings"
)

// Shape selects which grammar a command's output is parsed with. The caller
// picks the shape when it builds the Command, so dispatch over output kinds
// is resolved up front rather than sniffed at runtime.
type Shape int

const (
	// ShapePrompt expects no output before the next prompt.
	ShapePrompt Shape = iota
	// ShapeEnvListing parses printenv-style key=value lines.
	ShapeEnvListing
	// ShapeMemoryDump parses md.b hex dump rows.
	ShapeMemoryDump
	// ShapeCRC32 parses the result line of the crc32 command.
	ShapeCRC32
	// ShapeTFTP parses tftpboot progress and its terminal status line.
	ShapeTFTP
	// ShapeVersion parses the U-Boot version banner.
	ShapeVersion
	// ShapeFlashInfo parses vendor flash-probe output.
	ShapeFlashInfo
	// ShapeRaw collects output verbatim without interpretation.
	ShapeRaw
)

func (s Shape) String() string {
	switch s {
	case ShapePrompt:
		return "prompt"
	case ShapeEnvListing:
		return "env"
	case ShapeMemoryDump:
		return "memdump"
	case ShapeCRC32:
		return "crc32"
	case ShapeTFTP:
		return "tftp"
	case ShapeVersion:
		return "version"
	case ShapeFlashInfo:
		return "flashinfo"
	default:
		return "raw"
	}
}

// Response is the parsed result of one completed command. Exactly one of
// the concrete types below is produced per command; values are never
// mutated after creation.
type Response interface {
	responseShape() Shape
}

// PromptOnly reports that a command completed with no output.
type PromptOnly struct{}

// EnvListing carries a parsed environment listing.
type EnvListing struct {
	Env *Env
}

// MemoryDump carries the bytes of a parsed hex dump, with the base address
// of its first row.
type MemoryDump struct {
	Addr uint64
	Data []byte
}

// Crc32Result carries the checksum the bootloader computed over an address
// range.
type Crc32Result struct {
	Start uint64
	End   uint64
	Value uint32
}

// TftpStatus is the console-side outcome of a tftpboot command.
type TftpStatus struct {
	Bytes   uint64
	OK      bool
	Message string
}

// VersionReport carries the parsed bootloader version.
type VersionReport struct {
	Info VersionInfo
}

// FlashReport carries parsed flash chip information.
type FlashReport struct {
	Info FlashInfo
}

// ErrorBanner is a recognized bootloader error message, e.g. an unknown
// command complaint.
type ErrorBanner struct {
	Message string
}

// RawUnparsed carries output collected without interpretation.
type RawUnparsed struct {
	Text string
}

func (PromptOnly) responseShape() Shape  { return ShapePrompt }
func (EnvListing) responseShape() Shape  { return ShapeEnvListing }
func (MemoryDump) responseShape() Shape  { return ShapeMemoryDump }
func (Crc32Result) responseShape() Shape { return ShapeCRC32 }
func (TftpStatus) responseShape() Shape  { return ShapeTFTP }
func (VersionReport) responseShape() Shape {
	return ShapeVersion
}
func (FlashReport) responseShape() Shape { return ShapeFlashInfo }
func (ErrorBanner) responseShape() Shape { return ShapeRaw }
func (RawUnparsed) responseShape() Shape { return ShapeRaw }

// collector accumulates framed output lines for one in-flight command and
// parses them according to the command's shape. Feeding is incremental:
// a ParseError from feedLine means the output is malformed, not merely
// incomplete, and the session must not keep waiting.
type collector struct {
	shape   Shape
	variant string
	sent    string

	echoSeen bool
	raw      []string
	banner   string

	env        *Env
	dumpAddr   uint64
	dumpData   []byte
	dumpSeen   bool
	crc        *Crc32Result
	tftp       *TftpStatus
	version    *VersionInfo
	flash      FlashInfo
	flashKind  *FlashKind
	flashLines int
}

func newCollector(shape Shape, sent, variant string) *collector {
	c := &collector{shape: shape, variant: variant, sent: strings.TrimSpace(sent)}
	if shape == ShapeEnvListing {
		c.env = NewEnv()
	}
	return c
}

// rawText returns everything the collector has seen, for diagnostics.
func (c *collector) rawText() string {
	return strings.Join(c.raw, "\n")
}

func (c *collector) feedLine(line string) error {
	c.raw = append(c.raw, line)
	trimmed := strings.TrimSpace(line)

	// The device echoes the command once before its real output. Stale
	// console leftovers can precede the echo on the same line, and the
	// echo can overrun into the first output line when framing splits
	// unluckily, so everything up to and including the echo is cut.
	if !c.echoSeen && trimmed != "" {
		c.echoSeen = true
		if c.sent != "" {
			if idx := strings.Index(trimmed, c.sent); idx >= 0 {
				trimmed = strings.TrimSpace(trimmed[idx+len(c.sent):])
			}
		}
		if trimmed == "" {
			return nil
		}
	}
	if trimmed == "" {
		return nil
	}

	// TFTP failure wording looks like an error banner; the TFTP grammar
	// owns those lines so they become a TftpStatus instead.
	if c.shape == ShapeTFTP {
		return c.feedTftp(trimmed)
	}
	if banner, ok := detectErrorBanner(trimmed); ok {
		c.banner = banner
		return nil
	}

	switch c.shape {
	case ShapePrompt:
		return &ParseError{Line: line, Reason: "unexpected output for silent command"}

	case ShapeEnvListing:
		if strings.HasPrefix(trimmed, "Environment size:") {
			return nil
		}
		return c.env.AddLine(trimmed)

	case ShapeMemoryDump:
		addr, data, err := ParseHexDumpLine(trimmed)
		if err != nil {
			return err
		}
		if !c.dumpSeen {
			c.dumpAddr = addr
			c.dumpSeen = true
		}
		c.dumpData = append(c.dumpData, data...)
		return nil

	case ShapeCRC32:
		crc, ok := parseCrcLine(trimmed)
		if !ok {
			return &ParseError{Line: line, Reason: "not a crc32 result line"}
		}
		c.crc = &crc
		return nil

	case ShapeVersion:
		if c.version == nil {
			if info, err := ParseVersion(trimmed); err == nil {
				c.version = &info
			}
		}
		// Compiler and build detail lines after the banner are ignored.
		return nil

	case ShapeFlashInfo:
		return c.feedFlash(trimmed)

	default: // ShapeRaw
		return nil
	}
}

func (c *collector) feedTftp(line string) error {
	if status, terminal := parseTftpLine(line); terminal {
		c.tftp = &status
	}
	// Progress rows, link banners and retry chatter are not terminal and
	// carry nothing the automation needs.
	return nil
}

func (c *collector) feedFlash(line string) error {
	c.flashLines++
	if c.flashKind == nil {
		if kind, err := ParseFlashKind(line); err == nil {
			c.flashKind = &kind
			c.flash.Kind = kind
			return nil
		}
	}
	if err := c.flash.FillLine(line); err == nil {
		return nil
	}
	// HiSilicon builds interleave probe chatter we do not model.
	if c.variant == VariantHiSilicon {
		return nil
	}
	return &ParseError{Line: line, Reason: "unrecognized flash info line"}
}

// finish is called once the prompt has been observed and decides whether
// the accumulated output forms a complete response.
func (c *collector) finish() (Response, error) {
	if c.banner != "" {
		return ErrorBanner{Message: c.banner}, nil
	}

	switch c.shape {
	case ShapePrompt:
		return PromptOnly{}, nil

	case ShapeEnvListing:
		if c.env.Len() == 0 {
			return nil, &ParseError{Line: c.rawText(), Reason: "empty environment listing"}
		}
		return EnvListing{Env: c.env}, nil

	case ShapeMemoryDump:
		if !c.dumpSeen {
			return nil, &ParseError{Line: c.rawText(), Reason: "no hex dump rows"}
		}
		return MemoryDump{Addr: c.dumpAddr, Data: c.dumpData}, nil

	case ShapeCRC32:
		if c.crc == nil {
			return nil, &ParseError{Line: c.rawText(), Reason: "no crc32 result line"}
		}
		return *c.crc, nil

	case ShapeTFTP:
		if c.tftp == nil {
			return nil, &ParseError{Line: c.rawText(), Reason: "transfer ended without status line"}
		}
		return *c.tftp, nil

	case ShapeVersion:
		if c.version == nil {
			return nil, &ParseError{Line: c.rawText(), Reason: "no version banner"}
		}
		return VersionReport{Info: *c.version}, nil

	case ShapeFlashInfo:
		if c.flashLines == 0 {
			return nil, &ParseError{Line: c.rawText(), Reason: "no flash info output"}
		}
		return FlashReport{Info: c.flash}, nil

	default:
		return RawUnparsed{Text: c.rawText()}, nil
	}
}

// parseCrcLine parses "CRC32 for 82000000 ... 82000fff ==> deadbeef",
// tolerating case and whitespace variation.
func parseCrcLine(line string) (Crc32Result, bool) {
	fields := strings.Fields(line)
	if len(fields) != 7 {
		return Crc32Result{}, false
	}
	if !strings.EqualFold(fields[0], "crc32") || !strings.EqualFold(fields[1], "for") {
		return Crc32Result{}, false
	}
	if fields[3] != "..." || fields[5] != "==>" {
		return Crc32Result{}, false
	}
	start, rest, ok := scanHex(fields[2])
	if !ok || rest != "" {
		return Crc32Result{}, false
	}
	end, rest, ok := scanHex(fields[4])
	if !ok || rest != "" {
		return Crc32Result{}, false
	}
	value, rest, ok := scanHex(fields[6])
	if !ok || rest != "" || value > 0xffffffff {
		return Crc32Result{}, false
	}
	return Crc32Result{Start: start, End: end, Value: uint32(value)}, true
}

// parseTftpLine recognizes the terminal lines of tftpboot output:
//
//	Bytes transferred = 1048576 (100000 hex)
//	TFTP error: 'File not found' (1)
//	Retry count exceeded; starting again
//	Abort
func parseTftpLine(line string) (TftpStatus, bool) {
	switch {
	case strings.HasPrefix(line, "Bytes transferred"):
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return TftpStatus{}, false
		}
		rest := strings.TrimSpace(line[idx+1:])
		bytes, _, ok := scanDec(rest)
		if !ok {
			return TftpStatus{}, false
		}
		return TftpStatus{Bytes: bytes, OK: true, Message: line}, true

	case strings.HasPrefix(line, "TFTP error"):
		return TftpStatus{OK: false, Message: line}, true

	case strings.HasPrefix(line, "Retry count exceeded"):
		return TftpStatus{OK: false, Message: line}, true

	case line == "Abort":
		return TftpStatus{OK: false, Message: line}, true
	}
	return TftpStatus{}, false
}

// detectErrorBanner recognizes generic bootloader error messages.
func detectErrorBanner(line string) (string, bool) {
	for _, prefix := range []string{"## Error", "Unknown command", "*** ERROR", "ERROR:"} {
		if strings.HasPrefix(line, prefix) {
			return line, true
		}
	}
	return "", false
}
