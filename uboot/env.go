package uboot

import (
	"fmt"
	"strings"
)

// Env holds bootloader variables in the order the console printed them.
// It collects both printenv listings (key=value) and bdinfo listings
// (key = value with spaces in keys, e.g. "-> start").
type Env struct {
	keys   []string
	values map[string]string
}

func NewEnv() *Env {
	return &Env{values: map[string]string{}}
}

func (e *Env) Len() int {
	return len(e.keys)
}

// Keys returns variable names in insertion order.
func (e *Env) Keys() []string {
	return e.keys
}

func (e *Env) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

func (e *Env) Set(key, value string) {
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Size parses a variable as a size literal (0x100, 16, 8M, 64KB).
func (e *Env) Size(key string) (uint64, error) {
	v, ok := e.values[key]
	if !ok {
		return 0, fmt.Errorf("variable %q not found", key)
	}
	val, err := ParseSize(v)
	if err != nil {
		return 0, fmt.Errorf("variable %q: %w", key, err)
	}
	return val, nil
}

// AddLine parses one printenv or bdinfo output line into the environment.
// Keys keep interior spaces but lose surrounding whitespace; values are
// taken to the end of line with trailing \r trimmed.
func (e *Env) AddLine(line string) error {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return &ParseError{Line: line, Reason: "no key=value separator"}
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" {
		return &ParseError{Line: line, Reason: "empty variable name"}
	}
	value := strings.TrimSpace(line[idx+1:])
	e.Set(key, value)
	return nil
}

// MemRegion is a base/size pair describing RAM or one MTD partition.
type MemRegion struct {
	Base uint64
	Size uint64
}

func (r MemRegion) String() string {
	return fmt.Sprintf("%#08x+%#08x", r.Base, r.Size)
}

// RAMRegion extracts the DRAM bank reported by bdinfo.
func (e *Env) RAMRegion() (MemRegion, error) {
	base, err := e.Size("-> start")
	if err != nil {
		return MemRegion{}, err
	}
	size, err := e.Size("-> size")
	if err != nil {
		return MemRegion{}, err
	}
	return MemRegion{Base: base, Size: size}, nil
}

// MTDPart is a named flash partition with its resolved offsets.
type MTDPart struct {
	Name   string
	Region MemRegion
}

// ParseMTDParts parses an mtdparts spec as found in bootargs, for example
//
//	hi_sfc:0x40000(boot),0x2E0000(romfs),0x420000(user)
//
// and resolves each partition's base offset from the cumulative sizes.
func ParseMTDParts(spec string) ([]MTDPart, error) {
	spec = strings.TrimSpace(spec)
	idx := strings.IndexByte(spec, ':')
	if idx < 0 {
		return nil, &ParseError{Line: spec, Reason: "missing device prefix"}
	}
	rest := spec[idx+1:]
	if rest == "" {
		return nil, nil
	}

	var parts []MTDPart
	var offset uint64
	for _, entry := range strings.Split(rest, ",") {
		open := strings.IndexByte(entry, '(')
		close := strings.IndexByte(entry, ')')
		if open < 0 || close < open {
			return nil, &ParseError{Line: entry, Reason: "malformed partition entry"}
		}
		size, err := ParseSize(entry[:open])
		if err != nil {
			return nil, &ParseError{Line: entry, Reason: err.Error()}
		}
		name := entry[open+1 : close]
		parts = append(parts, MTDPart{
			Name:   name,
			Region: MemRegion{Base: offset, Size: size},
		})
		offset += size
	}
	return parts, nil
}

// MTDParts extracts and parses the mtdparts= clause from the bootargs
// variable.
func (e *Env) MTDParts() ([]MTDPart, error) {
	bootargs, ok := e.Get("bootargs")
	if !ok {
		return nil, fmt.Errorf("variable %q not found", "bootargs")
	}
	for _, field := range strings.Fields(bootargs) {
		if strings.HasPrefix(field, "mtdparts=") {
			return ParseMTDParts(strings.TrimPrefix(field, "mtdparts="))
		}
	}
	return nil, fmt.Errorf("bootargs has no mtdparts clause")
}
