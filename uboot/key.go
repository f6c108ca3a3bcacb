package uboot

import (
	"fmt"
	"strings"
)

// Key is the keystroke a bootloader accepts to stop autoboot.
type Key struct {
	kind keyKind
	char byte
}

type keyKind int

const (
	keyAny keyKind = iota
	keyChar
	keyCtrl
)

// AnyKey stops bootloaders that accept any keypress.
var AnyKey = Key{kind: keyAny}

func CharKey(c byte) Key {
	return Key{kind: keyChar, char: c}
}

func CtrlKey(c byte) Key {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	return Key{kind: keyCtrl, char: c}
}

// Encode returns the bytes to write on the serial line for this key.
func (k Key) Encode() []byte {
	switch k.kind {
	case keyChar:
		return []byte{k.char}
	case keyCtrl:
		return []byte{k.char - ('A' - 0x01)}
	default:
		// Any printable byte works; 'a' is harmless if the window is missed.
		return []byte{'a'}
	}
}

func (k Key) String() string {
	switch k.kind {
	case keyChar:
		return string(k.char)
	case keyCtrl:
		return "ctrl+" + string(k.char|0x20)
	default:
		return "any"
	}
}

// ParseKey parses a key spec from a device profile: "any", "a", "ctrl+c".
func ParseKey(spec string) (Key, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	switch {
	case s == "" || s == "any":
		return AnyKey, nil
	case strings.HasPrefix(s, "ctrl+") || strings.HasPrefix(s, "ctrl-"):
		rest := s[len("ctrl+"):]
		if len(rest) != 1 || rest[0] < 'a' || rest[0] > 'z' {
			return Key{}, fmt.Errorf("invalid control key spec %q", spec)
		}
		return CtrlKey(rest[0]), nil
	case len(s) == 1 && s[0] >= 'a' && s[0] <= 'z':
		return CharKey(s[0]), nil
	}
	return Key{}, fmt.Errorf("invalid key spec %q", spec)
}

// ParseStopKey recognizes the autoboot countdown banner and extracts the
// keystroke it asks for. Handles the common wordings:
//
//	Hit any key to stop autoboot:  2
//	Hit a to stop autoboot:  3
//	Press Ctrl-C to stop autoboot
func ParseStopKey(line string) (Key, bool) {
	lower := strings.ToLower(line)
	idx := strings.Index(lower, "to stop autoboot")
	if idx < 0 {
		return Key{}, false
	}
	head := strings.TrimSpace(lower[:idx])
	for _, verb := range []string{"hit ", "press "} {
		if i := strings.Index(head, verb); i >= 0 {
			head = strings.TrimSpace(head[i+len(verb):])
			break
		}
	}
	switch {
	case strings.HasPrefix(head, "any key"), head == "any":
		return AnyKey, true
	case strings.HasPrefix(head, "ctrl+") || strings.HasPrefix(head, "ctrl-"):
		rest := strings.TrimPrefix(strings.TrimPrefix(head, "ctrl+"), "ctrl-")
		if len(rest) >= 1 && rest[0] >= 'a' && rest[0] <= 'z' {
			return CtrlKey(rest[0]), true
		}
	case len(head) >= 1 && head[0] >= 'a' && head[0] <= 'z' && (len(head) == 1 || head[1] == ' '):
		return CharKey(head[0]), true
	}
	return Key{}, false
}
