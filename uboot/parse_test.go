package uboot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_scanHex(t *testing.T) {
	tests := []struct {
		in   string
		val  uint64
		rest string
		ok   bool
	}{
		{in: "0", val: 0x0, rest: "", ok: true},
		{in: "5", val: 0x5, rest: "", ok: true},
		{in: "a", val: 0xa, rest: "", ok: true},
		{in: "A", val: 0xa, rest: "", ok: true},
		{in: "Fa", val: 0xfa, rest: "", ok: true},
		{in: "42000000:", val: 0x42000000, rest: ":", ok: true},
		{in: "g", rest: "g"},
		{in: "", rest: ""},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			val, rest, ok := scanHex(test.in)
			assert.Equal(t, test.ok, ok)
			assert.Equal(t, test.val, val)
			assert.Equal(t, test.rest, rest)
		})
	}
}

func Test_scanHexByte(t *testing.T) {
	tests := []struct {
		in   string
		val  byte
		rest string
		ok   bool
	}{
		{in: "0", val: 0x0, ok: true},
		{in: "05", val: 0x5, ok: true},
		{in: "aA", val: 0xaa, ok: true},
		{in: "Fab", val: 0xfa, rest: "b", ok: true},
		{in: "0g", val: 0x0, rest: "g", ok: true},
		{in: ".", rest: "."},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			val, rest, ok := scanHexByte(test.in)
			assert.Equal(t, test.ok, ok)
			assert.Equal(t, test.val, val)
			assert.Equal(t, test.rest, rest)
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in  string
		val uint64
		err bool
	}{
		{in: "0x100", val: 0x100},
		{in: "0X42000000", val: 0x42000000},
		{in: "16", val: 16},
		{in: "8M", val: 8 << 20},
		{in: "64KB", val: 64 << 10},
		{in: "64kb", val: 64 << 10},
		{in: "115200", val: 115200},
		{in: " 0x40000 ", val: 0x40000},
		{in: "zzz", err: true},
		{in: "", err: true},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			val, err := ParseSize(test.in)
			if test.err {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, test.val, val)
			}
		})
	}
}
