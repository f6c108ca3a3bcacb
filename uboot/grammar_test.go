package uboot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, shape Shape, sent string, lines ...string) (Response, error) {
	t.Helper()
	c := newCollector(shape, sent, VariantStandard)
	for _, line := range lines {
		if err := c.feedLine(line); err != nil {
			return nil, err
		}
	}
	return c.finish()
}

func Test_parseCrcLine(t *testing.T) {
	tests := []struct {
		in   string
		want Crc32Result
		ok   bool
	}{
		{
			in:   "CRC32 for 82000000 ... 82000fff ==> deadbeef",
			want: Crc32Result{Start: 0x82000000, End: 0x82000fff, Value: 0xdeadbeef},
			ok:   true,
		},
		{
			in:   "crc32 for 82000000 ... 82000FFF ==> DEADBEEF",
			want: Crc32Result{Start: 0x82000000, End: 0x82000fff, Value: 0xdeadbeef},
			ok:   true,
		},
		{
			in:   "  CRC32   for   40008000   ...   4000ffff   ==>   0a1b2c3d  ",
			want: Crc32Result{Start: 0x40008000, End: 0x4000ffff, Value: 0x0a1b2c3d},
			ok:   true,
		},
		{in: "CRC32 for 82000000 ... 82000fff ==> deadbeef12"},
		{in: "CRC32 for xyz ... 82000fff ==> deadbeef"},
		{in: "Unknown command 'crc32' - try 'help'"},
		{in: ""},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			got, ok := parseCrcLine(test.in)
			assert.Equal(t, test.ok, ok)
			if test.ok {
				assert.Equal(t, test.want, got)
			}
		})
	}
}

func TestCollectorCrc32(t *testing.T) {
	resp, err := collect(t, ShapeCRC32,
		"crc32 0x82000000 0x1000",
		"crc32 0x82000000 0x1000",
		"CRC32 for 82000000 ... 82000fff ==> deadbeef",
	)
	require.NoError(t, err)
	assert.Equal(t, Crc32Result{Start: 0x82000000, End: 0x82000fff, Value: 0xdeadbeef}, resp)
}

func TestCollectorCrc32EchoOverrun(t *testing.T) {
	// The echoed command and the first output line can land in one frame.
	resp, err := collect(t, ShapeCRC32,
		"crc32 0x82000000 0x1000",
		"crc32 0x82000000 0x1000 CRC32 for 82000000 ... 82000fff ==> cafe0042",
	)
	require.NoError(t, err)
	assert.Equal(t, Crc32Result{Start: 0x82000000, End: 0x82000fff, Value: 0xcafe0042}, resp)
}

func TestCollectorCrc32Malformed(t *testing.T) {
	c := newCollector(ShapeCRC32, "crc32 0x82000000 0x1000", VariantStandard)
	require.NoError(t, c.feedLine("crc32 0x82000000 0x1000"))
	err := c.feedLine("Data abort")
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestCollectorCrc32Incomplete(t *testing.T) {
	// A prompt before the result line means the output never completed:
	// that is a parse failure at finish, distinct from line-level no-match.
	c := newCollector(ShapeCRC32, "crc32 0x82000000 0x1000", VariantStandard)
	require.NoError(t, c.feedLine("crc32 0x82000000 0x1000"))
	_, err := c.finish()
	assert.Error(t, err)
}

func TestCollectorEnvListing(t *testing.T) {
	resp, err := collect(t, ShapeEnvListing,
		"printenv",
		"printenv",
		"baudrate=115200",
		"bootcmd=bootm 0x82000000",
		"",
		"Environment size: 1093/8188 bytes",
	)
	require.NoError(t, err)

	listing, ok := resp.(EnvListing)
	require.True(t, ok)
	baud, ok := listing.Env.Get("baudrate")
	require.True(t, ok)
	assert.Equal(t, "115200", baud)
	assert.Equal(t, 2, listing.Env.Len())
}

func TestCollectorMemoryDump(t *testing.T) {
	resp, err := collect(t, ShapeMemoryDump,
		"md.b 0x42000000 0x20",
		"md.b 0x42000000 0x20",
		"42000000: 15 05 00 ea fe ff ff ea fe ff ff ea fe ff ff ea    ................",
		"42000010: 01 02 03 04 05 06 07 08 09 0a 0b 0c 0d 0e 0f 10    ................",
	)
	require.NoError(t, err)

	dump, ok := resp.(MemoryDump)
	require.True(t, ok)
	assert.Equal(t, uint64(0x42000000), dump.Addr)
	assert.Len(t, dump.Data, 32)
	assert.Equal(t, byte(0x10), dump.Data[31])
}

func TestCollectorTftpSuccess(t *testing.T) {
	resp, err := collect(t, ShapeTFTP,
		"tftpboot 0x82000000 fw.bin",
		"tftpboot 0x82000000 fw.bin",
		"TFTP from server 192.168.1.10; our IP address is 192.168.1.100",
		"Filename 'fw.bin'.",
		"Load address: 0x82000000",
		"Loading: #################",
		"done",
		"Bytes transferred = 1048576 (100000 hex)",
	)
	require.NoError(t, err)

	status, ok := resp.(TftpStatus)
	require.True(t, ok)
	assert.True(t, status.OK)
	assert.Equal(t, uint64(1048576), status.Bytes)
}

func TestCollectorTftpError(t *testing.T) {
	resp, err := collect(t, ShapeTFTP,
		"tftpboot 0x82000000 fw.bin",
		"tftpboot 0x82000000 fw.bin",
		"TFTP from server 192.168.1.10; our IP address is 192.168.1.100",
		"TFTP error: 'File not found' (1)",
	)
	require.NoError(t, err)

	status, ok := resp.(TftpStatus)
	require.True(t, ok)
	assert.False(t, status.OK)
	assert.Contains(t, status.Message, "File not found")
}

func TestCollectorTftpIncomplete(t *testing.T) {
	_, err := collect(t, ShapeTFTP,
		"tftpboot 0x82000000 fw.bin",
		"tftpboot 0x82000000 fw.bin",
		"Loading: ####",
	)
	assert.Error(t, err)
}

func TestCollectorErrorBanner(t *testing.T) {
	resp, err := collect(t, ShapeCRC32,
		"crc32 0x82000000 0x1000",
		"crc32 0x82000000 0x1000",
		"Unknown command 'crc32' - try 'help'",
	)
	require.NoError(t, err)

	banner, ok := resp.(ErrorBanner)
	require.True(t, ok)
	assert.Contains(t, banner.Message, "Unknown command")
}

func TestCollectorVersion(t *testing.T) {
	resp, err := collect(t, ShapeVersion,
		"version",
		"version",
		"U-Boot 2016.11-g2fc5f58-dirty (Nov 29 2016 - 13:02:21 +0800)",
		"arm-hisiv300-linux-gcc (Hisilicon_v300) 4.8.3",
	)
	require.NoError(t, err)

	report, ok := resp.(VersionReport)
	require.True(t, ok)
	assert.Equal(t, 2016, report.Info.Year)
	assert.Equal(t, 11, report.Info.Month)
	assert.Equal(t, "g2fc5f58", report.Info.Revision)
}

func TestCollectorFlashInfo(t *testing.T) {
	resp, err := collect(t, ShapeFlashInfo,
		"flashinfo",
		"flashinfo",
		"spi",
		"Block:64KB Chip:8MB*1",
		"ID:0xA1 0x40 0x17",
		`Name:"XM_FM25Q64"`,
	)
	require.NoError(t, err)

	report, ok := resp.(FlashReport)
	require.True(t, ok)
	assert.Equal(t, FlashSPI, report.Info.Kind)
	assert.Equal(t, "XM_FM25Q64", report.Info.Name)
	assert.Equal(t, [3]byte{0xa1, 0x40, 0x17}, report.Info.ID)
}

func TestCollectorPromptOnly(t *testing.T) {
	resp, err := collect(t, ShapePrompt,
		"setenv serverip 192.168.1.10",
		"setenv serverip 192.168.1.10",
	)
	require.NoError(t, err)
	assert.Equal(t, PromptOnly{}, resp)

	_, err = collect(t, ShapePrompt,
		"setenv serverip 192.168.1.10",
		"setenv serverip 192.168.1.10",
		"something talked back",
	)
	assert.Error(t, err)
}

func TestCollectorRaw(t *testing.T) {
	resp, err := collect(t, ShapeRaw,
		"help",
		"help",
		"?       - alias for 'help'",
		"base    - print or set address offset",
	)
	require.NoError(t, err)

	raw, ok := resp.(RawUnparsed)
	require.True(t, ok)
	assert.Contains(t, raw.Text, "address offset")
}
