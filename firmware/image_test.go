package firmware

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageImage(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestOpenReportsSizeAndName(t *testing.T) {
	content := []byte("u-boot recovery payload")
	img, err := Open(stageImage(t, "upgrade.bin", content))
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), img.Size())
	assert.Equal(t, "upgrade.bin", img.Name())
}

func TestOpenRejectsEmptyImage(t *testing.T) {
	_, err := Open(stageImage(t, "empty.bin", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestOpenRejectsMissingImage(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.bin"))
	require.Error(t, err)
}

func TestCRC32MatchesStandardPolynomial(t *testing.T) {
	content := []byte{0x15, 0x05, 0x00, 0xea, 0x14, 0xf0, 0x9f, 0xe5}
	img, err := Open(stageImage(t, "upgrade.bin", content))
	require.NoError(t, err)

	sum, err := img.CRC32()
	require.NoError(t, err)
	assert.Equal(t, crc32.ChecksumIEEE(content), sum)

	// The checksum is cached; a second call must agree.
	again, err := img.CRC32()
	require.NoError(t, err)
	assert.Equal(t, sum, again)
}

func TestVerify(t *testing.T) {
	content := []byte("u-boot recovery payload")
	img, err := Open(stageImage(t, "upgrade.bin", content))
	require.NoError(t, err)

	want := crc32.ChecksumIEEE(content)
	assert.NoError(t, img.Verify(want))

	err = img.Verify(want ^ 0x1)
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, want, mismatch.Want)
	assert.Equal(t, want^0x1, mismatch.Got)
}

func TestReaderStreamsContent(t *testing.T) {
	content := []byte("u-boot recovery payload")
	img, err := Open(stageImage(t, "upgrade.bin", content))
	require.NoError(t, err)

	rc, err := img.Reader()
	require.NoError(t, err)
	defer rc.Close()

	got := make([]byte, len(content))
	_, err = rc.Read(got)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
