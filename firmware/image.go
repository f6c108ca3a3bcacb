// Package firmware opens recovery images and verifies them against the
// checksum a bootloader computes after fetching them into RAM.
package firmware

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ChecksumMismatchError reports that the device holds different bytes than
// the image on disk. Flashing must not proceed past it.
type ChecksumMismatchError struct {
	Path string
	Want uint32
	Got  uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: image is %08x, device computed %08x", e.Path, e.Want, e.Got)
}

// Image is a firmware file staged for transfer. The checksum is computed
// lazily, once, on first use; images are safe for concurrent use.
type Image struct {
	path string
	size int64

	once sync.Once
	sum  uint32
	err  error
}

// Open stages the image at path. The file must exist and be non-empty; the
// bootloader's crc32 command cannot express an empty range.
func Open(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("staging firmware image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("firmware image %s is a directory", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("firmware image %s is empty", path)
	}
	return &Image{path: path, size: info.Size()}, nil
}

func (i *Image) Path() string {
	return i.path
}

// Name is the bare filename, the way a device asks for it over TFTP.
func (i *Image) Name() string {
	return filepath.Base(i.path)
}

func (i *Image) Size() int64 {
	return i.size
}

// Reader opens the image content for one transfer.
func (i *Image) Reader() (io.ReadCloser, error) {
	return os.Open(i.path)
}

// CRC32 returns the image checksum with the polynomial U-Boot's crc32
// command uses.
func (i *Image) CRC32() (uint32, error) {
	i.once.Do(func() {
		f, err := os.Open(i.path)
		if err != nil {
			i.err = fmt.Errorf("checksumming firmware image: %w", err)
			return
		}
		defer f.Close()

		h := crc32.NewIEEE()
		if _, err := io.Copy(h, f); err != nil {
			i.err = fmt.Errorf("checksumming firmware image: %w", err)
			return
		}
		i.sum = h.Sum32()
	})
	return i.sum, i.err
}

// Verify compares the checksum the device computed over its RAM copy with
// the image's own.
func (i *Image) Verify(got uint32) error {
	want, err := i.CRC32()
	if err != nil {
		return err
	}
	if got != want {
		return &ChecksumMismatchError{Path: i.path, Want: want, Got: got}
	}
	return nil
}
