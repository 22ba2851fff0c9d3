// Package srcpkg inspects source package tarballs (the archives uploaded to the CCR) without
// unpacking them to disk.
package srcpkg

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var (
	ErrNotArchive  = errors.New("not a tar archive")
	ErrNoPkgbuild  = errors.New("no PKGBUILD in archive")
	ErrNoPkgname   = errors.New("PKGBUILD does not define pkgname")
	ErrUnsupported = errors.New("unsupported compression")
)

type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionXz
	CompressionZstd
	CompressionBzip2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionXz:
		return "xz"
	case CompressionZstd:
		return "zstd"
	case CompressionBzip2:
		return "bzip2"
	default:
		return "unknown"
	}
}

// Info is what could be read out of the PKGBUILD of a source package.
type Info struct {
	// Name is pkgbase when it is set, otherwise the first entry of pkgname.
	Name        string
	Names       []string
	Version     string
	Release     string
	Description string
	Compression Compression
	// PkgbuildPath is the path of the PKGBUILD inside the archive.
	PkgbuildPath string
}

// FullVersion is "<pkgver>-<pkgrel>", or just pkgver when there is no pkgrel.
func (i Info) FullVersion() string {
	if i.Release == "" {
		return i.Version
	}
	return i.Version + "-" + i.Release
}

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicXz   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	// "BZh" followed by the block size digit
	magicBzip2 = []byte{'B', 'Z', 'h'}
)

const maxPkgbuildSize = 1 << 20

func detect(r *bufio.Reader) (Compression, error) {
	head, err := r.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return CompressionGzip, nil
	case bytes.HasPrefix(head, magicXz):
		return CompressionXz, nil
	case bytes.HasPrefix(head, magicZstd):
		return CompressionZstd, nil
	case bytes.HasPrefix(head, magicBzip2) && len(head) > 3 && head[3] >= '1' && head[3] <= '9':
		return CompressionBzip2, nil
	default:
		return CompressionNone, nil
	}
}

func decompress(r io.Reader, c Compression) (io.Reader, func(), error) {
	noop := func() {}
	switch c {
	case CompressionNone:
		return r, noop, nil
	case CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, noop, err
		}
		return gr, func() { gr.Close() }, nil
	case CompressionXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, noop, err
		}
		return xr, noop, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, err
		}
		return zr, zr.Close, nil
	case CompressionBzip2:
		return bzip2.NewReader(r), noop, nil
	default:
		return nil, noop, ErrUnsupported
	}
}

// isPkgbuild matches "PKGBUILD" at the root of the archive or one directory deep, which is how
// makepkg --source lays them out.
func isPkgbuild(name string) bool {
	name = strings.TrimPrefix(path.Clean(name), "./")
	if path.Base(name) != "PKGBUILD" {
		return false
	}
	return strings.Count(name, "/") <= 1
}

// Inspect reads a (possibly compressed) tar archive from `r` and parses the PKGBUILD inside it.
func Inspect(r io.Reader) (Info, error) {
	br := bufio.NewReader(r)
	compression, err := detect(br)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrNotArchive, err)
	}

	decompressed, closer, err := decompress(br, compression)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %w", ErrNotArchive, compression, err)
	}
	defer closer()

	tr := tar.NewReader(decompressed)
	read := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Info{}, fmt.Errorf("%w: %w", ErrNotArchive, err)
		}
		read++

		if header.Typeflag != tar.TypeReg || !isPkgbuild(header.Name) {
			continue
		}
		info, err := ParsePkgbuild(io.LimitReader(tr, maxPkgbuildSize))
		if err != nil {
			return Info{}, err
		}
		info.Compression = compression
		info.PkgbuildPath = header.Name
		return info, nil
	}

	if read == 0 {
		return Info{}, ErrNotArchive
	}
	return Info{}, ErrNoPkgbuild
}

func InspectFile(filename string) (Info, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	return Inspect(f)
}
