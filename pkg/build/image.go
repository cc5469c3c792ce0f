package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/formation/pkg/ferrors"
)

// gzipMagic is the two-byte gzip header sniffed to decide whether a
// disk image archive needs decompression before untarring, per
// spec.md §4.3's "gzip-sniffed by the magic bytes 1F 8B".
var gzipMagic = []byte{0x1F, 0x8B}

// VMImagesPath is the directory finished raw disk images are written
// to when ExtractDiskImage is given an empty dataDir (spec.md §6).
const VMImagesPath = "/var/lib/formation/vm-images"

// ExtractDiskImage reads a build server's disk image archive --
// optionally gzip-compressed, always a tar with exactly one entry --
// and writes that entry to <dataDir>/vm-images/<name>.raw, returning the
// written path. It writes under VMImagesPath only when dataDir is
// empty. Any non-single-entry archive is an ImageExtractError.
func ExtractDiskImage(dataDir string, name string, archive []byte) (string, error) {
	reader, err := decompressIfGzip(archive)
	if err != nil {
		return "", ferrors.Wrap(ferrors.ImageExtractError, "build.ExtractDiskImage", "failed to decompress image archive", err)
	}

	tr := tar.NewReader(reader)
	hdr, err := tr.Next()
	if err != nil {
		return "", ferrors.Wrap(ferrors.ImageExtractError, "build.ExtractDiskImage", "image archive has no entries", err)
	}
	if hdr.Typeflag != tar.TypeReg {
		return "", ferrors.New(ferrors.ImageExtractError, "build.ExtractDiskImage", fmt.Sprintf("expected a regular file entry, got type %q", string(hdr.Typeflag)))
	}

	imagesDir := filepath.Join(dataDir, "vm-images")
	if dataDir == "" {
		imagesDir = VMImagesPath
	}
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		return "", ferrors.Wrap(ferrors.ImageExtractError, "build.ExtractDiskImage", "failed to create vm-images directory", err)
	}

	destPath := filepath.Join(imagesDir, name+".raw")
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", ferrors.Wrap(ferrors.ImageExtractError, "build.ExtractDiskImage", "failed to open destination image file", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, tr); err != nil {
		return "", ferrors.Wrap(ferrors.ImageExtractError, "build.ExtractDiskImage", "failed to write disk image", err)
	}

	// Confirm the archive truly had exactly one entry -- a second entry
	// means the build server produced something we don't understand.
	if _, err := tr.Next(); err != io.EOF {
		return "", ferrors.New(ferrors.ImageExtractError, "build.ExtractDiskImage", "image archive contained more than one entry")
	}

	return destPath, nil
}

func decompressIfGzip(data []byte) (io.Reader, error) {
	if len(data) >= 2 && bytes.Equal(data[:2], gzipMagic) {
		return gzip.NewReader(bytes.NewReader(data))
	}
	return bytes.NewReader(data), nil
}
