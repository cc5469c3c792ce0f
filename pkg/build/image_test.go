package build

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/ferrors"
)

func TestExtractDiskImageWritesGzippedSingleEntryArchive(t *testing.T) {
	dir := t.TempDir()
	archive := buildTestArchive(t, "disk.raw", []byte("vm-image-bytes"))

	path, err := ExtractDiskImage(dir, "web", archive)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "vm-images", "web.raw"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("vm-image-bytes"), content)
}

func TestExtractDiskImageAcceptsUncompressedArchive(t *testing.T) {
	dir := t.TempDir()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "disk.raw", Mode: 0644, Size: 4}))
	_, err := tw.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	path, err := ExtractDiskImage(dir, "plain", tarBuf.Bytes())
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), content)
}

func TestExtractDiskImageRejectsMultiEntryArchive(t *testing.T) {
	dir := t.TempDir()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "a", Mode: 0644, Size: 1}))
	_, _ = tw.Write([]byte("a"))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "b", Mode: 0644, Size: 1}))
	_, _ = tw.Write([]byte("b"))
	require.NoError(t, tw.Close())

	_, err := ExtractDiskImage(dir, "multi", tarBuf.Bytes())
	require.Error(t, err)
	require.Equal(t, ferrors.ImageExtractError, ferrors.KindOf(err))
}
