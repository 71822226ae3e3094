package scanner

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dupfind/dupfind/internal/media"
)

func writeTestArchive(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
}

func TestListArchiveImages_SkipsNonImageMembers(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "book.cbz")
	writeTestArchive(t, archivePath, map[string]string{
		"page1.jpg": "fake jpeg bytes",
		"page2.png": "fake png bytes",
		"readme.txt": "not an image",
	})

	members, err := listArchiveImages(archivePath)
	require.NoError(t, err)
	require.Len(t, members, 2)

	var paths []string
	for _, m := range members {
		paths = append(paths, m.VirtualPath)
	}
	assert.Contains(t, paths, media.JoinArchivePath(archivePath, "page1.jpg"))
	assert.Contains(t, paths, media.JoinArchivePath(archivePath, "page2.png"))
}

func TestReadArchiveMember_RoundTrips(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "book.cbz")
	writeTestArchive(t, archivePath, map[string]string{"page1.jpg": "fake jpeg bytes"})

	data, err := readArchiveMember(archivePath, "page1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "fake jpeg bytes", string(data))
}

func TestReadArchiveMember_MissingMember(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "book.cbz")
	writeTestArchive(t, archivePath, map[string]string{"page1.jpg": "fake jpeg bytes"})

	_, err := readArchiveMember(archivePath, "page2.jpg")
	assert.Error(t, err)
}
