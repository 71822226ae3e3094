package scanner

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dupfind/dupfind/internal/media"
)

func testParams() Params {
	return Params{Recursive: true, MinFileSize: 0, EstimateCost: true}
}

func TestWalk_FindsImagesAndVideos(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.jpg")
	vid := filepath.Join(dir, "b.mp4")
	ignored := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(img, []byte("fake jpeg"), 0o644))
	require.NoError(t, os.WriteFile(vid, []byte("fake mp4"), 0o644))
	require.NoError(t, os.WriteFile(ignored, []byte("text"), 0o644))

	errs := NewErrorMap()
	result, err := Walk(dir, map[string]bool{}, time.Time{}, testParams(), errs)
	require.NoError(t, err)

	assert.Len(t, result.ImageJobs, 1)
	assert.Equal(t, img, result.ImageJobs[0].Path)
	assert.Len(t, result.VideoJobs, 1)
	assert.Equal(t, vid, result.VideoJobs[0].Path)
	assert.Contains(t, errs.Snapshot()[ignored], FileError{Kind: ErrorUnsupported, Message: "extension not recognized"})
}

// TestWalk_Idempotence mirrors a "scan twice with nothing changed" run: the
// second pass, seeded with the first pass's seen paths as expected, should
// enqueue nothing.
func TestWalk_Idempotence(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(img, []byte("fake jpeg"), 0o644))

	errs := NewErrorMap()
	first, err := Walk(dir, map[string]bool{}, time.Time{}, testParams(), errs)
	require.NoError(t, err)
	assert.Len(t, first.ImageJobs, 1)

	expected := map[string]bool{img: true}
	second, err := Walk(dir, expected, time.Time{}, testParams(), errs)
	require.NoError(t, err)
	assert.Empty(t, second.ImageJobs)
	assert.Empty(t, expected)
}

// TestWalk_SkipList verifies a file absent from the expected set (newly
// appeared since the last scan) is enqueued even though the set was
// otherwise non-empty.
func TestWalk_SkipList(t *testing.T) {
	dir := t.TempDir()
	known := filepath.Join(dir, "known.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	require.NoError(t, os.WriteFile(known, []byte("fake jpeg"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("fake jpeg"), 0o644))

	expected := map[string]bool{known: true}
	errs := NewErrorMap()
	result, err := Walk(dir, expected, time.Time{}, testParams(), errs)
	require.NoError(t, err)

	assert.Len(t, result.ImageJobs, 1)
	assert.Equal(t, fresh, result.ImageJobs[0].Path)
}

// TestWalk_RemovedFilesRemainExpected checks that a path present in expected
// but absent from disk is left behind for the caller to treat as deleted.
func TestWalk_RemovedFilesRemainExpected(t *testing.T) {
	dir := t.TempDir()
	gone := filepath.Join(dir, "gone.jpg")
	expected := map[string]bool{gone: true}

	errs := NewErrorMap()
	_, err := Walk(dir, expected, time.Time{}, testParams(), errs)
	require.NoError(t, err)

	assert.True(t, expected[gone])
}

// TestWalk_ModifiedSinceReenqueues checks that a previously-seen file whose
// mtime is newer than modifiedSince is enqueued again despite being expected.
func TestWalk_ModifiedSinceReenqueues(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(img, []byte("fake jpeg"), 0o644))

	cutoff := time.Now().Add(-time.Hour)
	expected := map[string]bool{img: true}
	errs := NewErrorMap()
	result, err := Walk(dir, expected, cutoff, testParams(), errs)
	require.NoError(t, err)

	assert.Len(t, result.ImageJobs, 1)
}

func TestWalk_ExpandsArchiveMembers(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "book.cbz")

	f, err := os.Create(archivePath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("page1.jpg")
	require.NoError(t, err)
	_, err = w.Write([]byte("fake jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	errs := NewErrorMap()
	result, err := Walk(dir, map[string]bool{}, time.Time{}, testParams(), errs)
	require.NoError(t, err)

	require.Len(t, result.ImageJobs, 1)
	assert.Equal(t, media.JoinArchivePath(archivePath, "page1.jpg"), result.ImageJobs[0].Path)
}

func TestWalk_TooSmallSkipped(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(img, []byte("x"), 0o644))

	params := testParams()
	params.MinFileSize = 1024

	errs := NewErrorMap()
	result, err := Walk(dir, map[string]bool{}, time.Time{}, params, errs)
	require.NoError(t, err)

	assert.Empty(t, result.ImageJobs)
	assert.Equal(t, ErrorTooSmall, errs.Snapshot()[img][0].Kind)
}

func TestWalk_EstimateCostSortsVideosLongestFirst(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.mp4")
	big := filepath.Join(dir, "big.mp4")
	require.NoError(t, os.WriteFile(small, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(big, []byte("aaaaaaaaaa"), 0o644))

	errs := NewErrorMap()
	result, err := Walk(dir, map[string]bool{}, time.Time{}, testParams(), errs)
	require.NoError(t, err)

	require.Len(t, result.VideoJobs, 2)
	assert.Equal(t, big, result.VideoJobs[0].Path)
	assert.Equal(t, small, result.VideoJobs[1].Path)
}
