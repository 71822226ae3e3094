package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dupfind/dupfind/internal/alloc"
	"github.com/dupfind/dupfind/internal/cancel"
	"github.com/dupfind/dupfind/internal/fingerprint"
	"github.com/dupfind/dupfind/internal/index"
	"github.com/dupfind/dupfind/internal/logctx"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
)

// Scanner drives a directory scan: walk, job scheduling across bounded
// thread pools, and the batched SQL hand-off.
type Scanner struct {
	Params  Params
	DB      *store.DB
	Indexes map[media.IndexKind]index.Index
	Errors  *ErrorMap
	Log     *logctx.Logger
	Alloc   *alloc.Pool

	token *cancel.Token
	mu    sync.Mutex
}

// Flush empties in-flight work by cancelling the current scan's token: I/O
// wrappers poll the token at every buffered read and return early. If wait
// is true the caller should still observe
// ScanDirectory's return before reusing the Scanner; Flush itself only
// signals, since draining happens inside ScanDirectory's errgroup.Wait.
func (s *Scanner) Flush(wait bool) {
	s.mu.Lock()
	s.token.Cancel()
	s.token = cancel.NewToken() // the next ScanDirectory starts uncancelled
	s.mu.Unlock()
}

func (s *Scanner) currentToken() *cancel.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func New(params Params, db *store.DB, indexes map[media.IndexKind]index.Index, logger *logctx.Logger) *Scanner {
	if logger == nil {
		logger = logctx.New(nil)
	}
	return &Scanner{
		Params:  params,
		DB:      db,
		Indexes: indexes,
		Errors:  NewErrorMap(),
		Log:     logger,
		Alloc:   alloc.New(0),
		token:   cancel.NewToken(),
	}
}

// ScanDirectory runs the full scan pipeline: walk, then run the job
// scheduler's bounded image and video pools via golang.org/x/sync/errgroup,
// flushing a batched Sink at writeBatchSize or on each completed video job.
func (s *Scanner) ScanDirectory(ctx context.Context, root string, expected map[string]bool, modifiedSince time.Time) error {
	defer s.Log.Push(fmt.Sprintf("scan:%s", root))()

	token := s.currentToken()
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-token.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	result, err := Walk(root, expected, modifiedSince, s.Params, s.Errors)
	if err != nil {
		return err
	}
	s.Log.Info("walk complete", "images", len(result.ImageJobs), "videos", len(result.VideoJobs))

	if s.Params.DryRun {
		return nil
	}

	sink := NewSink(s.DB, s.Indexes, s.Params.WriteBatchSize)

	imagePoolSize := s.Params.IndexThreads
	if imagePoolSize < 1 {
		imagePoolSize = 1
	}
	// Video decode has a single (CPU, ffmpeg) implementation here rather than
	// the GPU/CPU pair the pool names imply, so gpu_pool's size (GPUThreads)
	// is what actually bounds concurrent video jobs; see DESIGN.md.
	videoPoolSize := s.Params.GPUThreads
	if videoPoolSize < 1 {
		videoPoolSize = 1
	}

	g, gctx := errgroup.WithContext(ctx)

	imageSem := make(chan struct{}, imagePoolSize)
	for _, job := range result.ImageJobs {
		job := job
		imageSem <- struct{}{}
		g.Go(func() error {
			defer func() { <-imageSem }()
			return s.runImageJob(gctx, job, sink)
		})
	}

	videoSem := make(chan struct{}, videoPoolSize)
	for _, job := range result.VideoJobs {
		job := job
		videoSem <- struct{}{}
		g.Go(func() error {
			defer func() { <-videoSem }()
			return s.runVideoJob(gctx, job, sink)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return sink.Commit(ctx)
}

// runImageJob processes one image job, recording a non-fatal per-file
// error rather than failing the whole scan. SQL/allocator errors are fatal
// and propagate.
func (s *Scanner) runImageJob(ctx context.Context, job Job, sink *Sink) error {
	defer s.Log.Push(fmt.Sprintf("image:%s", job.Path))()

	m, err := s.processImageFile(ctx, job)
	if err != nil {
		if fe, ok := err.(*fatalError); ok {
			return fe.err
		}
		s.Errors.Add(job.Path, classifyProcessError(err), err.Error())
		return nil
	}
	return sink.Add(ctx, m)
}

// runVideoJob processes one video job. This repo has only one decode path
// (ffmpeg via CPU), so failures are simply logged rather than retried on
// an alternate pool.
func (s *Scanner) runVideoJob(ctx context.Context, job Job, sink *Sink) error {
	defer s.Log.Push(fmt.Sprintf("video:%s", job.Path))()

	m, err := s.processVideoFile(ctx, job)
	if err != nil {
		if fe, ok := err.(*fatalError); ok {
			return fe.err
		}
		s.Errors.Add(job.Path, classifyProcessError(err), err.Error())
		return nil
	}
	return sink.Add(ctx, m)
}

// fatalError wraps an error that should abort the whole scan (SQL, OOM)
// rather than being recorded per-file.
type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }

func classifyProcessError(err error) ErrorKind {
	switch {
	case errors.Is(err, errTruncatedJPEG):
		return ErrorJpegTruncated
	case errors.Is(err, context.Canceled):
		return ErrorDecodeCancelled
	case errors.Is(err, errOpenFailed):
		return ErrorOpen
	case errors.Is(err, errTooSmall):
		return ErrorTooSmall
	default:
		return ErrorLoad
	}
}

var (
	errTruncatedJPEG = fmt.Errorf("truncated jpeg: missing end-of-image marker")
	errOpenFailed    = fmt.Errorf("open failed")
	errTooSmall      = fmt.Errorf("skip small file")
)

// processImageFile implements original_source/scanner.h's processImageFile:
// read raw bytes (from disk or an archive member), compute the canonical
// digest, decode, orient, optionally auto-crop, and compute every
// fingerprint this repo's indexes need.
func (s *Scanner) processImageFile(ctx context.Context, job Job) (*media.Media, error) {
	m, _, err := s.fingerprintImage(ctx, job)
	return m, err
}

// ProcessNeedleImage fingerprints a single on-disk or archive-member image
// exactly as the scan pipeline would, additionally returning the decoded
// image. Query-side callers need the pixels themselves for mirror re-search
// and template matching, neither of which a persisted Media record alone
// carries.
func (s *Scanner) ProcessNeedleImage(ctx context.Context, path string) (*media.Media, image.Image, error) {
	return s.fingerprintImage(ctx, Job{Path: path, Type: media.TypeImage})
}

func (s *Scanner) fingerprintImage(ctx context.Context, job Job) (*media.Media, image.Image, error) {
	data, orientation, pooled, err := s.readImageBytes(job.Path)
	if err != nil {
		return nil, nil, err
	}
	if pooled {
		defer s.Alloc.Put(data)
	}
	if len(data) < int(s.Params.MinFileSize) {
		return nil, nil, errTooSmall
	}

	isJPEG := media.Suffix(job.Path) == "jpg" || media.Suffix(job.Path) == "jpeg" || media.Suffix(job.Path) == "jfif"
	digest, err := media.Digest(bytes.NewReader(data), isJPEG)
	if err != nil {
		return nil, nil, err
	}

	img, _, err := image.Decode(cancel.Reader{Ctx: ctx, R: bytes.NewReader(data)})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if isJPEG && errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, errTruncatedJPEG
		}
		return nil, nil, fmt.Errorf("decode %s: %w", job.Path, err)
	}
	img = media.ApplyOrientation(img, orientation)
	if s.Params.ResizeLongestSide > 0 {
		img = media.ScaleToFit(img, s.Params.ResizeLongestSide)
	}
	if s.Params.Autocrop {
		img = fingerprint.AutoCrop(img, 20, 0.05)
	}

	b := img.Bounds()
	m := &media.Media{
		Type:             media.TypeImage,
		Path:             job.Path,
		ContentDigest:    digest,
		Width:            b.Dx(),
		Height:           b.Dy(),
		OriginalSize:     int64(len(data)),
		CompressionRatio: compressionRatio(img, len(data)),
	}
	m.DCTHash = int64(fingerprint.DCTHash(img))
	m.ColorDescriptor = fingerprint.ColorDescriptor(img, int64(job.Size))
	kp, desc, rows := fingerprint.ExtractORB(img, s.featureCount())
	m.Keypoints, m.Descriptors, m.DescriptorRows = kp, desc, rows
	if rows > 0 {
		m.KeypointHashes = fingerprint.KeypointHashes(img, kp)
	}
	return m, img, nil
}

func (s *Scanner) featureCount() int {
	if s.Params.NumFeatures > 0 {
		return s.Params.NumFeatures
	}
	return fingerprint.MaxKeypointsIndexing
}

// compressionRatio is decoded-byte-count / file-byte-count, computed once
// at scan time per original_source/media.cpp.
func compressionRatio(img image.Image, fileBytes int) float64 {
	if fileBytes == 0 {
		return 0
	}
	b := img.Bounds()
	decodedBytes := b.Dx() * b.Dy() * 4
	return float64(decodedBytes) / float64(fileBytes)
}

// readImageBytes returns raw image bytes and the EXIF orientation tag,
// handling both plain filesystem paths and ARCHIVE_PATH:MEMBER_PATH
// virtual paths transparently. The returned pooled flag tells the caller
// whether to return the buffer to s.Alloc when done; archive-member bytes
// come from archive/zip's own allocation and aren't pool-owned.
func (s *Scanner) readImageBytes(path string) ([]byte, media.Orientation, bool, error) {
	if archivePath, memberPath, ok := media.SplitArchivePath(path); ok {
		data, err := readArchiveMember(archivePath, memberPath)
		if err != nil {
			return nil, 1, false, err
		}
		return data, media.ReadOrientationBytes(data), false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 1, false, fmt.Errorf("open %s: %w: %w", path, errOpenFailed, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, 1, false, fmt.Errorf("stat %s: %w: %w", path, errOpenFailed, err)
	}

	buf := s.Alloc.Get(int(fi.Size()))
	if buf == nil {
		return nil, 1, false, &fatalError{fmt.Errorf("allocator refused %d bytes for %s", fi.Size(), path)}
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		s.Alloc.Put(buf)
		return nil, 1, false, fmt.Errorf("read %s: %w", path, err)
	}
	return buf, media.ReadOrientationBytes(buf), true, nil
}

// processVideoFile decodes path's frames via ffmpeg, building the
// per-frame hash sequence, and computes compression ratio against the
// total video file size.
func (s *Scanner) processVideoFile(ctx context.Context, job Job) (*media.Media, error) {
	src, err := newFFmpegFrameSource(ctx, job.Path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	videoIdx := fingerprint.BuildVideoIndex(src, s.Params.VideoThreshold)
	if len(videoIdx.Hashes) == 0 {
		return nil, fmt.Errorf("no frames decoded from %s", job.Path)
	}

	data, err := os.ReadFile(job.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", job.Path, errOpenFailed, err)
	}
	digest, err := media.Digest(bytes.NewReader(data), false)
	if err != nil {
		return nil, err
	}

	return &media.Media{
		Type:          media.TypeVideo,
		Path:          job.Path,
		ContentDigest: digest,
		Width:         -1,
		Height:        -1,
		OriginalSize:  int64(len(data)),
		VideoIndex:    videoIdx,
	}, nil
}
