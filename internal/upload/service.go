// Package upload validates, transcodes and persists uploaded images, and serves
// lookups, deletion, statistics and retention cleanup over the stored assets.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petermazzocco/recipe-media/internal/cache"
	"github.com/petermazzocco/recipe-media/internal/logger"
	"github.com/petermazzocco/recipe-media/internal/storage"
	"github.com/petermazzocco/recipe-media/internal/transcode"
)

// Transcoder renders derivatives from a source image.
type Transcoder interface {
	Probe(src []byte) (transcode.Metadata, error)
	Transform(src []byte, meta transcode.Metadata, spec transcode.Spec) (transcode.Output, error)
}

// Recorder receives successful uploads and deletions. Its failures never fail a request.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
	Forget(ctx context.Context, baseName string) error
}

// Sweeper performs retention cleanup.
type Sweeper interface {
	Run(ctx context.Context, olderThanDays int) (int, error)
}

type Record struct {
	BaseName string
	OwnerID  string
	Filename string
	MimeType string
	Size     int64
	Width    int
	Height   int
}

// State names the steps an upload moves through; Rejected and Failed are terminal.
type State string

const (
	StateReceived    State = "received"
	StateValidated   State = "validated"
	StateTranscoding State = "transcoding"
	StatePersisted   State = "persisted"
	StateResponded   State = "responded"
	StateRejected    State = "rejected"
	StateFailed      State = "failed"
)

var variantSpecs = map[storage.Variant]transcode.Spec{
	storage.Original:  transcode.OriginalSpec,
	storage.Thumbnail: transcode.ThumbnailSpec,
	storage.Optimized: transcode.OptimizedSpec,
}

type Request struct {
	File   FileInput
	UserID string
}

type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
}

type Result struct {
	BaseName     string
	Filename     string
	MimeType     string
	Size         int64
	OriginalURL  string
	ThumbnailURL string
	OptimizedURL string
	Metadata     Metadata
}

type Info struct {
	Exists     bool      `json:"exists"`
	URL        string    `json:"url,omitempty"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Format     string    `json:"format,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

type Stats struct {
	TotalFiles  int   `json:"totalFiles"`
	TotalSize   int64 `json:"totalSize"`
	AverageSize int64 `json:"averageSize"`
	Uploads     int   `json:"uploads"`
}

type Options struct {
	Limits   Limits
	BaseURL  string
	CacheTTL time.Duration
	Recorder Recorder
	Cache    cache.Cache
}

type Service struct {
	store    storage.Store
	tc       Transcoder
	sweeper  Sweeper
	recorder Recorder
	cache    cache.Cache
	limits   Limits
	baseURL  string
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
	token    func() string
}

func NewService(log *slog.Logger, store storage.Store, tc Transcoder, sweeper Sweeper, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	c := opts.Cache
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{
		store:    store,
		tc:       tc,
		sweeper:  sweeper,
		recorder: opts.Recorder,
		cache:    c,
		limits:   opts.Limits,
		baseURL:  opts.BaseURL,
		cacheTTL: opts.CacheTTL,
		logger:   log.With(slog.String("service", "upload")),
		now:      time.Now,
		token:    RandomToken,
	}
}

// Limits exposes the configured validation limits.
func (s *Service) Limits() Limits { return s.limits }

// Upload validates the file, writes all three variants under one fresh base name and returns their URLs.
// Any variant failing fails the whole upload; variants already written are removed best-effort.
func (s *Service) Upload(ctx context.Context, req Request) (Result, error) {
	log := logger.FromContext(ctx).With(slog.String("service", "upload"))
	log.Debug("upload state", slog.String("state", string(StateReceived)))

	if violations := Validate(req.File, s.limits); len(violations) > 0 {
		log.Info("upload state", slog.String("state", string(StateRejected)), slog.String("reason", string(violations[0].Code)))
		return Result{}, &ValidationError{Violations: violations}
	}
	log.Debug("upload state", slog.String("state", string(StateValidated)))

	src := req.File.Data
	meta, err := s.tc.Probe(src)
	if err != nil {
		log.Warn("upload state", slog.String("state", string(StateFailed)), slog.Any("error", err))
		return Result{}, err
	}

	base := BaseName(req.UserID, s.now(), s.token())
	log = log.With(slog.String("base", base))
	log.Debug("upload state", slog.String("state", string(StateTranscoding)))

	// Client disconnects do not abort writes; a partial set would outlive the request.
	writeCtx := context.WithoutCancel(ctx)
	if err := s.writeVariants(writeCtx, base, src, meta); err != nil {
		log.Error("upload state", slog.String("state", string(StateFailed)), slog.Any("error", err))
		if _, cleanupErr := s.store.Delete(writeCtx, base); cleanupErr != nil {
			log.Warn("cleanup of partial upload failed", slog.Any("error", cleanupErr))
		}
		return Result{}, err
	}
	log.Debug("upload state", slog.String("state", string(StatePersisted)))

	size := max(req.File.Size, int64(len(src)))
	if s.recorder != nil {
		rec := Record{
			BaseName: base,
			OwnerID:  req.UserID,
			Filename: req.File.Filename,
			MimeType: req.File.MimeType,
			Size:     size,
			Width:    meta.Width,
			Height:   meta.Height,
		}
		if err := s.recorder.Record(writeCtx, rec); err != nil {
			log.Warn("record upload failed", slog.Any("error", err))
		}
	}

	res := Result{
		BaseName:     base,
		Filename:     storage.FileName(base, storage.Optimized),
		MimeType:     req.File.MimeType,
		Size:         size,
		OriginalURL:  s.URL(storage.FileName(base, storage.Original)),
		ThumbnailURL: s.URL(storage.FileName(base, storage.Thumbnail)),
		OptimizedURL: s.URL(storage.FileName(base, storage.Optimized)),
		Metadata: Metadata{
			Width:  meta.Width,
			Height: meta.Height,
			Size:   size,
			Format: meta.Format,
		},
	}
	log.Info("upload state", slog.String("state", string(StateResponded)), slog.Int64("size", size))
	return res, nil
}

// writeVariants runs one transform-and-write pipeline per variant and waits for all of them.
func (s *Service) writeVariants(ctx context.Context, base string, src []byte, meta transcode.Metadata) error {
	var g errgroup.Group
	var mu sync.Mutex
	written := make([]string, 0, len(variantSpecs))

	for _, v := range storage.Variants() {
		v := v // per-iteration copy; go.mod targets go1.21, which predates per-iteration loop variables
		spec := variantSpecs[v]
		g.Go(func() error {
			out, err := s.tc.Transform(src, meta, spec)
			if err != nil {
				return fmt.Errorf("%s variant: %w", v, err)
			}
			p, err := s.store.Write(ctx, base, v, out.Data)
			if err != nil {
				return fmt.Errorf("%s variant: %w", v, err)
			}
			mu.Lock()
			written = append(written, p)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Debug("variants written", slog.String("base", base), slog.Any("paths", written))
	return nil
}

// URL is the public URL of a stored file.
func (s *Service) URL(name string) string {
	return joinURL(s.baseURL, name)
}

// Delete removes every variant of the upload that imageURL points at. It reports
// false when nothing existed.
func (s *Service) Delete(ctx context.Context, imageURL string) (bool, error) {
	name, err := FileNameFromURL(imageURL)
	if err != nil {
		return false, err
	}
	base, _, ok := storage.ParseFileName(name)
	if !ok {
		return false, nil
	}

	n, err := s.store.Delete(ctx, base)
	for _, v := range storage.Variants() {
		s.cache.Delete(InfoCacheKey(storage.FileName(base, v)))
	}
	if err != nil {
		return n > 0, fmt.Errorf("delete %s: %w", base, err)
	}
	if n > 0 && s.recorder != nil {
		if err := s.recorder.Forget(ctx, base); err != nil {
			s.logger.Warn("forget upload failed", slog.String("base", base), slog.Any("error", err))
		}
	}
	s.logger.Info("upload deleted", slog.String("base", base), slog.Int("files", n))
	return n > 0, nil
}

// Swept drops what the service remembers about a file retention removed. The
// catalog row goes with the original, which is the last variant a reader could
// still resolve the upload by.
func (s *Service) Swept(ctx context.Context, name string) {
	s.cache.Delete(InfoCacheKey(name))

	base, v, ok := storage.ParseFileName(name)
	if !ok || v != storage.Original || s.recorder == nil {
		return
	}
	if err := s.recorder.Forget(ctx, base); err != nil {
		s.logger.Warn("forget swept upload failed", slog.String("base", base), slog.Any("error", err))
	}
}

// InfoCacheKey is the cache key for a file's Info.
func InfoCacheKey(name string) string {
	return "upload:info:" + name
}

// Info reports whether the file imageURL points at exists, with its size and dimensions.
func (s *Service) Info(ctx context.Context, imageURL string) (Info, error) {
	name, err := FileNameFromURL(imageURL)
	if err != nil {
		return Info{}, err
	}
	key := InfoCacheKey(name)
	if v, ok := s.cache.Get(key); ok {
		if info, ok := v.(Info); ok {
			return info, nil
		}
	}

	meta, err := s.store.ReadMetadata(ctx, name)
	if err != nil {
		return Info{}, fmt.Errorf("read metadata: %w", err)
	}
	if !meta.Exists {
		return Info{Exists: false, Filename: name}, nil
	}
	info := Info{
		Exists:     true,
		URL:        s.URL(name),
		Filename:   name,
		Size:       meta.Size,
		Width:      meta.Width,
		Height:     meta.Height,
		Format:     meta.Format,
		ModifiedAt: meta.ModTime,
	}
	s.cache.Set(key, info, s.cacheTTL)
	return info, nil
}

// Stats aggregates count and size over every stored file.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	files, err := s.store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list assets: %w", err)
	}
	var st Stats
	for _, f := range files {
		st.TotalFiles++
		st.TotalSize += f.Size
		if _, v, ok := storage.ParseFileName(f.Name); ok && v == storage.Original {
			st.Uploads++
		}
	}
	if st.TotalFiles > 0 {
		st.AverageSize = st.TotalSize / int64(st.TotalFiles)
	}
	return st, nil
}

// Cleanup deletes files older than olderThanDays and returns how many were removed.
func (s *Service) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	return s.sweeper.Run(ctx, olderThanDays)
}
