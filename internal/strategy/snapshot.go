package strategy

import (
	"bytes"
	"context"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

// Snapshotter archives fetched listing pages for selector debugging. A nil
// Snapshotter discards everything.
type Snapshotter struct {
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	clock  crawler.Clock
	logger *zap.Logger
}

// NewSnapshotter returns nil when blobs is nil.
func NewSnapshotter(blobs crawler.BlobStore, hasher crawler.Hasher, clock crawler.Clock, logger *zap.Logger) *Snapshotter {
	if blobs == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{blobs: blobs, hasher: hasher, clock: clock, logger: logger.Named("strategy.snapshot")}
}

// Path returns <type>/<sourceID>/<yyyymmdd>/<digest>.html.
func (s *Snapshotter) Path(src crawler.CrawlSource, body []byte) (string, error) {
	digest, err := s.hasher.Hash(body)
	if err != nil {
		return "", err
	}
	return path.Join(string(src.Type), src.SourceID, s.clock.Now().Format("20060102"), digest+".html"), nil
}

// Save writes body and logs failures.
func (s *Snapshotter) Save(ctx context.Context, src crawler.CrawlSource, body []byte) {
	if s == nil || len(body) == 0 {
		return
	}
	p, err := s.Path(src, body)
	if err != nil {
		s.logger.Warn("hash snapshot", zap.Error(err))
		return
	}
	uri, err := s.blobs.PutObject(ctx, p, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("store snapshot", zap.String("path", p), zap.Error(err))
		return
	}
	s.logger.Debug("snapshot stored", zap.String("uri", uri))
}
