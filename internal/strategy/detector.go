package strategy

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

// galleryPaths are tried in order; the first answering 200 wins.
var galleryPaths = []string{"mini/board", "mgallery/board", "board"}

// DetectOutcome reports what path detection did to a source.
type DetectOutcome string

const (
	// DetectUnchanged means the stored URL already answers.
	DetectUnchanged DetectOutcome = "unchanged"
	// DetectCorrected means the board path was rewritten.
	DetectCorrected DetectOutcome = "corrected"
	// DetectRemapped means the gallery moved to an alternate identifier.
	DetectRemapped DetectOutcome = "remapped"
	// DetectDeactivated means no candidate answered and the source was disabled.
	DetectDeactivated DetectOutcome = "deactivated"
)

// Detection is the result for one source.
type Detection struct {
	Source  crawler.CrawlSource `json:"source"`
	Outcome DetectOutcome       `json:"outcome"`
}

// DetectorConfig configures gallery path detection.
type DetectorConfig struct {
	BaseURL string
	// AltIDs maps retired gallery identifiers to their replacements.
	AltIDs map[string]string
}

// Detector finds the board path each gallery source answers on and persists it.
type Detector struct {
	cfg     DetectorConfig
	fetcher crawler.Fetcher
	limiter crawler.Limiter
	sources crawler.SourceStore
	clock   crawler.Clock
	logger  *zap.Logger
}

// NewDetector builds a Detector.
func NewDetector(
	cfg DetectorConfig,
	fetcher crawler.Fetcher,
	limiter crawler.Limiter,
	sources crawler.SourceStore,
	clock crawler.Clock,
	logger *zap.Logger,
) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		sources: sources,
		clock:   clock,
		logger:  logger.Named("strategy.detector"),
	}
}

// DetectAll runs Detect for every source in order and stops on a store error.
func (d *Detector) DetectAll(ctx context.Context, srcs []crawler.CrawlSource) ([]Detection, error) {
	out := make([]Detection, 0, len(srcs))
	for _, src := range srcs {
		det, err := d.Detect(ctx, src)
		if err != nil {
			return out, err
		}
		out = append(out, det)
	}
	return out, nil
}

// Detect tries the candidate paths for src, then its alternate identifier,
// and deactivates the source when nothing answers. Changes are persisted.
func (d *Detector) Detect(ctx context.Context, src crawler.CrawlSource) (Detection, error) {
	id := GalleryID(src)
	log := d.logger.With(zap.String("source", src.ID), zap.String("gallery", id))

	det := Detection{Source: src}
	if path, ok := d.locate(ctx, src.ID, id); ok {
		det.Source.URL = ListURL(d.cfg.BaseURL, path, id)
		det.Source.SourceID = id
		det.Outcome = DetectCorrected
		if det.Source.URL == src.URL && src.SourceID == id {
			det.Outcome = DetectUnchanged
			log.Debug("gallery path confirmed", zap.String("path", path))
			return det, nil
		}
	} else if alt, ok := d.cfg.AltIDs[id]; ok && alt != id {
		if path, ok := d.locate(ctx, src.ID, alt); ok {
			det.Source.URL = ListURL(d.cfg.BaseURL, path, alt)
			det.Source.SourceID = alt
			det.Outcome = DetectRemapped
		}
	}
	if err := ctx.Err(); err != nil {
		return det, fmt.Errorf("detect gallery %s: %w", id, err)
	}
	if det.Outcome == "" {
		det.Source.Active = false
		det.Outcome = DetectDeactivated
	}

	det.Source.UpdatedAt = d.clock.Now()
	if err := d.sources.UpdateSource(ctx, det.Source); err != nil {
		return det, fmt.Errorf("update source %s: %w", src.ID, err)
	}
	log.Info("gallery source updated",
		zap.String("outcome", string(det.Outcome)),
		zap.String("url", det.Source.URL),
	)
	return det, nil
}

func (d *Detector) locate(ctx context.Context, key, id string) (string, bool) {
	if id == "" {
		return "", false
	}
	for _, path := range galleryPaths {
		if err := d.limiter.Wait(ctx, key); err != nil {
			return "", false
		}
		u := ListURL(d.cfg.BaseURL, path, id)
		resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{
			URL:     u,
			Headers: webHeaders(),
			Pace:    d.limiter,
			PaceKey: key,
		})
		if err != nil {
			d.logger.Debug("path check failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return path, true
		}
	}
	return "", false
}
