package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/id/uuid"
	"github.com/JakeFAU/academy-insight-crawler/internal/strategy"
)

type seedAcademy struct {
	Name        string   `mapstructure:"name"`
	Slug        string   `mapstructure:"slug"`
	Keywords    []string `mapstructure:"keywords"`
	SourceTypes []string `mapstructure:"source_types"`
	Active      *bool    `mapstructure:"active"`
}

type seedSource struct {
	Type     string `mapstructure:"type"`
	SourceID string `mapstructure:"source_id"`
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Active   *bool  `mapstructure:"active"`
}

type seedFile struct {
	Academies []seedAcademy `mapstructure:"academies"`
	Sources   []seedSource  `mapstructure:"sources"`
}

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert academies and crawl sources from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			seed, err := loadSeed(file)
			if err != nil {
				return err
			}
			academies, sources, err := applySeed(cmd.Context(), app.Store(), uuid.New(), time.Now(), seed)
			if err != nil {
				return err
			}
			app.Logger().Info("seed applied", zap.Int("academies", academies), zap.Int("sources", sources))
			return printJSON(cmd.OutOrStdout(), map[string]int{"academies": academies, "sources": sources})
		},
	}
	cmd.Flags().StringVar(&file, "file", "seed.yaml", "seed file")
	return cmd
}

// loadSeed reads the seed file on its own viper instance so it never mixes
// with service configuration.
func loadSeed(path string) (seedFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return seedFile{}, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := v.Unmarshal(&seed); err != nil {
		return seedFile{}, fmt.Errorf("decode seed file: %w", err)
	}
	if len(seed.Academies) == 0 && len(seed.Sources) == 0 {
		return seedFile{}, errors.New("seed file has no academies or sources")
	}
	return seed, nil
}

// applySeed upserts academies by slug and sources by type and source id.
func applySeed(ctx context.Context, store crawler.Store, ids crawler.IDGenerator, now time.Time, seed seedFile) (int, int, error) {
	for i, a := range seed.Academies {
		academy, err := a.toAcademy(ids, now)
		if err != nil {
			return 0, 0, fmt.Errorf("academy %d: %w", i, err)
		}
		if _, err := store.UpsertAcademy(ctx, academy); err != nil {
			return 0, 0, fmt.Errorf("upsert academy %q: %w", academy.Slug, err)
		}
	}
	for i, s := range seed.Sources {
		src, err := s.toSource(ids, now)
		if err != nil {
			return len(seed.Academies), 0, fmt.Errorf("source %d: %w", i, err)
		}
		if _, err := store.UpsertSource(ctx, src); err != nil {
			return len(seed.Academies), 0, fmt.Errorf("upsert source %s/%s: %w", src.Type, src.SourceID, err)
		}
	}
	return len(seed.Academies), len(seed.Sources), nil
}

func (a seedAcademy) toAcademy(ids crawler.IDGenerator, now time.Time) (crawler.Academy, error) {
	name := strings.TrimSpace(a.Name)
	slug := strings.TrimSpace(a.Slug)
	if name == "" || slug == "" {
		return crawler.Academy{}, errors.New("name and slug are required")
	}
	keywords := a.Keywords
	if len(keywords) == 0 {
		keywords = []string{name}
	}
	types := make([]crawler.SourceType, 0, len(a.SourceTypes))
	for _, raw := range a.SourceTypes {
		t := crawler.SourceType(raw)
		if !t.Valid() {
			return crawler.Academy{}, fmt.Errorf("%w: %q", strategy.ErrUnknownSourceType, raw)
		}
		types = append(types, t)
	}
	id, err := ids.NewID()
	if err != nil {
		return crawler.Academy{}, fmt.Errorf("generate id: %w", err)
	}
	return crawler.Academy{
		ID:          id,
		Name:        name,
		Slug:        slug,
		Keywords:    keywords,
		SourceTypes: types,
		Active:      a.Active == nil || *a.Active,
		CreatedAt:   now,
	}, nil
}

func (s seedSource) toSource(ids crawler.IDGenerator, now time.Time) (crawler.CrawlSource, error) {
	t := crawler.SourceType(s.Type)
	if !t.Valid() {
		return crawler.CrawlSource{}, fmt.Errorf("%w: %q", strategy.ErrUnknownSourceType, s.Type)
	}
	src := crawler.CrawlSource{
		Type:      t,
		SourceID:  strings.TrimSpace(s.SourceID),
		Name:      strings.TrimSpace(s.Name),
		URL:       strings.TrimSpace(s.URL),
		Active:    s.Active == nil || *s.Active,
		UpdatedAt: now,
	}
	if src.SourceID == "" {
		switch {
		case t.IsCafe():
			src.SourceID = strategy.CafeIDFromURL(src.URL)
		case t == crawler.SourceDCInside:
			src.SourceID = strategy.GalleryID(src)
		}
	}
	if src.SourceID == "" || src.URL == "" {
		return crawler.CrawlSource{}, errors.New("url and a derivable source_id are required")
	}
	if src.Name == "" {
		src.Name = src.SourceID
	}
	id, err := ids.NewID()
	if err != nil {
		return crawler.CrawlSource{}, fmt.Errorf("generate id: %w", err)
	}
	src.ID = id
	return src, nil
}
