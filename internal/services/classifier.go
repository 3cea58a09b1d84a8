package services

import (
	"context"
	"image"
	"log/slog"

	"github.com/Lllllllleong/documentrouting/internal/matcher"
	"github.com/Lllllllleong/documentrouting/internal/metrics"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"golang.org/x/sync/errgroup"
)

// PageRenderer rasterizes one 1-indexed page of a PDF.
type PageRenderer interface {
	Render(pdf []byte, pageNumber int) (*image.Gray, error)
}

// TemplateImages resolves a template's reference image path to a bitmap.
type TemplateImages interface {
	Get(ctx context.Context, path string) (*image.Gray, error)
}

// Classifier decides which known form template a scanned document is.
type Classifier struct {
	renderer PageRenderer
	images   TemplateImages
	matcher  *matcher.Matcher
	metrics  *metrics.Metrics
	// Bounds CPU-bound page rendering and template decoding per call.
	concurrency int
}

// NewClassifier wires a classifier. A nil matcher uses matcher defaults.
func NewClassifier(renderer PageRenderer, images TemplateImages, m *matcher.Matcher, met *metrics.Metrics) *Classifier {
	if m == nil {
		m = matcher.New()
	}
	return &Classifier{
		renderer:    renderer,
		images:      images,
		matcher:     m,
		metrics:     met,
		concurrency: 4,
	}
}

// Classify returns the matched template, or nil when the document could not
// be rendered or no page resembles any template. Pages that fail to render and
// templates that fail to load are skipped. The only error is ctx's.
func (c *Classifier) Classify(ctx context.Context, doc []byte, pageCount int, templates []models.Template) (*models.ClassificationResult, error) {
	result, _, err := c.ClassifyWithPage(ctx, doc, pageCount, templates)
	return result, err
}

// ClassifyWithPage is Classify that also hands back the winning page bitmap.
func (c *Classifier) ClassifyWithPage(ctx context.Context, doc []byte, pageCount int, templates []models.Template) (*models.ClassificationResult, *image.Gray, error) {
	logCtx := slog.With("pageCount", pageCount, "templateCount", len(templates))
	if pageCount < 1 {
		c.metrics.ObserveClassification("no_pages")
		return nil, nil, nil
	}

	pages, err := c.renderPages(ctx, logCtx, doc, pageCount)
	if err != nil {
		return nil, nil, err
	}
	if len(pages) == 0 {
		logCtx.Warn("No page could be rasterized. Skipping classification.")
		c.metrics.ObserveClassification("no_pages")
		return nil, nil, nil
	}

	refs, refTemplates, err := c.loadReferences(ctx, logCtx, templates)
	if err != nil {
		return nil, nil, err
	}

	var result *models.ClassificationResult
	var winner *image.Gray
	// Later pages override earlier ones.
	for _, p := range pages {
		idx := c.matcher.BestMatch(p.bitmap, refs)
		if idx < 0 {
			continue
		}
		result = &models.ClassificationResult{
			MatchedTemplateID: refTemplates[idx].ID,
			MatchedPageIndex:  p.index,
		}
		winner = p.bitmap
	}

	if result == nil {
		logCtx.Info("Document did not match any template.")
		c.metrics.ObserveClassification("no_match")
		return nil, nil, nil
	}
	logCtx.Info("Document classified.", "templateId", result.MatchedTemplateID, "pageIndex", result.MatchedPageIndex)
	c.metrics.ObserveClassification("matched")
	return result, winner, nil
}

type renderedPage struct {
	index  int
	bitmap *image.Gray
}

func (c *Classifier) renderPages(ctx context.Context, logCtx *slog.Logger, doc []byte, pageCount int) ([]renderedPage, error) {
	bitmaps := make([]*image.Gray, pageCount)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for i := 0; i < pageCount; i++ {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bitmap, err := c.renderer.Render(doc, i+1)
			if err != nil {
				logCtx.Warn("Skipping page that failed to rasterize.", "pageNumber", i+1, "error", err)
				return nil
			}
			bitmaps[i] = bitmap
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	pages := make([]renderedPage, 0, pageCount)
	for i, b := range bitmaps {
		if b != nil {
			pages = append(pages, renderedPage{index: i, bitmap: b})
		}
	}
	return pages, nil
}

func (c *Classifier) loadReferences(ctx context.Context, logCtx *slog.Logger, templates []models.Template) ([]*image.Gray, []models.Template, error) {
	bitmaps := make([]*image.Gray, len(templates))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for i, tpl := range templates {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bitmap, err := c.images.Get(gctx, tpl.ReferenceImagePath)
			if err != nil {
				logCtx.Warn("Skipping template whose image could not be loaded.", "templateId", tpl.ID, "error", err)
				return nil
			}
			bitmaps[i] = bitmap
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	refs := make([]*image.Gray, 0, len(templates))
	kept := make([]models.Template, 0, len(templates))
	for i, b := range bitmaps {
		if b != nil {
			refs = append(refs, b)
			kept = append(kept, templates[i])
		}
	}
	return refs, kept, nil
}
