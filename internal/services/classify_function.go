package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/Lllllllleong/documentrouting/internal/raster"
)

// DocumentFinder is the read side of DocumentRegistry.
type DocumentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Document, error)
}

// ClassifierFunction serves classification requests for stored documents
// and optionally runs synchronous OCR on the winning page.
type ClassifierFunction struct {
	documents  DocumentFinder
	store      SourceReader
	templates  TemplateSource
	classifier *Classifier
	engine     OCREngine

	countPages func(pdf []byte) (int, error)
}

// NewClassifierFunctionWith wires a ClassifierFunction from its collaborators.
// engine may be nil when analysis is never requested.
func NewClassifierFunctionWith(documents DocumentFinder, store SourceReader, templates TemplateSource, classifier *Classifier, engine OCREngine) *ClassifierFunction {
	return &ClassifierFunction{
		documents:  documents,
		store:      store,
		templates:  templates,
		classifier: classifier,
		engine:     engine,
		countPages: raster.PageCount,
	}
}

// Process classifies the requested document. Requests naming neither a
// document nor a source key wrap models.ErrInvalidRequest.
func (f *ClassifierFunction) Process(ctx context.Context, req *models.ClassifyRequest) (*models.ClassifyResponse, error) {
	logCtx := slog.With("documentId", req.DocumentID, "sourceKey", req.SourceKey, "analyze", req.Analyze)
	logCtx.Info("Processing classification request.")

	if req.DocumentID == "" && req.SourceKey == "" {
		return nil, fmt.Errorf("%w: documentId or sourceKey is required", models.ErrInvalidRequest)
	}

	key, pageCount := req.SourceKey, req.PageCount
	if req.DocumentID != "" {
		doc, err := f.documents.FindByID(ctx, req.DocumentID)
		if err != nil {
			logCtx.Error("Failed to load document", "error", err)
			return nil, err
		}
		if key == "" {
			key = doc.SourceKey
		}
		if pageCount < 1 {
			pageCount = doc.PageCount
		}
	}
	if key == "" {
		return nil, fmt.Errorf("%w: document %s has no source key", models.ErrInvalidRequest, req.DocumentID)
	}

	data, err := f.store.Get(ctx, key)
	if err != nil {
		logCtx.Error("Failed to read document source", "error", err)
		return nil, err
	}
	if pageCount < 1 {
		pageCount, err = f.countPages(data)
		if err != nil {
			logCtx.Warn("Could not count pages. Assuming one page.", "error", err)
			pageCount = 1
		}
	}

	templates, err := f.templates.List(ctx)
	if err != nil {
		logCtx.Error("Failed to list templates", "error", err)
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	result, page, err := f.classifier.ClassifyWithPage(ctx, data, pageCount, templates)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &models.ClassifyResponse{Status: "no_match"}, nil
	}

	res := &models.ClassifyResponse{
		Status:            "matched",
		MatchedTemplateID: result.MatchedTemplateID,
		MatchedPageIndex:  models.Ptr(result.MatchedPageIndex),
	}
	if !req.Analyze {
		return res, nil
	}
	if f.engine == nil {
		return nil, fmt.Errorf("%w: analysis is not available", models.ErrInvalidRequest)
	}

	png, err := raster.EncodePNG(page)
	if err != nil {
		return nil, err
	}
	blocks, err := f.engine.AnalyzeSync(ctx, png)
	if err != nil {
		logCtx.Error("Synchronous analysis failed", "templateId", result.MatchedTemplateID, "error", err)
		return nil, fmt.Errorf("failed to analyze matched page: %w", err)
	}
	res.Blocks = blocks
	logCtx.Info("Matched page analyzed.", "templateId", result.MatchedTemplateID, "blockCount", len(blocks))
	return res, nil
}
