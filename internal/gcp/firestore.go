package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// DocumentRegistry stores documents in a Firestore collection.
type DocumentRegistry struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewDocumentRegistry returns a registry over collection.
func NewDocumentRegistry(client *firestore.Client, collection string) *DocumentRegistry {
	return &DocumentRegistry{client: client, collection: collection, now: time.Now}
}

// FindByID loads a document. A missing document wraps models.ErrDocumentNotFound.
func (r *DocumentRegistry) FindByID(ctx context.Context, id string) (*models.Document, error) {
	snap, err := r.client.Collection(r.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return toDocument(snap)
}

// FindByJobID resolves the document an OCR job was started for.
func (r *DocumentRegistry) FindByJobID(ctx context.Context, jobID string) (*models.Document, error) {
	docs, err := r.client.Collection(r.collection).Where("ocrJobId", "==", jobID).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query documents by job id: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no document references job %s", models.ErrDocumentNotFound, jobID)
	}
	return toDocument(docs[0])
}

// Update applies patch inside a transaction after re-checking the status
// invariants against the stored document, so concurrent workers cannot move
// a document out of a terminal status.
func (r *DocumentRegistry) Update(ctx context.Context, id string, patch models.DocumentPatch) (*models.Document, error) {
	ref := r.client.Collection(r.collection).Doc(id)
	var updated *models.Document

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		if err != nil {
			return err
		}
		current, err := toDocument(snap)
		if err != nil {
			return err
		}
		if err := models.CheckTransition(*current, patch); err != nil {
			return err
		}

		now := r.now()
		patch.Apply(current)
		current.UpdatedAt = now
		updated = current
		return tx.Update(ref, patchUpdates(patch, now))
	})
	if err != nil {
		if errors.Is(err, models.ErrTerminalStatus) || errors.Is(err, models.ErrStaleTransition) || errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrDocumentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return updated, nil
}

func patchUpdates(patch models.DocumentPatch, now time.Time) []firestore.Update {
	updates := []firestore.Update{{Path: "updatedAt", Value: now}}
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*patch.Status)})
	}
	if patch.SourceKey != nil {
		updates = append(updates, firestore.Update{Path: "sourceKey", Value: *patch.SourceKey})
	}
	if patch.OcrJobID != nil {
		updates = append(updates, firestore.Update{Path: "ocrJobId", Value: *patch.OcrJobID})
	}
	if patch.OcrData != nil {
		updates = append(updates, firestore.Update{Path: "ocrData", Value: patch.OcrData})
	}
	if patch.PageCount != nil {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: *patch.PageCount})
	}
	if patch.ErrorDetails != nil {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: *patch.ErrorDetails})
	}
	return updates
}

func toDocument(snap *firestore.DocumentSnapshot) (*models.Document, error) {
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	doc.ID = snap.Ref.ID
	return &doc, nil
}

// TemplateCatalog lists templates from a Firestore collection.
type TemplateCatalog struct {
	client     *firestore.Client
	collection string
}

// NewTemplateCatalog returns a catalog over collection.
func NewTemplateCatalog(client *firestore.Client, collection string) *TemplateCatalog {
	return &TemplateCatalog{client: client, collection: collection}
}

// List returns every template with a reference image, ordered by id.
func (c *TemplateCatalog) List(ctx context.Context) ([]models.Template, error) {
	it := c.client.Collection(c.collection).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer it.Stop()

	var templates []models.Template
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list templates: %w", err)
		}
		var tpl models.Template
		if err := snap.DataTo(&tpl); err != nil {
			return nil, fmt.Errorf("failed to decode template %s: %w", snap.Ref.ID, err)
		}
		if tpl.ReferenceImagePath == "" {
			continue
		}
		tpl.ID = snap.Ref.ID
		templates = append(templates, tpl)
	}
	return templates, nil
}
