package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documentrouting/internal/metrics"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/Lllllllleong/documentrouting/internal/raster"
)

// DocumentRegistry is the document store. Update must enforce
// models.CheckTransition against the stored document.
type DocumentRegistry interface {
	FindByID(ctx context.Context, id string) (*models.Document, error)
	FindByJobID(ctx context.Context, jobID string) (*models.Document, error)
	Update(ctx context.Context, id string, patch models.DocumentPatch) (*models.Document, error)
}

// OCREngine is the external text and layout extraction service.
type OCREngine interface {
	StartAnalysis(ctx context.Context, ref models.DocumentRef) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.JobResult, error)
	AnalyzeSync(ctx context.Context, image []byte) ([]models.Block, error)
}

// Notifier pushes status updates to everyone viewing an organization.
type Notifier interface {
	NotifyOrganization(ctx context.Context, organizationID string, update models.StatusUpdate) error
}

// SourceReader reads stored objects by key.
type SourceReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// TemplateSource lists the known form templates.
type TemplateSource interface {
	List(ctx context.Context) ([]models.Template, error)
}

// DocumentClassifier is satisfied by *Classifier.
type DocumentClassifier interface {
	Classify(ctx context.Context, doc []byte, pageCount int, templates []models.Template) (*models.ClassificationResult, error)
}

// OrchestratorConfig holds the polling budget and default source bucket.
type OrchestratorConfig struct {
	Bucket          string
	PollInterval    time.Duration
	MaxPollAttempts int
}

// OrchestratorDeps are the collaborators of an Orchestrator. Classifier and
// Templates are optional; without them failed jobs are not reclassified.
type OrchestratorDeps struct {
	Registry   DocumentRegistry
	Engine     OCREngine
	Notifier   Notifier
	Store      SourceReader
	Classifier DocumentClassifier
	Templates  TemplateSource
	Metrics    *metrics.Metrics
}

// Orchestrator moves documents through the OCR lifecycle:
// uploaded -> sending_to_ocr -> processing_ocr -> processed_ocr | error_ocr.
// It holds no per-document state, so any number of invocations may run at
// once; duplicate and out-of-order events are absorbed by refusing to leave
// a terminal status.
type Orchestrator struct {
	registry   DocumentRegistry
	engine     OCREngine
	notifier   Notifier
	store      SourceReader
	classifier DocumentClassifier
	templates  TemplateSource
	metrics    *metrics.Metrics
	config     OrchestratorConfig

	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	countPages func(pdf []byte) (int, error)
}

// NewOrchestrator applies defaults of a 5s poll interval and 60 attempts.
func NewOrchestrator(deps OrchestratorDeps, config OrchestratorConfig) *Orchestrator {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxPollAttempts <= 0 {
		config.MaxPollAttempts = 60
	}
	return &Orchestrator{
		registry:   deps.Registry,
		engine:     deps.Engine,
		notifier:   deps.Notifier,
		store:      deps.Store,
		classifier: deps.Classifier,
		templates:  deps.Templates,
		metrics:    deps.Metrics,
		config:     config,
		sleep:      sleepContext,
		now:        time.Now,
		countPages: raster.PageCount,
	}
}

// HandleUploadEvent submits an uploaded document to the OCR engine. A
// rejected submission is recorded as error_ocr and is not an error for the
// caller; it will not be retried.
func (o *Orchestrator) HandleUploadEvent(ctx context.Context, e models.UploadEvent) error {
	logCtx := slog.With("documentId", e.DocumentID, "gcsBucket", e.Bucket, "gcsObject", e.Key)
	logCtx.Info("Processing upload event.")

	doc, err := o.registry.FindByID(ctx, e.DocumentID)
	if err != nil {
		logCtx.Error("Failed to load document", "error", err)
		return fmt.Errorf("failed to load document %s: %w", e.DocumentID, err)
	}
	if err := requireOrganization(logCtx, doc); err != nil {
		return err
	}

	switch {
	case doc.Status == models.StatusUploaded:
	case doc.Status == models.StatusSendingToOCR && doc.OcrJobID == "":
		logCtx.Warn("Resuming interrupted submission.")
	default:
		logCtx.Info("Document already submitted. Repeating last status.", "status", doc.Status)
		return o.renotify(ctx, logCtx, doc)
	}

	ref := models.DocumentRef{DocumentID: doc.ID, Bucket: e.Bucket, Key: doc.SourceKey}
	if ref.Bucket == "" {
		ref.Bucket = o.config.Bucket
	}
	if ref.Key == "" {
		ref.Key = e.Key
	}

	if doc.PageCount < 1 {
		doc = o.discoverPageCount(ctx, logCtx, doc, ref.Key)
	}

	sending := models.DocumentPatch{Status: models.Ptr(models.StatusSendingToOCR)}
	if doc.SourceKey == "" && ref.Key != "" {
		sending.SourceKey = models.Ptr(ref.Key)
	}
	doc, applied, err := o.transition(ctx, logCtx, doc, sending)
	if err != nil || !applied {
		return err
	}

	jobID, err := o.engine.StartAnalysis(ctx, ref)
	if err == nil && jobID == "" {
		err = errors.New("engine returned an empty job id")
	}
	if err != nil {
		submitErr := fmt.Errorf("%w: %v", models.ErrOcrSubmissionFailed, err)
		logCtx.Error("OCR submission failed", "error", err)
		_, _, perr := o.transition(ctx, logCtx, doc, models.DocumentPatch{
			Status:       models.Ptr(models.StatusErrorOCR),
			ErrorDetails: models.Ptr(submitErr.Error()),
		})
		return perr
	}

	logCtx = logCtx.With("jobId", jobID)
	_, _, err = o.transition(ctx, logCtx, doc, models.DocumentPatch{
		Status:   models.Ptr(models.StatusProcessingOCR),
		OcrJobID: models.Ptr(jobID),
	})
	if err != nil {
		return err
	}
	logCtx.Info("Document handed to OCR engine.")
	return nil
}

// HandleCompletionEvent reacts to a queue notification about an OCR job.
// SUCCEEDED and IN_PROGRESS poll the engine until the job settles or the
// polling budget runs out; FAILED records the failure without polling.
// Events for documents already in a terminal status change nothing and only
// repeat the stored status to the organization.
func (o *Orchestrator) HandleCompletionEvent(ctx context.Context, msg models.CompletionMessage) error {
	logCtx := slog.With("jobId", msg.JobID, "messageStatus", msg.Status)
	logCtx.Info("Processing OCR completion event.")

	doc, err := o.registry.FindByJobID(ctx, msg.JobID)
	if err != nil {
		logCtx.Error("Failed to resolve document for job", "error", err)
		if errors.Is(err, models.ErrDocumentNotFound) {
			o.metrics.ObserveCompletion("not_found")
		} else {
			o.metrics.ObserveCompletion("error")
		}
		return fmt.Errorf("failed to resolve document for job %s: %w", msg.JobID, err)
	}
	logCtx = logCtx.With("documentId", doc.ID)
	if err := requireOrganization(logCtx, doc); err != nil {
		o.metrics.ObserveCompletion("error")
		return err
	}
	if doc.Status.IsTerminal() {
		logCtx.Info("Document already in a terminal status. Repeating last status.", "status", doc.Status)
		o.metrics.ObserveCompletion("duplicate")
		return o.renotify(ctx, logCtx, doc)
	}

	if msg.Status == models.JobFailed {
		o.reclassify(ctx, logCtx, doc)
		err := o.failJob(ctx, logCtx, doc, "engine reported the job as FAILED")
		o.observeOutcome(err, "failed")
		return err
	}

	err = o.awaitResult(ctx, logCtx, doc)
	o.observeOutcome(err, "settled")
	return err
}

func (o *Orchestrator) awaitResult(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	for attempt := 1; ; attempt++ {
		o.metrics.ObservePoll()
		res, err := o.engine.GetJobStatus(ctx, doc.OcrJobID)
		if err != nil {
			logCtx.Error("Failed to poll OCR job", "attempt", attempt, "error", err)
			return fmt.Errorf("failed to poll job %s: %w", doc.OcrJobID, err)
		}

		switch res.Status {
		case models.JobSucceeded:
			if len(res.Blocks) == 0 {
				return o.failJob(ctx, logCtx, doc, "job succeeded with an empty result")
			}
			_, _, err := o.transition(ctx, logCtx, doc, models.DocumentPatch{
				Status:  models.Ptr(models.StatusProcessedOCR),
				OcrData: &models.OcrData{JobID: doc.OcrJobID, Blocks: res.Blocks},
			})
			if err == nil {
				logCtx.Info("OCR result stored.", "blockCount", len(res.Blocks), "attempts", attempt)
			}
			return err
		case models.JobFailed:
			return o.failJob(ctx, logCtx, doc, "engine reported the job as FAILED")
		}

		if attempt >= o.config.MaxPollAttempts {
			logCtx.Warn("OCR job still running after polling budget. Leaving status for redelivery.", "attempts", attempt)
			return fmt.Errorf("%w: job %s still in progress after %d attempts", models.ErrOcrPollingTimeout, doc.OcrJobID, attempt)
		}
		if err := o.sleep(ctx, o.config.PollInterval); err != nil {
			logCtx.Warn("Polling cancelled. Leaving status for redelivery.", "attempts", attempt, "error", err)
			return fmt.Errorf("polling job %s cancelled: %w", doc.OcrJobID, err)
		}
	}
}

func (o *Orchestrator) failJob(ctx context.Context, logCtx *slog.Logger, doc *models.Document, reason string) error {
	details := fmt.Sprintf("%v: %s", models.ErrOcrJobFailed, reason)
	logCtx.Warn("OCR job failed.", "reason", reason)
	_, _, err := o.transition(ctx, logCtx, doc, models.DocumentPatch{
		Status:       models.Ptr(models.StatusErrorOCR),
		ErrorDetails: models.Ptr(details),
	})
	return err
}

// transition persists patch and notifies the organization. applied is false
// when the registry refused the patch because another worker already moved
// the document on.
func (o *Orchestrator) transition(ctx context.Context, logCtx *slog.Logger, doc *models.Document, patch models.DocumentPatch) (*models.Document, bool, error) {
	updated, err := o.registry.Update(ctx, doc.ID, patch)
	if errors.Is(err, models.ErrTerminalStatus) || errors.Is(err, models.ErrStaleTransition) {
		logCtx.Info("Document status changed concurrently. Update skipped.", "status", *patch.Status, "reason", err)
		return doc, false, nil
	}
	if err != nil {
		logCtx.Error("Failed to persist status", "status", *patch.Status, "error", err)
		return nil, false, fmt.Errorf("failed to persist status %s for document %s: %w", *patch.Status, doc.ID, err)
	}
	o.metrics.ObserveTransition(string(updated.Status))

	at := updated.UpdatedAt
	if at.IsZero() {
		at = o.now()
	}
	err = o.notifier.NotifyOrganization(ctx, updated.OrganizationID, models.NewStatusUpdate(updated, at))
	o.metrics.ObserveNotification(err)
	if err != nil {
		logCtx.Error("Failed to notify organization", "organizationId", updated.OrganizationID, "error", err)
		return updated, true, fmt.Errorf("failed to notify organization %s: %w", updated.OrganizationID, err)
	}
	return updated, true, nil
}

// renotify repeats the stored status of doc for a redelivered event. The
// payload carries the stored update time so clients see an identical update;
// a previous delivery may have persisted the status but failed to notify.
func (o *Orchestrator) renotify(ctx context.Context, logCtx *slog.Logger, doc *models.Document) error {
	err := o.notifier.NotifyOrganization(ctx, doc.OrganizationID, models.NewStatusUpdate(doc, doc.UpdatedAt))
	o.metrics.ObserveNotification(err)
	if err != nil {
		logCtx.Error("Failed to notify organization", "organizationId", doc.OrganizationID, "error", err)
		return fmt.Errorf("failed to notify organization %s: %w", doc.OrganizationID, err)
	}
	return nil
}

// discoverPageCount counts pages of the stored source and persists the count.
// Any failure falls back to the single-page default.
func (o *Orchestrator) discoverPageCount(ctx context.Context, logCtx *slog.Logger, doc *models.Document, key string) *models.Document {
	data, err := o.store.Get(ctx, key)
	if err != nil {
		logCtx.Warn("Could not read source to count pages. Assuming one page.", "error", err)
		return doc
	}
	count, err := o.countPages(data)
	if err != nil || count < 1 {
		logCtx.Warn("Could not count pages. Assuming one page.", "error", err)
		return doc
	}
	updated, err := o.registry.Update(ctx, doc.ID, models.DocumentPatch{PageCount: models.Ptr(count)})
	if err != nil {
		logCtx.Warn("Failed to persist page count", "pageCount", count, "error", err)
		return doc
	}
	logCtx.Info("Page count discovered.", "pageCount", count)
	return updated
}

// reclassify runs a best-effort classification of a failed document so the
// outcome shows up next to the failure in the logs.
func (o *Orchestrator) reclassify(ctx context.Context, logCtx *slog.Logger, doc *models.Document) {
	if o.classifier == nil || o.templates == nil || doc.SourceKey == "" {
		return
	}
	data, err := o.store.Get(ctx, doc.SourceKey)
	if err != nil {
		logCtx.Warn("Reclassification skipped: source unavailable.", "error", err)
		return
	}
	templates, err := o.templates.List(ctx)
	if err != nil {
		logCtx.Warn("Reclassification skipped: templates unavailable.", "error", err)
		return
	}
	result, err := o.classifier.Classify(ctx, data, doc.EffectivePageCount(), templates)
	switch {
	case err != nil:
		logCtx.Warn("Reclassification failed.", "error", err)
	case result == nil:
		logCtx.Info("Failed document matches no template.")
	default:
		logCtx.Info("Failed document reclassified.", "templateId", result.MatchedTemplateID, "pageIndex", result.MatchedPageIndex)
	}
}

func (o *Orchestrator) observeOutcome(err error, success string) {
	switch {
	case err == nil:
		o.metrics.ObserveCompletion(success)
	case errors.Is(err, models.ErrOcrPollingTimeout):
		o.metrics.ObserveCompletion("polling_timeout")
	default:
		o.metrics.ObserveCompletion("error")
	}
}

func requireOrganization(logCtx *slog.Logger, doc *models.Document) error {
	if doc.OrganizationID != "" {
		return nil
	}
	logCtx.Error("Document has no organization. Aborting.")
	return fmt.Errorf("%w: document %s", models.ErrMissingOrganization, doc.ID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
