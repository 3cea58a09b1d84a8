package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/documentrouting/internal/gcp"
	"github.com/Lllllllleong/documentrouting/internal/matcher"
	"github.com/Lllllllleong/documentrouting/internal/metrics"
	"github.com/Lllllllleong/documentrouting/internal/notify"
	"github.com/Lllllllleong/documentrouting/internal/raster"
	"github.com/Lllllllleong/documentrouting/internal/templates"
)

// PipelineConfig holds the environment shared by the pipeline functions.
type PipelineConfig struct {
	ProjectID               string
	UploadsBucket           string
	TemplatesBucket         string
	TemplateCachePrefix     string
	DocumentsCollection     string
	TemplatesCollection     string
	OrganizationsCollection string
	WorkflowLocation        string
	WorkflowID              string
	VertexAIRegion          string
	PollInterval            time.Duration
	MaxPollAttempts         int
}

// loadConfig loads and validates all necessary environment variables.
func loadConfig() (*PipelineConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	uploadsBucket := gcp.GetEnv("UPLOADS_BUCKET", "")
	if uploadsBucket == "" {
		return nil, fmt.Errorf("UPLOADS_BUCKET environment variable must be set")
	}
	maxPollAttempts, err := strconv.Atoi(gcp.GetEnv("OCR_MAX_POLL_ATTEMPTS", "60"))
	if err != nil || maxPollAttempts < 1 {
		return nil, fmt.Errorf("OCR_MAX_POLL_ATTEMPTS must be a positive integer")
	}

	return &PipelineConfig{
		ProjectID:               projectID,
		UploadsBucket:           uploadsBucket,
		TemplatesBucket:         gcp.GetEnv("TEMPLATES_BUCKET", uploadsBucket),
		TemplateCachePrefix:     gcp.GetEnv("TEMPLATE_CACHE_PREFIX", ""),
		DocumentsCollection:     gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		TemplatesCollection:     gcp.GetEnv("TEMPLATES_COLLECTION", "templates"),
		OrganizationsCollection: gcp.GetEnv("ORGANIZATIONS_COLLECTION", "organizations"),
		WorkflowLocation:        gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:              gcp.GetEnv("WORKFLOW_ID", "ocr-analysis"),
		VertexAIRegion:          gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		PollInterval:            gcp.GetEnvDuration("OCR_POLL_INTERVAL", 5*time.Second),
		MaxPollAttempts:         maxPollAttempts,
	}, nil
}

// clients are the GCP clients one function instance shares.
type clients struct {
	config    *PipelineConfig
	firestore *firestore.Client
	storage   *storage.Client
}

func newClients(ctx context.Context) (*clients, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &clients{config: config, firestore: firestoreClient, storage: storageClient}, nil
}

func (c *clients) classifier(met *metrics.Metrics) *Classifier {
	cache := templates.NewCache(
		gcp.NewObjectStore(c.storage, c.config.TemplatesBucket),
		templates.WithWriteBack(c.config.TemplateCachePrefix),
		templates.WithMetrics(met),
	)
	return NewClassifier(raster.New(), cache, matcher.New(), met)
}

func (c *clients) engine(ctx context.Context) (*gcp.OCREngine, error) {
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, c.config.ProjectID, c.config.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	return gcp.NewOCREngine(executionsClient, vertexClient, c.config.ProjectID, c.config.WorkflowLocation, c.config.WorkflowID), nil
}

// NewOCRPipeline builds the orchestrator used by the submitter and
// completion functions from the environment.
func NewOCRPipeline(ctx context.Context) (*Orchestrator, error) {
	c, err := newClients(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := c.engine(ctx)
	if err != nil {
		return nil, err
	}
	met := metrics.Default()

	return NewOrchestrator(OrchestratorDeps{
		Registry:   gcp.NewDocumentRegistry(c.firestore, c.config.DocumentsCollection),
		Engine:     engine,
		Notifier:   notify.NewFirestoreNotifier(c.firestore, c.config.OrganizationsCollection),
		Store:      gcp.NewObjectStore(c.storage, c.config.UploadsBucket),
		Classifier: c.classifier(met),
		Templates:  gcp.NewTemplateCatalog(c.firestore, c.config.TemplatesCollection),
		Metrics:    met,
	}, OrchestratorConfig{
		Bucket:          c.config.UploadsBucket,
		PollInterval:    c.config.PollInterval,
		MaxPollAttempts: c.config.MaxPollAttempts,
	}), nil
}

// NewClassifierFunction builds the classify function from the environment.
func NewClassifierFunction(ctx context.Context) (*ClassifierFunction, error) {
	c, err := newClients(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := c.engine(ctx)
	if err != nil {
		return nil, err
	}
	return NewClassifierFunctionWith(
		gcp.NewDocumentRegistry(c.firestore, c.config.DocumentsCollection),
		gcp.NewObjectStore(c.storage, c.config.UploadsBucket),
		gcp.NewTemplateCatalog(c.firestore, c.config.TemplatesCollection),
		c.classifier(metrics.Default()),
		engine,
	), nil
}
