package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/documentrouting/internal/models"
)

// OCREngine runs asynchronous OCR jobs as Cloud Workflows executions; the
// execution name is the job id. The workflow publishes a completion message
// when it finishes and leaves {"blocks": [...]} as its result. Synchronous
// analysis goes to the Vertex layout model.
type OCREngine struct {
	executionsClient *executions.Client
	vertexClient     *VertexClient
	parent           string
}

// NewOCREngine targets projects/{project}/locations/{location}/workflows/{workflow}.
func NewOCREngine(executionsClient *executions.Client, vertexClient *VertexClient, projectID, location, workflowID string) *OCREngine {
	return &OCREngine{
		executionsClient: executionsClient,
		vertexClient:     vertexClient,
		parent:           fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

type analysisArgument struct {
	DocumentID string `json:"documentId"`
	GCSUri     string `json:"gcsUri"`
}

type analysisResult struct {
	Blocks []models.Block `json:"blocks"`
}

// StartAnalysis starts one workflow execution for the referenced document.
func (e *OCREngine) StartAnalysis(ctx context.Context, ref models.DocumentRef) (string, error) {
	payloadBytes, err := json.Marshal(analysisArgument{
		DocumentID: ref.DocumentID,
		GCSUri:     fmt.Sprintf("gs://%s/%s", ref.Bucket, ref.Key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := e.executionsClient.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: e.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return exec.GetName(), nil
}

// GetJobStatus maps the execution state onto the job status set and, on
// success, decodes the blocks from the execution result.
func (e *OCREngine) GetJobStatus(ctx context.Context, jobID string) (*models.JobResult, error) {
	exec, err := e.executionsClient.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow execution %s: %w", jobID, err)
	}
	return jobResultFromExecution(exec)
}

func jobResultFromExecution(exec *executionspb.Execution) (*models.JobResult, error) {
	switch exec.GetState() {
	case executionspb.Execution_SUCCEEDED:
		var result analysisResult
		if exec.GetResult() != "" {
			if err := json.Unmarshal([]byte(exec.GetResult()), &result); err != nil {
				return nil, fmt.Errorf("failed to decode result of execution %s: %w", exec.GetName(), err)
			}
		}
		return &models.JobResult{Status: models.JobSucceeded, Blocks: result.Blocks}, nil
	case executionspb.Execution_FAILED, executionspb.Execution_CANCELLED:
		return &models.JobResult{Status: models.JobFailed}, nil
	default:
		// ACTIVE, QUEUED and UNAVAILABLE may still settle.
		return &models.JobResult{Status: models.JobInProgress}, nil
	}
}

// AnalyzeSync extracts blocks from a single PNG page image.
func (e *OCREngine) AnalyzeSync(ctx context.Context, image []byte) ([]models.Block, error) {
	if e.vertexClient == nil {
		return nil, fmt.Errorf("synchronous analysis is not configured")
	}
	return e.vertexClient.AnalyzeImage(ctx, image)
}

func (e *OCREngine) Close() error {
	if err := e.executionsClient.Close(); err != nil {
		return err
	}
	if e.vertexClient != nil {
		return e.vertexClient.Close()
	}
	return nil
}
