package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/documentrouting/internal/models"
)

// --- Layout Model Prompts ---
const LayoutSystemPrompt = "You are an optical character recognition engine for scanned paper forms. You return the text and layout of a page image as a JSON array of blocks."
const LayoutUserPrompt = `Extract every line of text from the provided page image.

Return a JSON array. Each element describes one line and has exactly these keys:
- "blockType": always "LINE".
- "text": the recognized text of the line.
- "confidence": your confidence between 0 and 100.
- "geometry": an object with "left", "top", "width" and "height", each a ratio of the page width or height between 0 and 1.

Order the lines from top to bottom, then left to right. Do not include any text before or after the JSON array.`

// VertexClient holds the pre-configured generative model used for
// synchronous page analysis.
type VertexClient struct {
	LayoutModel *genai.GenerativeModel
	baseClient  *genai.Client
}

// NewVertexClient creates a new client holding the layout model.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	layoutModel := baseClient.GenerativeModel("gemini-1.5-pro")
	layoutModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(LayoutSystemPrompt)},
	}
	layoutModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		LayoutModel: layoutModel,
		baseClient:  baseClient,
	}, nil
}

// AnalyzeImage runs the layout model on a PNG page image.
func (c *VertexClient) AnalyzeImage(ctx context.Context, png []byte) ([]models.Block, error) {
	resp, err := c.LayoutModel.GenerateContent(ctx, genai.ImageData("png", png), genai.Text(LayoutUserPrompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate layout from gemini: %w", err)
	}
	jsonString := extractJSONContent(resp)
	if jsonString == "" {
		return nil, fmt.Errorf("gemini returned an empty response instead of JSON")
	}
	var blocks []models.Block
	if err := json.Unmarshal([]byte(jsonString), &blocks); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from model: %w", err)
	}
	for i := range blocks {
		if blocks[i].Page == 0 {
			blocks[i].Page = 1
		}
	}
	return blocks, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// extractJSONContent gets the raw text content from the model response.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	// Clean potential markdown fences just in case
	cleanJSON := strings.TrimSpace(sb.String())
	cleanJSON = strings.TrimPrefix(cleanJSON, "```json")
	cleanJSON = strings.TrimSuffix(cleanJSON, "```")
	return strings.TrimSpace(cleanJSON)
}
