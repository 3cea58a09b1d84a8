package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/Lllllllleong/documentrouting/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	orchestrator *services.Orchestrator
	once         sync.Once
	initErr      error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Triggered by object finalize events on the uploads bucket.
	functions.CloudEvent("SubmitDocument", submitDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func submitDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		orchestrator, initErr = services.NewOCRPipeline(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside the orchestrator. Returning one
	// marks the invocation as failed so the event is redelivered.
	return orchestrator.HandleUploadEvent(ctx, gcsEvent.UploadEvent())
}
