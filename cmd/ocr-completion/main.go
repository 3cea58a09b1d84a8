package main

import (
	"context"
	"encoding/json"
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

	// Triggered by the OCR completion Pub/Sub topic.
	functions.CloudEvent("HandleOcrCompletion", handleOcrCompletion)
}

// main is required by the Go Functions Framework.
func main() {}

func handleOcrCompletion(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		orchestrator, initErr = services.NewOCRPipeline(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	// Malformed messages are acknowledged; redelivery would not fix them.
	var envelope models.PubSubEnvelope
	if err := json.Unmarshal(e.Data(), &envelope); err != nil {
		slog.Error("Dropping undecodable Pub/Sub event", "error", err, "eventId", e.ID())
		return nil
	}
	msg, err := models.ParseCompletionMessage(envelope.Message.Data)
	if err != nil {
		slog.Error("Dropping malformed completion message", "error", err, "messageId", envelope.Message.MessageID, "data", string(envelope.Message.Data))
		return nil
	}

	return orchestrator.HandleCompletionEvent(ctx, msg)
}
