package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/Lllllllleong/documentrouting/internal/services"
)

var (
	classifierInstance *services.ClassifierFunction
	once               sync.Once
	initErr            error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleClassifyDocument", handleClassifyDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func handleClassifyDocument(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		classifierInstance, initErr = services.NewClassifierFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Classifier initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := classifierInstance.Process(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidRequest):
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		case errors.Is(err, models.ErrDocumentNotFound), errors.Is(err, models.ErrObjectNotFound):
			http.Error(w, "Not Found: "+err.Error(), http.StatusNotFound)
		default:
			slog.Error("Classification failed", "documentId", req.DocumentID, "error", err)
			http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
