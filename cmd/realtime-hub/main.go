// Command realtime-hub serves organization websocket rooms and relays the
// document events written by the pipeline functions to them.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/documentrouting/internal/gcp"
	"github.com/Lllllllleong/documentrouting/internal/metrics"
	"github.com/Lllllllleong/documentrouting/internal/notify"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		slog.Error("PROJECT_ID environment variable must be set")
		os.Exit(1)
	}
	addr := gcp.GetEnv("HUB_ADDR", ":8080")

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		slog.Error("Failed to create firestore client", "error", err)
		os.Exit(1)
	}
	defer firestoreClient.Close()

	hub := notify.NewHub(metrics.Default())
	go hub.Run(ctx)

	go func() {
		if err := notify.RelayEvents(ctx, firestoreClient, hub); err != nil {
			slog.Error("Document event relay stopped", "error", err)
			stop()
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/ws/organizations/{organizationId}", hub.ServeWS).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"realtime-hub"}`))
	}).Methods("GET")

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down server", "error", err)
		}
	}()

	slog.Info("Realtime hub listening.", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Realtime hub failed", "error", err)
		os.Exit(1)
	}
}
