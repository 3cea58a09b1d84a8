package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvDuration reads a duration such as "5s", falling back on absence or parse errors.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Ignoring malformed duration.", "key", key, "value", value)
		return fallback
	}
	return d
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("Object already exists. Skipping write.", "gcsObject", objectName)
			return nil // Not a failure in an idempotent workflow.
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// ObjectStore reads and writes objects of a single bucket.
type ObjectStore struct {
	bucket     *storage.BucketHandle
	bucketName string
	maxRetries int
	backoff    time.Duration
}

// NewObjectStore returns a store for bucketName.
func NewObjectStore(client *storage.Client, bucketName string) *ObjectStore {
	return &ObjectStore{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		maxRetries: 4,
		backoff:    1 * time.Second,
	}
}

// Bucket is the name of the underlying bucket.
func (s *ObjectStore) Bucket() string {
	return s.bucketName
}

// Get reads the whole object. A missing object wraps models.ErrObjectNotFound.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", models.ErrObjectNotFound, s.bucketName, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.bucketName, key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucketName, key, err)
	}
	return data, nil
}

// Put writes the object if it does not exist yet, retrying transient
// failures with exponential backoff.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte) error {
	backoff := s.backoff
	var lastErr error

	for i := 0; i < s.maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()
			return SaveToGCSAtomically(writeCtx, s.bucket, key, data)
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", key,
			"attempt", i+1,
			"maxRetries", s.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", key, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", key, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", key, lastErr)
}
