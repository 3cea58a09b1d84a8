package gcp

import (
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPatchUpdatesWritesOnlySetFields(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	updates := patchUpdates(models.DocumentPatch{
		Status:    models.Ptr(models.StatusSendingToOCR),
		SourceKey: models.Ptr("uploads/doc-1.pdf"),
	}, now)

	assert.Equal(t, []firestore.Update{
		{Path: "updatedAt", Value: now},
		{Path: "status", Value: "sending_to_ocr"},
		{Path: "sourceKey", Value: "uploads/doc-1.pdf"},
	}, updates)
}
