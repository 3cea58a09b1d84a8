package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckTransition(t *testing.T) {
	blocks := &OcrData{JobID: "job-1", Blocks: []Block{{BlockType: "LINE", Text: "Invoice"}}}

	tests := []struct {
		name    string
		current Document
		patch   DocumentPatch
		wantErr error
	}{
		{
			name:    "patch without status is always allowed",
			current: Document{Status: StatusProcessedOCR, OcrJobID: "job-1", OcrData: blocks},
			patch:   DocumentPatch{PageCount: Ptr(3)},
		},
		{
			name:    "uploaded to sending",
			current: Document{Status: StatusUploaded},
			patch:   DocumentPatch{Status: Ptr(StatusSendingToOCR)},
		},
		{
			name:    "processing needs a job id",
			current: Document{Status: StatusSendingToOCR},
			patch:   DocumentPatch{Status: Ptr(StatusProcessingOCR)},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "processing with job id",
			current: Document{Status: StatusSendingToOCR},
			patch:   DocumentPatch{Status: Ptr(StatusProcessingOCR), OcrJobID: Ptr("job-1")},
		},
		{
			name:    "processed needs data",
			current: Document{Status: StatusProcessingOCR, OcrJobID: "job-1"},
			patch:   DocumentPatch{Status: Ptr(StatusProcessedOCR)},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "processed with empty data",
			current: Document{Status: StatusProcessingOCR, OcrJobID: "job-1"},
			patch:   DocumentPatch{Status: Ptr(StatusProcessedOCR), OcrData: &OcrData{JobID: "job-1"}},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "processed with data",
			current: Document{Status: StatusProcessingOCR, OcrJobID: "job-1"},
			patch:   DocumentPatch{Status: Ptr(StatusProcessedOCR), OcrData: blocks},
		},
		{
			name:    "processed cannot regress to error for the same job",
			current: Document{Status: StatusProcessedOCR, OcrJobID: "job-1", OcrData: blocks},
			patch:   DocumentPatch{Status: Ptr(StatusErrorOCR)},
			wantErr: ErrTerminalStatus,
		},
		{
			name:    "error cannot move to processed for the same job",
			current: Document{Status: StatusErrorOCR, OcrJobID: "job-1"},
			patch:   DocumentPatch{Status: Ptr(StatusProcessedOCR), OcrData: blocks, OcrJobID: Ptr("job-1")},
			wantErr: ErrTerminalStatus,
		},
		{
			name:    "a new job id does not reopen a terminal status",
			current: Document{Status: StatusErrorOCR, OcrJobID: "job-1"},
			patch:   DocumentPatch{Status: Ptr(StatusProcessingOCR), OcrJobID: Ptr("job-2")},
			wantErr: ErrTerminalStatus,
		},
		{
			name:    "interrupted submission may be resumed",
			current: Document{Status: StatusSendingToOCR},
			patch:   DocumentPatch{Status: Ptr(StatusSendingToOCR)},
		},
		{
			name:    "submitted document cannot go back to sending",
			current: Document{Status: StatusProcessingOCR, OcrJobID: "job-1"},
			patch:   DocumentPatch{Status: Ptr(StatusSendingToOCR)},
			wantErr: ErrStaleTransition,
		},
		{
			name:    "processing only from sending",
			current: Document{Status: StatusProcessingOCR, OcrJobID: "job-1"},
			patch:   DocumentPatch{Status: Ptr(StatusProcessingOCR), OcrJobID: Ptr("job-2")},
			wantErr: ErrStaleTransition,
		},
		{
			name:    "processed only from processing",
			current: Document{Status: StatusSendingToOCR},
			patch:   DocumentPatch{Status: Ptr(StatusProcessedOCR), OcrData: blocks},
			wantErr: ErrStaleTransition,
		},
		{
			name:    "error from sending",
			current: Document{Status: StatusSendingToOCR},
			patch:   DocumentPatch{Status: Ptr(StatusErrorOCR), ErrorDetails: Ptr("rejected")},
		},
		{
			name:    "nothing moves back to uploaded",
			current: Document{Status: StatusSendingToOCR},
			patch:   DocumentPatch{Status: Ptr(StatusUploaded)},
			wantErr: ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.current, tt.patch)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPatchApplyLeavesUnsetFields(t *testing.T) {
	doc := Document{ID: "doc-1", OrganizationID: "org-1", Status: StatusUploaded, PageCount: 2}

	DocumentPatch{Status: Ptr(StatusErrorOCR), ErrorDetails: Ptr("boom")}.Apply(&doc)

	assert.Equal(t, StatusErrorOCR, doc.Status)
	assert.Equal(t, "boom", doc.ErrorDetails)
	assert.Equal(t, 2, doc.PageCount)
	assert.Equal(t, "org-1", doc.OrganizationID)
	assert.Empty(t, doc.OcrJobID)

	DocumentPatch{SourceKey: Ptr("uploads/doc-1.pdf")}.Apply(&doc)
	assert.Equal(t, "uploads/doc-1.pdf", doc.SourceKey)
	assert.Equal(t, StatusErrorOCR, doc.Status)
}

func TestEffectivePageCount(t *testing.T) {
	assert.Equal(t, 1, (&Document{}).EffectivePageCount())
	assert.Equal(t, 1, (&Document{PageCount: -2}).EffectivePageCount())
	assert.Equal(t, 4, (&Document{PageCount: 4}).EffectivePageCount())
}
