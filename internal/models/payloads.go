package models

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// These structs define the event and HTTP payloads exchanged with the
// storage trigger, the OCR completion topic and the classify function.

// JobStatus is the closed set of OCR job states reported by the engine and the queue.
type JobStatus string

const (
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobFailed     JobStatus = "FAILED"
	JobInProgress JobStatus = "IN_PROGRESS"
)

// ParseJobStatus rejects anything outside the closed set.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case JobSucceeded:
		return JobSucceeded, nil
	case JobFailed:
		return JobFailed, nil
	case JobInProgress:
		return JobInProgress, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// JobResult is what the engine reports when polled.
type JobResult struct {
	Status JobStatus
	Blocks []Block
}

// CompletionMessage is the validated form of an OCR completion notification.
type CompletionMessage struct {
	JobID  string
	Status JobStatus
}

type rawCompletionMessage struct {
	JobID  string `json:"JobId"`
	Status string `json:"Status"`
}

// ParseCompletionMessage validates a queue payload. Every failure wraps
// ErrMalformedMessage so callers can skip the message instead of retrying.
func ParseCompletionMessage(data []byte) (CompletionMessage, error) {
	var raw rawCompletionMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return CompletionMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if strings.TrimSpace(raw.JobID) == "" {
		return CompletionMessage{}, fmt.Errorf("%w: missing JobId", ErrMalformedMessage)
	}
	status, err := ParseJobStatus(raw.Status)
	if err != nil {
		return CompletionMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return CompletionMessage{JobID: raw.JobID, Status: status}, nil
}

// GCSEvent is the data of a storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket   string            `json:"bucket"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UploadEvent resolves the document the object belongs to: the documentId
// metadata set by the uploader, or else the object's base name without extension.
func (e GCSEvent) UploadEvent() UploadEvent {
	id := strings.TrimSpace(e.Metadata["documentId"])
	if id == "" {
		base := path.Base(e.Name)
		id = strings.TrimSuffix(base, path.Ext(base))
	}
	return UploadEvent{DocumentID: id, Bucket: e.Bucket, Key: e.Name}
}

// PubSubEnvelope is the data of a Pub/Sub message-published CloudEvent.
// Message.Data arrives base64 encoded and is decoded by encoding/json.
type PubSubEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// UploadEvent asks the orchestrator to submit a stored document for OCR.
type UploadEvent struct {
	DocumentID string
	Bucket     string
	Key        string
}

// ClassificationResult is produced per classify call and never persisted here.
// MatchedPageIndex is the zero-based index of the winning page in the document.
type ClassificationResult struct {
	MatchedTemplateID string `json:"matchedTemplateId"`
	MatchedPageIndex  int    `json:"matchedPageIndex"`
}

// ClassifyRequest is the input for the document-classifier function.
// Either DocumentID or SourceKey must be set.
type ClassifyRequest struct {
	DocumentID string `json:"documentId,omitempty"`
	SourceKey  string `json:"sourceKey,omitempty"`
	PageCount  int    `json:"pageCount,omitempty"`
	Analyze    bool   `json:"analyze,omitempty"`
}

// ClassifyResponse is the output of the document-classifier function.
type ClassifyResponse struct {
	Status            string  `json:"status"`
	MatchedTemplateID string  `json:"matchedTemplateId,omitempty"`
	MatchedPageIndex  *int    `json:"matchedPageIndex,omitempty"`
	Blocks            []Block `json:"blocks,omitempty"`
}
