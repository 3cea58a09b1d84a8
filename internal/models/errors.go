package models

import "errors"

var (
	ErrRasterizationFailed = errors.New("rasterization failed")
	ErrTemplateLoadFailed  = errors.New("template load failed")
	ErrOcrSubmissionFailed = errors.New("ocr submission failed")
	ErrOcrJobFailed        = errors.New("ocr job failed")
	ErrOcrPollingTimeout   = errors.New("ocr polling timeout")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrMissingOrganization = errors.New("document has no organization")
	ErrObjectNotFound      = errors.New("object not found")
	ErrMalformedMessage    = errors.New("malformed completion message")
	ErrInvalidRequest      = errors.New("invalid request")

	// ErrTerminalStatus is returned by a registry when an update would move a
	// document out of a terminal status for the same job.
	ErrTerminalStatus = errors.New("document is in a terminal status")
	// ErrStaleTransition is returned when the stored status is no longer the
	// one the update was meant to leave, e.g. a concurrent worker got there first.
	ErrStaleTransition = errors.New("document status changed concurrently")
	// ErrInvalidTransition is returned when an update would break a status invariant.
	ErrInvalidTransition = errors.New("invalid status transition")
)
