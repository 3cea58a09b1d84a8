package models

import "time"

// Status is the OCR lifecycle state of a Document.
type Status string

const (
	StatusUploaded      Status = "uploaded"
	StatusSendingToOCR  Status = "sending_to_ocr"
	StatusProcessingOCR Status = "processing_ocr"
	StatusProcessedOCR  Status = "processed_ocr"
	StatusErrorOCR      Status = "error_ocr"
)

// IsTerminal reports whether no further transition is allowed for the current job.
func (s Status) IsTerminal() bool {
	return s == StatusProcessedOCR || s == StatusErrorOCR
}

// Document is the registry record for an uploaded scan. The pipeline only
// ever touches the fields declared here.
type Document struct {
	ID             string    `firestore:"-" json:"id"`
	OrganizationID string    `firestore:"organizationId,omitempty" json:"organizationId"`
	SourceKey      string    `firestore:"sourceKey,omitempty" json:"sourceKey,omitempty"`
	PageCount      int       `firestore:"pageCount,omitempty" json:"pageCount"`
	Status         Status    `firestore:"status,omitempty" json:"status"`
	OcrJobID       string    `firestore:"ocrJobId,omitempty" json:"ocrJobId,omitempty"`
	OcrData        *OcrData  `firestore:"ocrData,omitempty" json:"ocrData,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt,omitempty" json:"updatedAt"`
}

// EffectivePageCount defaults unknown page counts to a single page.
func (d *Document) EffectivePageCount() int {
	if d.PageCount < 1 {
		return 1
	}
	return d.PageCount
}

// OcrData is the persisted result of a successful OCR job.
type OcrData struct {
	JobID  string  `firestore:"jobId" json:"jobId"`
	Blocks []Block `firestore:"blocks" json:"blocks"`
}

// Block is one detected layout element (page, line, word, table cell...).
type Block struct {
	BlockType  string      `firestore:"blockType" json:"blockType"`
	Text       string      `firestore:"text,omitempty" json:"text,omitempty"`
	Confidence float64     `firestore:"confidence,omitempty" json:"confidence,omitempty"`
	Page       int         `firestore:"page,omitempty" json:"page,omitempty"`
	Geometry   BoundingBox `firestore:"geometry" json:"geometry"`
}

// BoundingBox is expressed as ratios of the page size.
type BoundingBox struct {
	Left   float64 `firestore:"left" json:"left"`
	Top    float64 `firestore:"top" json:"top"`
	Width  float64 `firestore:"width" json:"width"`
	Height float64 `firestore:"height" json:"height"`
}

// DocumentPatch is a partial update. Nil fields are left untouched.
type DocumentPatch struct {
	Status       *Status
	SourceKey    *string
	OcrJobID     *string
	OcrData      *OcrData
	PageCount    *int
	ErrorDetails *string
}

// Apply copies the set fields of p onto d.
func (p DocumentPatch) Apply(d *Document) {
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.SourceKey != nil {
		d.SourceKey = *p.SourceKey
	}
	if p.OcrJobID != nil {
		d.OcrJobID = *p.OcrJobID
	}
	if p.OcrData != nil {
		d.OcrData = p.OcrData
	}
	if p.PageCount != nil {
		d.PageCount = *p.PageCount
	}
	if p.ErrorDetails != nil {
		d.ErrorDetails = *p.ErrorDetails
	}
}

// CheckTransition validates p against the stored document. It returns
// ErrTerminalStatus when current is terminal, ErrStaleTransition when current
// is not a status the target may be reached from, and ErrInvalidTransition
// when the result would break a status invariant.
func CheckTransition(current Document, p DocumentPatch) error {
	if p.Status == nil {
		return nil
	}
	if current.Status.IsTerminal() {
		return ErrTerminalStatus
	}

	next := current
	p.Apply(&next)
	switch next.Status {
	case StatusSendingToOCR:
		resumable := current.Status == StatusSendingToOCR && current.OcrJobID == ""
		if current.Status != StatusUploaded && !resumable {
			return ErrStaleTransition
		}
	case StatusProcessingOCR:
		if current.Status != StatusSendingToOCR {
			return ErrStaleTransition
		}
		if next.OcrJobID == "" {
			return ErrInvalidTransition
		}
	case StatusProcessedOCR:
		if current.Status != StatusProcessingOCR {
			return ErrStaleTransition
		}
		if next.OcrData == nil || len(next.OcrData.Blocks) == 0 {
			return ErrInvalidTransition
		}
	case StatusErrorOCR:
		if current.Status == StatusUploaded {
			return ErrStaleTransition
		}
	default:
		return ErrInvalidTransition
	}
	return nil
}

// Template is a reference form definition. Read-only to the pipeline.
type Template struct {
	ID                 string `firestore:"-" json:"id"`
	Name               string `firestore:"name,omitempty" json:"name,omitempty"`
	ReferenceImagePath string `firestore:"referenceImagePath" json:"referenceImagePath"`
}

// DocumentRef points the OCR engine at the stored source file.
type DocumentRef struct {
	DocumentID string
	Bucket     string
	Key        string
}

// StatusUpdate is pushed to every member of the owning organization.
type StatusUpdate struct {
	DocumentID     string    `firestore:"documentId" json:"documentId"`
	OrganizationID string    `firestore:"organizationId" json:"organizationId"`
	Status         Status    `firestore:"status" json:"status"`
	OcrJobID       string    `firestore:"ocrJobId,omitempty" json:"ocrJobId,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt" json:"createdAt"`
}

// NewStatusUpdate snapshots the notifiable fields of d.
func NewStatusUpdate(d *Document, at time.Time) StatusUpdate {
	return StatusUpdate{
		DocumentID:     d.ID,
		OrganizationID: d.OrganizationID,
		Status:         d.Status,
		OcrJobID:       d.OcrJobID,
		ErrorDetails:   d.ErrorDetails,
		CreatedAt:      at,
	}
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
