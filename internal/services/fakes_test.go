package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/Lllllllleong/documentrouting/internal/models"
)

var registryEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// memRegistry enforces the same transition rules as the Firestore registry.
type memRegistry struct {
	mu        sync.Mutex
	docs      map[string]models.Document
	updates   int
	updateErr error

	// beforeUpdate runs under no lock before each Update is applied.
	beforeUpdate func(id string)
}

func newMemRegistry(docs ...models.Document) *memRegistry {
	r := &memRegistry{docs: make(map[string]models.Document)}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *memRegistry) FindByID(_ context.Context, id string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	return &d, nil
}

func (r *memRegistry) FindByJobID(_ context.Context, jobID string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.OcrJobID == jobID {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: job %s", models.ErrDocumentNotFound, jobID)
}

func (r *memRegistry) Update(_ context.Context, id string, patch models.DocumentPatch) (*models.Document, error) {
	if r.beforeUpdate != nil {
		r.beforeUpdate(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	d, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	if err := models.CheckTransition(d, patch); err != nil {
		return nil, err
	}
	patch.Apply(&d)
	r.updates++
	d.UpdatedAt = registryEpoch.Add(time.Duration(r.updates) * time.Second)
	r.docs[id] = d
	return &d, nil
}

func (r *memRegistry) get(id string) models.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[id]
}

func (r *memRegistry) set(d models.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[d.ID] = d
}

func (r *memRegistry) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

// recordingNotifier keeps every delivered update. Failed deliveries are not kept.
type recordingNotifier struct {
	mu      sync.Mutex
	updates []models.StatusUpdate

	// err fails every delivery; failNext fails only that many calls.
	err      error
	failNext int
}

func (n *recordingNotifier) NotifyOrganization(_ context.Context, organizationID string, update models.StatusUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if organizationID == "" {
		return errors.New("empty organization")
	}
	if n.failNext > 0 {
		n.failNext--
		return errors.New("realtime channel down")
	}
	if n.err != nil {
		return n.err
	}
	n.updates = append(n.updates, update)
	return nil
}

func (n *recordingNotifier) statuses() []models.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Status, 0, len(n.updates))
	for _, u := range n.updates {
		out = append(out, u.Status)
	}
	return out
}

// scriptedEngine replays results in order; the last one repeats.
type scriptedEngine struct {
	mu       sync.Mutex
	jobID    string
	startErr error
	results  []models.JobResult
	pollErr  error
	onPoll   func()
	blocks   []models.Block

	starts   []models.DocumentRef
	polls    int
	analyzed [][]byte
}

func (e *scriptedEngine) StartAnalysis(_ context.Context, ref models.DocumentRef) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts = append(e.starts, ref)
	return e.jobID, e.startErr
}

func (e *scriptedEngine) GetJobStatus(_ context.Context, _ string) (*models.JobResult, error) {
	e.mu.Lock()
	e.polls++
	n := e.polls
	onPoll := e.onPoll
	e.mu.Unlock()
	if onPoll != nil {
		onPoll()
	}
	if e.pollErr != nil {
		return nil, e.pollErr
	}
	i := n - 1
	if i >= len(e.results) {
		i = len(e.results) - 1
	}
	res := e.results[i]
	return &res, nil
}

func (e *scriptedEngine) AnalyzeSync(_ context.Context, image []byte) ([]models.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.analyzed = append(e.analyzed, image)
	return e.blocks, nil
}

func (e *scriptedEngine) pollCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.polls
}

type memStore map[string][]byte

func (s memStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrObjectNotFound, key)
	}
	return data, nil
}

type staticTemplates struct {
	templates []models.Template
	err       error
}

func (s staticTemplates) List(context.Context) ([]models.Template, error) {
	return s.templates, s.err
}

// pageRenderer serves pre-rendered pages; missing pages fail to rasterize.
type pageRenderer struct {
	mu    sync.Mutex
	pages map[int]*image.Gray
	calls int
}

func (r *pageRenderer) Render(_ []byte, pageNumber int) (*image.Gray, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	p, ok := r.pages[pageNumber]
	if !ok {
		return nil, fmt.Errorf("%w: page %d", models.ErrRasterizationFailed, pageNumber)
	}
	return p, nil
}

type imageSet map[string]*image.Gray

func (s imageSet) Get(_ context.Context, path string) (*image.Gray, error) {
	img, ok := s[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrTemplateLoadFailed, path)
	}
	return img, nil
}

const (
	testW = 120
	testH = 160
)

// ruledForm has black bars 10px high every 20px.
func ruledForm() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, testW, testH))
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			if (y/10)%2 != 0 {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	return img
}

// columnForm has black bars 10px wide every 20px.
func columnForm() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, testW, testH))
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			if (x/10)%2 != 0 {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	return img
}

func blankPage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, testW, testH))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}
