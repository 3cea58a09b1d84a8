package services

import (
	"context"
	"image"
	"testing"

	"github.com/Lllllllleong/documentrouting/internal/metrics"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	templateA = models.Template{ID: "template-a", ReferenceImagePath: "templates/a.png"}
	templateB = models.Template{ID: "template-b", ReferenceImagePath: "templates/b.png"}
)

func referenceImages() imageSet {
	return imageSet{
		templateA.ReferenceImagePath: ruledForm(),
		templateB.ReferenceImagePath: columnForm(),
	}
}

func TestClassifyLastMatchingPageWins(t *testing.T) {
	renderer := &pageRenderer{pages: map[int]*image.Gray{
		1: blankPage(),
		2: columnForm(),
		3: ruledForm(),
	}}
	c := NewClassifier(renderer, referenceImages(), nil, nil)

	result, err := c.Classify(context.Background(), []byte("%PDF"), 3, []models.Template{templateA, templateB})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "template-a", result.MatchedTemplateID)
	assert.Equal(t, 2, result.MatchedPageIndex)
}

func TestClassifySinglePageMatch(t *testing.T) {
	renderer := &pageRenderer{pages: map[int]*image.Gray{1: columnForm()}}
	c := NewClassifier(renderer, referenceImages(), nil, nil)

	result, err := c.Classify(context.Background(), []byte("%PDF"), 1, []models.Template{templateA, templateB})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "template-b", result.MatchedTemplateID)
	assert.Equal(t, 0, result.MatchedPageIndex)
}

func TestClassifyWithoutPages(t *testing.T) {
	renderer := &pageRenderer{pages: map[int]*image.Gray{1: ruledForm()}}
	c := NewClassifier(renderer, referenceImages(), nil, nil)

	result, err := c.Classify(context.Background(), []byte("%PDF"), 0, []models.Template{templateA})

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, renderer.calls)
}

func TestClassifyWhenNoPageRasterizes(t *testing.T) {
	met := metrics.NewMetrics(prometheus.NewRegistry())
	c := NewClassifier(&pageRenderer{}, referenceImages(), nil, met)

	result, err := c.Classify(context.Background(), []byte("garbage"), 4, []models.Template{templateA, templateB})

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.ClassificationsTotal.WithLabelValues("no_pages")))
}

func TestClassifySkipsPagesThatFailToRasterize(t *testing.T) {
	renderer := &pageRenderer{pages: map[int]*image.Gray{2: ruledForm()}}
	c := NewClassifier(renderer, referenceImages(), nil, nil)

	result, err := c.Classify(context.Background(), []byte("%PDF"), 3, []models.Template{templateA, templateB})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "template-a", result.MatchedTemplateID)
	assert.Equal(t, 1, result.MatchedPageIndex)
	assert.Equal(t, 3, renderer.calls)
}

func TestClassifySkipsTemplatesThatFailToLoad(t *testing.T) {
	missing := models.Template{ID: "missing", ReferenceImagePath: "templates/missing.png"}
	renderer := &pageRenderer{pages: map[int]*image.Gray{1: columnForm()}}
	c := NewClassifier(renderer, referenceImages(), nil, nil)

	result, err := c.Classify(context.Background(), []byte("%PDF"), 1, []models.Template{missing, templateB})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "template-b", result.MatchedTemplateID)
}

func TestClassifyNoMatch(t *testing.T) {
	met := metrics.NewMetrics(prometheus.NewRegistry())
	renderer := &pageRenderer{pages: map[int]*image.Gray{1: blankPage(), 2: blankPage()}}
	c := NewClassifier(renderer, referenceImages(), nil, met)

	result, err := c.Classify(context.Background(), []byte("%PDF"), 2, []models.Template{templateA, templateB})

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.ClassificationsTotal.WithLabelValues("no_match")))
}

func TestClassifyHonorsCancellation(t *testing.T) {
	renderer := &pageRenderer{pages: map[int]*image.Gray{1: ruledForm()}}
	c := NewClassifier(renderer, referenceImages(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, []byte("%PDF"), 1, []models.Template{templateA})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyWithPageReturnsWinningBitmap(t *testing.T) {
	winner := ruledForm()
	renderer := &pageRenderer{pages: map[int]*image.Gray{1: columnForm(), 2: winner}}
	c := NewClassifier(renderer, referenceImages(), nil, nil)

	result, page, err := c.ClassifyWithPage(context.Background(), []byte("%PDF"), 2, []models.Template{templateA, templateB})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Same(t, winner, page)
}
