package matcher

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testW = 120
	testH = 160
)

// horizontalForm looks like a ruled form: black bars 10px high every 20px.
func horizontalForm() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, testW, testH))
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			if (y/10)%2 == 0 {
				img.Pix[y*img.Stride+x] = 0
			} else {
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
			if (x/10)%2 == 0 {
				img.Pix[y*img.Stride+x] = 0
			} else {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	return img
}

func blank() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, testW, testH))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestBestMatchEmptyInputs(t *testing.T) {
	m := New()
	assert.Equal(t, -1, m.BestMatch(horizontalForm(), nil))
	assert.Equal(t, -1, m.BestMatch(nil, []*image.Gray{horizontalForm()}))
}

func TestBestMatchIdenticalPage(t *testing.T) {
	m := New()
	refs := []*image.Gray{columnForm(), horizontalForm()}

	assert.Equal(t, 1, m.BestMatch(horizontalForm(), refs))
	assert.Equal(t, 0, m.BestMatch(columnForm(), refs))
}

func TestBestMatchTieGoesToFirstReference(t *testing.T) {
	m := New()
	refs := []*image.Gray{blank(), horizontalForm(), horizontalForm()}

	assert.Equal(t, 1, m.BestMatch(horizontalForm(), refs))
}

func TestBestMatchSkewedScan(t *testing.T) {
	m := New()
	refs := []*image.Gray{columnForm(), horizontalForm()}

	for _, angle := range []float64{3, -3, 5, -5} {
		candidate := Rotate(horizontalForm(), angle)
		assert.Equal(t, 1, m.BestMatch(candidate, refs), "rotation %v", angle)
	}
}

func TestBestMatchRotationOutsideWindow(t *testing.T) {
	m := New()
	refs := []*image.Gray{columnForm(), horizontalForm()}

	candidate := Rotate(horizontalForm(), 20)

	assert.Equal(t, -1, m.BestMatch(candidate, refs))
}

func TestScore(t *testing.T) {
	m := New()

	assert.Zero(t, m.Score(horizontalForm(), horizontalForm()))
	assert.InDelta(t, 0.5, m.Score(horizontalForm(), blank()), 0.01)

	// Slight intensity noise stays under the threshold.
	noisy := horizontalForm()
	for i := range noisy.Pix {
		if noisy.Pix[i] == 0 {
			noisy.Pix[i] = 20
		}
	}
	assert.Zero(t, m.Score(horizontalForm(), noisy))
}

func TestScoreScalesMismatchedReference(t *testing.T) {
	m := New()
	big := image.NewGray(image.Rect(0, 0, testW*2, testH*2))
	for i := range big.Pix {
		big.Pix[i] = 255
	}

	assert.Zero(t, m.Score(blank(), big))
}

func TestRotateFillsCornersWhite(t *testing.T) {
	black := image.NewGray(image.Rect(0, 0, testW, testH))

	rotated := Rotate(black, 20)

	assert.Equal(t, uint8(255), rotated.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), rotated.GrayAt(testW/2, testH/2).Y)
}
